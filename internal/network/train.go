package network

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/optim"
	"github.com/born-ml/duet/internal/tensor"
	"github.com/born-ml/duet/internal/train"
)

// Train fits the network to features and targets (observations as rows;
// targets one-hot) and returns the per-epoch history.
//
// A producer goroutine keeps the session queue filled up to the watermark
// with shuffled mini-batches while a consumer goroutine pops them and runs
// forward, loss gradient, backward and the optimizer update. After more than
// the session threshold of updates the consumer validates on the held-out
// rows and advances the epoch counter. Both stop when the epoch limit is
// reached, early stopping triggers or either side fails; the first error is
// returned together with the history recorded so far.
func (n *Network) Train(features, targets *mat.Dense, opt optim.Optimizer, opts train.Options) (*train.History, error) {
	if _, cols := features.Dims(); cols != n.InputDim() {
		return nil, fmt.Errorf("network: features have %d columns, want %d: %w", cols, n.InputDim(), tensor.ErrShapeMismatch)
	}
	outDim, err := n.OutputDim()
	if err != nil {
		return nil, err
	}
	if _, cols := targets.Dims(); cols != outDim {
		return nil, fmt.Errorf("network: targets have %d columns, want %d: %w", cols, outDim, tensor.ErrShapeMismatch)
	}

	s, err := train.NewSession(features, targets, opts)
	if err != nil {
		return nil, err
	}
	for _, l := range n.layers {
		st := opt.NewState(l.Parameters())
		if err := n.backend.BindState(st); err != nil {
			return nil, err
		}
		s.States = append(s.States, st)
	}
	defer func() {
		for _, st := range s.States {
			st.Release()
		}
	}()
	if err := n.Allocate(s.BatchSize); err != nil {
		return nil, err
	}
	n.setTraining(true)

	trainRows, _ := s.Features.Dims()
	validRows, _ := s.ValidFeatures.Dims()
	n.logger.Info("training started",
		"backend", n.backend.Name(),
		"train_rows", trainRows,
		"validation_rows", validRows,
		"batch_size", s.BatchSize,
		"epochs", s.EpochLimit,
		"iterations_per_epoch", s.Threshold,
		"lr", opt.GetLR(),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n.produce(s)
	}()
	go func() {
		defer wg.Done()
		n.consume(s, opt)
	}()
	wg.Wait()

	if err := s.Err(); err != nil {
		return s.History, err
	}
	n.logger.Info("training finished",
		"epochs", len(s.History.Epochs),
		"best_validation_loss", s.History.Best,
		"best_epoch", s.History.BestEpoch,
		"early_stop", s.History.Stopped,
	)
	return s.History, nil
}

// produce keeps the queue above the watermark until the session is done or
// the queue is closed.
func (n *Network) produce(s *train.Session) {
	for !s.Done() {
		if !s.Queue.WaitBelow(s.Watermark) || s.Done() {
			return
		}
		before := s.Sampler.Reshuffles()
		b, err := s.NextBatch()
		if err != nil {
			s.Fail(fmt.Errorf("network: producer: %w", err))
			return
		}
		if s.Sampler.Reshuffles() != before {
			n.logger.Debug("permutation reshuffled", "epoch", s.Epoch())
		}
		if err := s.Queue.Push(b); err != nil {
			return
		}
	}
}

// consume runs training iterations until the session is done. It closes the
// queue on exit so a producer waiting on the watermark wakes up.
func (n *Network) consume(s *train.Session, opt optim.Optimizer) {
	defer s.Queue.Close()
	for !s.Done() {
		waitStart := time.Now()
		b, ok := s.Queue.Pop()
		if !ok {
			return
		}
		dataTime := time.Since(waitStart)

		start := time.Now()
		loss, err := n.step(s, b, opt)
		if err != nil {
			s.Fail(fmt.Errorf("network: iteration %d: %w", s.Total+1, err))
			return
		}
		s.Window.Record(b.Size(), dataTime, time.Since(start), loss)

		if !s.Step() {
			continue
		}
		validStart := time.Now()
		vloss, err := n.Validate(s)
		if err != nil {
			s.Fail(fmt.Errorf("network: validation: %w", err))
			return
		}
		res, stop := s.EndEpoch(vloss)
		n.logger.Info("epoch complete",
			"epoch", res.Epoch,
			"train_loss", res.TrainLoss,
			"validation_loss", res.ValidationLoss,
			"iterations", res.Iterations,
			"elapsed_ms", res.Duration.Milliseconds(),
			"data_wait_ms", res.DataWait.Milliseconds(),
			"compute_ms", res.Compute.Milliseconds(),
			"validation_ms", time.Since(validStart).Milliseconds(),
		)
		if stop {
			n.logger.Info("early stopping", "epoch", res.Epoch, "patience", s.Patience, "best", s.History.Best)
		}
	}
}

// step runs one training iteration on b and returns its summed loss.
func (n *Network) step(s *train.Session, b *train.Batch, opt optim.Optimizer) (float64, error) {
	if err := n.load(b.Features, b.Targets); err != nil {
		return 0, err
	}
	if err := n.Forward(); err != nil {
		return 0, err
	}
	last := len(n.layers) - 1
	loss, err := n.backend.Loss(n.loss, n.vals[last], n.target)
	if err != nil {
		return 0, err
	}
	if err := n.backend.LossGrad(n.loss, n.grads[last], n.vals[last], n.target); err != nil {
		return 0, err
	}
	if err := n.Backward(); err != nil {
		return 0, err
	}
	return loss, n.Update(opt, s.States, b.Size())
}

// Update applies opt to every parameterized layer with the gradients of the
// last backward pass. states holds one entry per layer.
func (n *Network) Update(opt optim.Optimizer, states []*optim.State, batch int) error {
	if len(states) != len(n.layers) {
		return fmt.Errorf("network: %d optimizer states for %d layers: %w", len(states), len(n.layers), optim.ErrStateMismatch)
	}
	for i, l := range n.layers {
		params := l.Parameters()
		if len(params) == 0 {
			continue
		}
		if err := n.backend.Update(opt, l.Gradients(), params, batch, states[i]); err != nil {
			return fmt.Errorf("network: update layer %d (%v): %w", i, l.Kind(), err)
		}
	}
	return nil
}

// Validate returns the mean loss per observation over the session's
// held-out rows, evaluated in inference mode in chunks of the batch size.
// It fails with tensor.ErrMissingSessionState without a session.
func (n *Network) Validate(s *train.Session) (float64, error) {
	if s == nil || s.ValidFeatures == nil {
		return 0, tensor.ErrMissingSessionState
	}
	n.setTraining(false)
	defer n.setTraining(true)

	rows, _ := s.ValidFeatures.Dims()
	last := len(n.layers) - 1
	var total float64
	for lo := 0; lo < rows; lo += s.BatchSize {
		hi := min(lo+s.BatchSize, rows)
		idx := make([]int, hi-lo)
		for i := range idx {
			idx[i] = lo + i
		}
		b, err := train.Gather(s.ValidFeatures, s.ValidTargets, idx)
		if err != nil {
			return 0, err
		}
		if err := n.load(b.Features, b.Targets); err != nil {
			return 0, err
		}
		if err := n.Forward(); err != nil {
			return 0, err
		}
		loss, err := n.backend.Loss(n.loss, n.vals[last], n.target)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	if rows == 0 {
		return 0, nil
	}
	return total / float64(rows), nil
}
