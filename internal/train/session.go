package train

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/optim"
	"github.com/born-ml/duet/internal/queue"
	"github.com/born-ml/duet/internal/tensor"
)

// Session is the state of one training run, shared by its producer and
// consumer goroutines and discarded when the run ends.
//
// Ownership:
//   - producer: Sampler and the training rows
//   - consumer: States, Window, History and the iteration counters
//   - shared: Queue, the epoch counter and the first error
type Session struct {
	Features, Targets           *mat.Dense // training rows
	ValidFeatures, ValidTargets *mat.Dense // held-out rows

	BatchSize  int
	EpochLimit int
	Threshold  int // validate once Iterations exceeds this
	Patience   int
	Watermark  int

	Queue   *queue.Queue[*Batch]
	Sampler *Sampler
	States  []*optim.State
	Window  Window
	History *History

	Iterations int // since the last validation
	Total      int

	epoch      atomic.Int64
	stopped    atomic.Bool
	stale      int
	epochStart time.Time

	mu  sync.Mutex
	err error
}

// NewSession splits features and targets (observations as rows) into
// training and validation rows and prepares the sampler and the queue.
func NewSession(features, targets *mat.Dense, opts Options) (*Session, error) {
	rows, _ := features.Dims()
	if tr, _ := targets.Dims(); tr != rows {
		return nil, fmt.Errorf("train: %d feature rows, %d target rows: %w", rows, tr, tensor.ErrShapeMismatch)
	}
	if err := opts.Validate(rows); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))

	s := &Session{
		BatchSize:  opts.BatchSize,
		EpochLimit: opts.Epochs,
		Patience:   opts.Patience,
		Watermark:  opts.watermark(),
		Queue:      queue.New[*Batch](),
		History:    newHistory(),
		epochStart: time.Now(),
	}

	nValid := opts.validationRows(rows)
	if nValid == 0 {
		s.Features, s.Targets = features, targets
		s.ValidFeatures, s.ValidTargets = features, targets
	} else {
		perm := rng.Perm(rows)
		s.ValidFeatures, s.ValidTargets = Rows(features, perm[:nValid]), Rows(targets, perm[:nValid])
		s.Features, s.Targets = Rows(features, perm[nValid:]), Rows(targets, perm[nValid:])
	}

	trainRows, _ := s.Features.Dims()
	var err error
	if s.Sampler, err = NewSampler(trainRows, opts.BatchSize, rng); err != nil {
		return nil, err
	}
	s.Threshold = opts.IterationsPerEpoch
	if s.Threshold == 0 {
		s.Threshold = trainRows / opts.BatchSize
	}
	return s, nil
}

// Epoch returns the number of completed epochs.
func (s *Session) Epoch() int { return int(s.epoch.Load()) }

// Done reports whether the run reached its epoch limit or stopped early.
func (s *Session) Done() bool {
	return s.stopped.Load() || s.Epoch() >= s.EpochLimit
}

// NextBatch samples and gathers the next mini-batch. Producer only.
func (s *Session) NextBatch() (*Batch, error) {
	return Gather(s.Features, s.Targets, s.Sampler.Next())
}

// Step counts one update and reports whether validation is due.
// Consumer only.
func (s *Session) Step() bool {
	s.Iterations++
	s.Total++
	return s.Iterations > s.Threshold
}

// EndEpoch records a validation, advances the epoch counter and resets the
// iteration counter. It reports whether training should stop early.
// Consumer only.
func (s *Session) EndEpoch(validationLoss float64) (EpochResult, bool) {
	snap := s.Window.Snapshot()
	res := EpochResult{
		Epoch:          s.Epoch() + 1,
		Iterations:     s.Iterations,
		TrainLoss:      snap.MeanLoss,
		ValidationLoss: validationLoss,
		Duration:       time.Since(s.epochStart),
		DataWait:       snap.Data,
		Compute:        snap.Compute,
	}
	s.History.Epochs = append(s.History.Epochs, res)

	if validationLoss < s.History.Best {
		s.History.Best, s.History.BestEpoch = validationLoss, res.Epoch
		s.stale = 0
	} else {
		s.stale++
	}
	stop := s.Patience > 0 && s.stale >= s.Patience
	if stop {
		s.History.Stopped = true
		s.stopped.Store(true)
	}

	s.Iterations = 0
	s.epochStart = time.Now()
	s.epoch.Add(1)
	return res, stop
}

// Fail records err as the run's error if none was recorded yet and closes
// the queue so the other goroutine drains out.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Queue.Close()
}

// Err returns the first recorded error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
