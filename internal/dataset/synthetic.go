package dataset

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Stripes generates a two-class single-channel image set for smoke runs
// without data files. Class 0 images are bright in the left half and
// class 1 images in the right half, with uniform noise of amplitude noise
// everywhere. Classes alternate by row.
func Stripes(n, height, width int, noise float64, seed uint64) *Set {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	features := mat.NewDense(n, height*width, nil)
	targets := mat.NewDense(n, 2, nil)
	for i := range n {
		class := i % 2
		row := features.RawRowView(i)
		for h := range height {
			for w := range width {
				v := rng.Float64() * noise
				if (w < width/2) == (class == 0) {
					v += 1 - noise
				}
				row[h*width+w] = v
			}
		}
		targets.Set(i, class, 1)
	}
	return &Set{Features: features, Targets: targets, Height: height, Width: width, Channels: 1, Classes: 2}
}
