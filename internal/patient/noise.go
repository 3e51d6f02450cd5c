package patient

import (
	"math"
	"math/rand"
)

const (
	sigmaPressure = 0.5
	sigmaFlow     = 1.0
	sigmaVolume   = 5.0
)

// gaussian draws one N(0, sigma^2) sample via the Box-Muller transform.
func gaussian(rng *rand.Rand, sigma float64) float64 {
	u1 := rng.Float64()
	u2 := rng.Float64()
	for u1 == 0 {
		u1 = rng.Float64()
	}
	z0 := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return z0 * sigma
}

// withNoise adds independent Gaussian noise to each channel of a Tick.
func withNoise(rng *rand.Rand, tk Tick) Tick {
	tk.Pressure += gaussian(rng, sigmaPressure)
	tk.Flow += gaussian(rng, sigmaFlow)
	tk.Volume += gaussian(rng, sigmaVolume)
	return tk
}
