package llm

import (
	"math"
	"math/rand/v2"
)

// sampler picks the next token from a row of logits.
type sampler struct {
	temperature float64
	rng         *rand.Rand
}

func newSampler(temperature float64, seed *uint64) *sampler {
	s := &sampler{temperature: temperature}
	if temperature > 0 {
		if seed != nil {
			s.rng = rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
		} else {
			s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}

	return s
}

func (s *sampler) pick(logits []float32) int {
	if s.temperature == 0 {
		return argmax(logits)
	}

	peak := logits[argmax(logits)]
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		p := math.Exp(float64(l-peak) / s.temperature)
		probs[i] = p
		sum += p
	}

	r := s.rng.Float64() * sum
	for i, p := range probs {
		r -= p
		if r < 0 {
			return i
		}
	}

	return len(probs) - 1
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}

	return best
}
