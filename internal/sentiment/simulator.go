// Package sentiment produces a simulated sentiment signal. The label and
// score are drawn at random; no text is analysed.
package sentiment

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	minScore = 0.7
	maxScore = 1.0
)

// Label is a simulated sentiment class.
type Label string

const (
	Positive Label = "Positive"
	Negative Label = "Negative"
	Neutral  Label = "Neutral"
)

var labels = []Label{Positive, Negative, Neutral}

// Trend returns the price direction implied by the label.
func (l Label) Trend() string {
	switch l {
	case Positive:
		return "Up"
	case Negative:
		return "Down"
	default:
		return "Neutral"
	}
}

// Result is one simulated reading.
type Result struct {
	Label Label
	Score float64
}

// String renders the reading as "<Label> (<score>)".
func (r Result) String() string {
	return fmt.Sprintf("%s (%.2f)", r.Label, r.Score)
}

// Trend is shorthand for r.Label.Trend().
func (r Result) Trend() string {
	return r.Label.Trend()
}

// Simulator draws random readings. It is safe for concurrent use.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator returns a simulator seeded with seed, or with the clock when
// seed is zero.
func NewSimulator(seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// Simulate returns a reading for symbol. The symbol does not influence it.
func (s *Simulator) Simulate(symbol string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	label := labels[s.rng.Intn(len(labels))]
	score := minScore + s.rng.Float64()*(maxScore-minScore)
	return Result{Label: label, Score: score}
}
