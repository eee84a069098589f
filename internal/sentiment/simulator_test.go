package sentiment

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulateRange(t *testing.T) {
	sim := NewSimulator(1)
	seen := map[Label]bool{}

	for i := 0; i < 500; i++ {
		r := sim.Simulate("AAPL")
		assert.GreaterOrEqual(t, r.Score, minScore)
		assert.Less(t, r.Score, maxScore)
		assert.Contains(t, labels, r.Label)
		seen[r.Label] = true
	}

	assert.Len(t, seen, 3, "every label should eventually be drawn")
}

func TestSimulateSeeded(t *testing.T) {
	a, b := NewSimulator(99), NewSimulator(99)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Simulate("X"), b.Simulate("X"))
	}
}

func TestTrend(t *testing.T) {
	assert.Equal(t, "Up", Positive.Trend())
	assert.Equal(t, "Down", Negative.Trend())
	assert.Equal(t, "Neutral", Neutral.Trend())
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "Positive (0.86)", Result{Label: Positive, Score: 0.8567}.String())

	pattern := regexp.MustCompile(`^(Positive|Negative|Neutral) \((0\.[7-9]\d|1\.00)\)$`)
	r := NewSimulator(0).Simulate("MSFT")
	assert.Regexp(t, pattern, r.String())
}

func TestSimulateConcurrent(t *testing.T) {
	sim := NewSimulator(5)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sim.Simulate("TSLA")
			}
		}()
	}
	wg.Wait()
}
