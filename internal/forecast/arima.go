// Package forecast fits ARIMA(p,d,0) models by conditional least squares and
// produces short-horizon point forecasts with 95% bounds.
package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Horizon is the number of daily steps forecast per prediction.
const Horizon = 3

// z-score of a two-sided 95% interval
const z95 = 1.959963984540054

var (
	ErrUnsupportedOrder = errors.New("forecast: unsupported model order")
	ErrInsufficientData = errors.New("forecast: not enough observations")
	ErrInvalidSeries    = errors.New("forecast: series contains non-finite values")
	ErrFitFailed        = errors.New("forecast: model fit failed")
)

// Order is the (p, d, q) order of an ARIMA model.
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

// DefaultOrder is the fixed model order used for every prediction.
var DefaultOrder = Order{P: 6, D: 1, Q: 0}

func (o Order) String() string {
	return fmt.Sprintf("ARIMA(%d,%d,%d)", o.P, o.D, o.Q)
}

// MinObservations is the shortest series Fit accepts for the order.
func (o Order) MinObservations() int {
	return 3*(o.P+o.D) + 1
}

func (o Order) validate() error {
	if o.P < 0 || o.D < 0 || o.D > 2 {
		return fmt.Errorf("%w: %s", ErrUnsupportedOrder, o)
	}
	if o.Q != 0 {
		return fmt.Errorf("%w: %s has a moving-average term", ErrUnsupportedOrder, o)
	}
	return nil
}

// Model is a fitted ARIMA(p,d,0) model.
type Model struct {
	Order  Order
	Phi    []float64 // AR coefficients of the differenced series
	Sigma2 float64   // innovation variance
	NObs   int

	levelAR []float64 // coefficients of phi(B)(1-B)^d acting on levels
	tail    []float64 // last p+d observations
}

// Forecast holds point forecasts and their 95% bounds.
type Forecast struct {
	Mean   []float64
	Lower  []float64
	Upper  []float64
	StdErr []float64
}

// Fit estimates an ARIMA model of the given order on series.
func Fit(series []float64, order Order) (*Model, error) {
	if err := order.validate(); err != nil {
		return nil, err
	}
	if len(series) < order.MinObservations() {
		return nil, fmt.Errorf("%w: have %d, need %d for %s", ErrInsufficientData, len(series), order.MinObservations(), order)
	}
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w at index %d", ErrInvalidSeries, i)
		}
	}

	z := series
	for i := 0; i < order.D; i++ {
		z = difference(z)
	}

	phi, err := fitAR(z, order.P)
	if err != nil {
		return nil, err
	}

	k := order.P + order.D
	tail := make([]float64, k)
	copy(tail, series[len(series)-k:])

	return &Model{
		Order:   order,
		Phi:     phi,
		Sigma2:  residualVariance(z, phi),
		NObs:    len(series),
		levelAR: levelCoefficients(phi, order.D),
		tail:    tail,
	}, nil
}

// Forecast returns steps-ahead predictions on the original (level) scale.
func (m *Model) Forecast(steps int) (Forecast, error) {
	if steps <= 0 {
		return Forecast{}, fmt.Errorf("forecast: steps must be positive, got %d", steps)
	}

	k := len(m.levelAR)
	ext := make([]float64, len(m.tail), len(m.tail)+steps)
	copy(ext, m.tail)

	out := Forecast{
		Mean:   make([]float64, steps),
		Lower:  make([]float64, steps),
		Upper:  make([]float64, steps),
		StdErr: make([]float64, steps),
	}

	for h := 0; h < steps; h++ {
		var yhat float64
		for i := 1; i <= k; i++ {
			yhat += m.levelAR[i-1] * ext[len(ext)-i]
		}
		ext = append(ext, yhat)
		out.Mean[h] = yhat
	}

	psi := psiWeights(m.levelAR, steps)
	var cum float64
	for h := 0; h < steps; h++ {
		cum += psi[h] * psi[h]
		se := math.Sqrt(m.Sigma2 * cum)
		out.StdErr[h] = se
		out.Lower[h] = out.Mean[h] - z95*se
		out.Upper[h] = out.Mean[h] + z95*se
	}

	for _, v := range out.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Forecast{}, fmt.Errorf("%w: forecast diverged", ErrFitFailed)
		}
	}

	return out, nil
}

func difference(x []float64) []float64 {
	out := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		out[i-1] = x[i] - x[i-1]
	}
	return out
}

// fitAR regresses z[t] on z[t-1..t-p] without an intercept.
func fitAR(z []float64, p int) ([]float64, error) {
	phi := make([]float64, p)
	if p == 0 {
		return phi, nil
	}

	// A constant series has a rank-one design; pick the exact solution.
	if stat.Variance(z, nil) == 0 {
		if z[0] != 0 {
			phi[0] = 1
		}
		return phi, nil
	}

	rows := len(z) - p
	x := mat.NewDense(rows, p, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := r + p
		y.SetVec(r, z[t])
		for j := 1; j <= p; j++ {
			x.Set(r, j-1, z[t-j])
		}
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFitFailed, err)
	}

	for i := 0; i < p; i++ {
		phi[i] = beta.AtVec(i)
		if math.IsNaN(phi[i]) || math.IsInf(phi[i], 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient", ErrFitFailed)
		}
	}
	return phi, nil
}

func residualVariance(z, phi []float64) float64 {
	p := len(phi)
	n := len(z) - p
	if n <= 0 {
		return 0
	}

	resid := make([]float64, n)
	for t := p; t < len(z); t++ {
		e := z[t]
		for j := 1; j <= p; j++ {
			e -= phi[j-1] * z[t-j]
		}
		resid[t-p] = e * e
	}
	return stat.Mean(resid, nil)
}

// levelCoefficients expands phi(B)(1-B)^d and returns a_1..a_{p+d} such that
// y_t = sum a_i y_{t-i} + e_t.
func levelCoefficients(phi []float64, d int) []float64 {
	poly := make([]float64, len(phi)+1)
	poly[0] = 1
	for i, c := range phi {
		poly[i+1] = -c
	}

	for i := 0; i < d; i++ {
		next := make([]float64, len(poly)+1)
		for j, c := range poly {
			next[j] += c
			next[j+1] -= c
		}
		poly = next
	}

	a := make([]float64, len(poly)-1)
	for i := range a {
		a[i] = -poly[i+1]
	}
	return a
}

func psiWeights(a []float64, n int) []float64 {
	psi := make([]float64, n)
	if n == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < n; j++ {
		for i := 1; i <= j && i <= len(a); i++ {
			psi[j] += a[i-1] * psi[j-i]
		}
	}
	return psi
}
