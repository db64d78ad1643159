package acoustic

import (
	"math"
	"math/rand"

	"github.com/ieee0824/streamdecode/internal/mathutil"
)

// Gaussian is a single diagonal-covariance component.
type Gaussian struct {
	Mean      []float64 // [dim]
	Variance  []float64 // [dim] diagonal covariance
	LogWeight float64   // log mixture weight

	logNormConst float64
	invVariance  []float64
}

// Precompute refreshes the cached normalisation constant and inverse
// variances. Must be called after Mean, Variance or LogWeight change.
func (g *Gaussian) Precompute() {
	dim := len(g.Mean)
	g.logNormConst = float64(dim)/2.0*math.Log(2*math.Pi) + 0.5*sumLog(g.Variance)
	g.invVariance = make([]float64, dim)
	for i := range g.Variance {
		g.invVariance[i] = 1.0 / g.Variance[i]
	}
}

// LogProb computes log N(x; mean, variance).
func (g *Gaussian) LogProb(x []float64) float64 {
	return -0.5*mahalanobis(x, g.Mean, g.invVariance) - g.logNormConst
}

func sumLog(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += math.Log(x)
	}
	return s
}

// mahalanobis computes sum((x[i]-mean[i])^2 * invVar[i]).
func mahalanobis(x, mean, invVar []float64) float64 {
	maha := 0.0
	for i, xi := range x {
		diff := xi - mean[i]
		maha += diff * diff * invVar[i]
	}
	return maha
}

// GMM is a diagonal-covariance Gaussian mixture.
type GMM struct {
	Components []Gaussian
	Dim        int

	// packed component data for LogProb, built by PrecomputeSoA
	soaMean   []float64 // [k*dim]
	soaInvVar []float64 // [k*dim]
	soaConst  []float64 // [k] logWeight - logNormConst
}

// PrecomputeSoA packs the component parameters contiguously. Call after all
// components are set.
func (g *GMM) PrecomputeSoA() {
	k := len(g.Components)
	dim := g.Dim
	g.soaMean = make([]float64, k*dim)
	g.soaInvVar = make([]float64, k*dim)
	g.soaConst = make([]float64, k)
	for i := range g.Components {
		g.Components[i].Precompute()
		off := i * dim
		copy(g.soaMean[off:off+dim], g.Components[i].Mean)
		copy(g.soaInvVar[off:off+dim], g.Components[i].invVariance)
		g.soaConst[i] = g.Components[i].LogWeight - g.Components[i].logNormConst
	}
}

// NewGMM creates a k-component mixture with random means and unit variances.
func NewGMM(k, dim int) *GMM {
	means := make([][]float64, k)
	variances := make([][]float64, k)
	logWeights := make([]float64, k)
	logW := -math.Log(float64(k))
	for i := 0; i < k; i++ {
		means[i] = make([]float64, dim)
		variances[i] = make([]float64, dim)
		for d := 0; d < dim; d++ {
			means[i][d] = rand.NormFloat64()
			variances[i][d] = 1.0
		}
		logWeights[i] = logW
	}
	return NewGMMWithParams(means, variances, logWeights)
}

// NewGMMWithParams creates a mixture from explicit parameters. The slices
// are copied.
func NewGMMWithParams(means, variances [][]float64, logWeights []float64) *GMM {
	k := len(means)
	dim := len(means[0])
	g := &GMM{
		Components: make([]Gaussian, k),
		Dim:        dim,
	}
	for i := range g.Components {
		g.Components[i] = Gaussian{
			Mean:      append([]float64(nil), means[i]...),
			Variance:  append([]float64(nil), variances[i]...),
			LogWeight: logWeights[i],
		}
	}
	g.PrecomputeSoA()
	return g
}

// LogProb computes log sum_k w_k N(x; μ_k, σ_k).
func (g *GMM) LogProb(x []float64) float64 {
	if g.soaMean == nil {
		logSum := mathutil.LogZero
		for i := range g.Components {
			logSum = mathutil.LogAdd(logSum, g.Components[i].LogWeight+g.Components[i].LogProb(x))
		}
		return logSum
	}
	dim := g.Dim
	logSum := mathutil.LogZero
	for c := range g.Components {
		off := c * dim
		maha := mahalanobis(x, g.soaMean[off:off+dim], g.soaInvVar[off:off+dim])
		logSum = mathutil.LogAdd(logSum, g.soaConst[c]-0.5*maha)
	}
	return logSum
}
