package xai

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ridgeFit is a weighted ridge regression with an unpenalised intercept.
type ridgeFit struct {
	coef      []float64
	intercept float64
	score     float64 // weighted R^2 on the training data
}

// fitWeightedRidge solves min sum w (y - b - X beta)^2 + alpha |beta|^2 over the
// given columns of X.
func fitWeightedRidge(X [][]float64, cols []int, y, w []float64, alpha float64) (*ridgeFit, error) {
	n, p := len(X), len(cols)
	if n == 0 || p == 0 {
		return nil, fmt.Errorf("ridge needs rows and columns, got %dx%d", n, p)
	}

	wsum := 0.0
	for _, wi := range w {
		wsum += wi
	}
	if wsum <= 0 {
		return nil, fmt.Errorf("sample weights sum to %v", wsum)
	}

	xmean := make([]float64, p)
	ymean := 0.0
	for r := 0; r < n; r++ {
		for j, c := range cols {
			xmean[j] += w[r] * X[r][c]
		}
		ymean += w[r] * y[r]
	}
	for j := range xmean {
		xmean[j] /= wsum
	}
	ymean /= wsum

	Xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		sw := math.Sqrt(w[r])
		for j, c := range cols {
			Xc.Set(r, j, sw*(X[r][c]-xmean[j]))
		}
		yc.SetVec(r, sw*(y[r]-ymean))
	}

	A := mat.NewSymDense(p, nil)
	A.SymOuterK(1, Xc.T())
	for i := 0; i < p; i++ {
		A.SetSym(i, i, A.At(i, i)+alpha)
	}
	var b mat.VecDense
	b.MulVec(Xc.T(), yc)

	var chol mat.Cholesky
	if !chol.Factorize(A) {
		return nil, fmt.Errorf("ridge system is not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &b); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	fit := &ridgeFit{coef: make([]float64, p)}
	fit.intercept = ymean
	for j := 0; j < p; j++ {
		fit.coef[j] = beta.AtVec(j)
		fit.intercept -= fit.coef[j] * xmean[j]
	}

	ssRes, ssTot := 0.0, 0.0
	for r := 0; r < n; r++ {
		pred := fit.intercept
		for j, c := range cols {
			pred += fit.coef[j] * X[r][c]
		}
		ssRes += w[r] * (y[r] - pred) * (y[r] - pred)
		ssTot += w[r] * (y[r] - ymean) * (y[r] - ymean)
	}
	switch {
	case ssTot > 0:
		fit.score = 1 - ssRes/ssTot
	case ssRes == 0:
		fit.score = 1
	}
	return fit, nil
}
