package l4peaks

import (
	"errors"
	"image"
	"math"

	"github.com/banshee-data/peaks.report/internal/peaks/l1frames"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Gaussian parameter indices.
const (
	pBaseline = iota
	pHeight
	pX0
	pY0
	pSigma
	nParams
)

const (
	lambdaInit  = 1e-3
	lambdaMax   = 1e12
	stepTol     = 1e-9
	minFitSigma = 1e-3
)

// FitResult is the outcome of fitting one candidate.
type FitResult struct {
	X, Y float64
	Fit  Fit
}

// Localize fits a 2D Gaussian around every peak on the raw image and
// returns the peaks whose fit converged inside the window with RSquared at
// least cfg.RSquaredMin, positions replaced by the fitted centre. Failed
// fits are dropped silently; rejected counts them.
//
// dogRadius seeds the initial sigma; it does not affect which pixels are
// fitted.
func Localize(img l1frames.PixelBuffer, peaks []Peak, cfg FitConfig, dogRadius float64) (fitted []Peak, rejected int) {
	fitted = make([]Peak, 0, len(peaks))
	for _, p := range peaks {
		res, ok := FitGaussian(img, p, cfg, dogRadius)
		if !ok {
			rejected++
			continue
		}
		p.X, p.Y = res.X, res.Y
		fit := res.Fit
		p.Fit = &fit
		fitted = append(fitted, p)
	}
	return fitted, rejected
}

// FitGaussian fits baseline + height*exp(-r²/2σ²) to the square window of
// half-width cfg.FitRadius around p. The initial guess depends only on
// the window pixels and p, so repeated fits are bit-identical.
func FitGaussian(img l1frames.PixelBuffer, p Peak, cfg FitConfig, dogRadius float64) (FitResult, bool) {
	cx, cy := int(math.Round(p.X)), int(math.Round(p.Y))
	r := cfg.FitRadius
	win := image.Rect(cx-r, cy-r, cx+r+1, cy+r+1).Intersect(img.Bounds())
	n := win.Dx() * win.Dy()
	if n <= nParams {
		return FitResult{}, false
	}

	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	for y := win.Min.Y; y < win.Max.Y; y++ {
		for x := win.Min.X; x < win.Max.X; x++ {
			xs = append(xs, float64(x))
			ys = append(ys, float64(y))
			zs = append(zs, img.At(x, y))
		}
	}

	params := initialGuess(img, cx, cy, zs, p.Sign, dogRadius, r)
	params, ok := levenbergMarquardt(xs, ys, zs, params, cfg.MaxIterations)
	if !ok {
		return FitResult{}, false
	}
	for _, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FitResult{}, false
		}
	}

	sigma := math.Abs(params[pSigma])
	if sigma < minFitSigma {
		return FitResult{}, false
	}
	if !insideWindow(params[pX0], params[pY0], win) {
		return FitResult{}, false
	}
	if params[pHeight]*float64(p.Sign) <= 0 {
		return FitResult{}, false
	}

	rsq := rSquared(xs, ys, zs, params)
	if math.IsNaN(rsq) || rsq < cfg.RSquaredMin {
		return FitResult{}, false
	}
	return FitResult{
		X: params[pX0],
		Y: params[pY0],
		Fit: Fit{
			Baseline: params[pBaseline],
			Height:   params[pHeight],
			Sigma:    sigma,
			RSquared: rsq,
		},
	}, true
}

// insideWindow reports whether (x, y) lies within the pixels that were
// fitted. win is already clipped to the frame.
func insideWindow(x, y float64, win image.Rectangle) bool {
	return x >= float64(win.Min.X) && x <= float64(win.Max.X-1) &&
		y >= float64(win.Min.Y) && y <= float64(win.Max.Y-1)
}

// initialGuess uses the window extreme opposite the peak sign as
// baseline and the centre pixel for height.
func initialGuess(img l1frames.PixelBuffer, cx, cy int, zs []float64, sign Sign, dogRadius float64, fitRadius int) []float64 {
	baseline := floats.Min(zs)
	if sign == Negative {
		baseline = floats.Max(zs)
	}
	sigma := dogRadius / math.Sqrt2
	if sigma <= 0 {
		sigma = float64(fitRadius) / 2
	}
	return []float64{
		pBaseline: baseline,
		pHeight:   img.At(cx, cy) - baseline,
		pX0:       float64(cx),
		pY0:       float64(cy),
		pSigma:    sigma,
	}
}

func gaussian(x, y float64, params []float64) (value, g float64) {
	dx, dy := x-params[pX0], y-params[pY0]
	s2 := params[pSigma] * params[pSigma]
	g = math.Exp(-(dx*dx + dy*dy) / (2 * s2))
	return params[pBaseline] + params[pHeight]*g, g
}

func sumSquares(xs, ys, zs, params []float64) float64 {
	var ssr float64
	for i := range zs {
		v, _ := gaussian(xs[i], ys[i], params)
		d := zs[i] - v
		ssr += d * d
	}
	return ssr
}

func rSquared(xs, ys, zs, params []float64) float64 {
	mean := floats.Sum(zs) / float64(len(zs))
	var sst float64
	for _, z := range zs {
		sst += (z - mean) * (z - mean)
	}
	if sst == 0 {
		return math.NaN()
	}
	return 1 - sumSquares(xs, ys, zs, params)/sst
}

// levenbergMarquardt minimises the squared residuals of the Gaussian model
// starting from params. It reports false when the iteration cap is hit
// before the step size or the residual settles.
func levenbergMarquardt(xs, ys, zs, params []float64, maxIter int) ([]float64, bool) {
	n := len(zs)
	jac := mat.NewDense(n, nParams, nil)
	res := mat.NewVecDense(n, nil)
	var jtj mat.SymDense
	var grad mat.VecDense
	aug := mat.NewSymDense(nParams, nil)
	var step mat.VecDense

	cur := append([]float64(nil), params...)
	trial := make([]float64, nParams)
	ssr := sumSquares(xs, ys, zs, cur)
	lambda := lambdaInit

	for iter := 0; iter < maxIter; iter++ {
		if ssr == 0 {
			return cur, true
		}
		s := cur[pSigma]
		s2, s3 := s*s, s*s*s
		for i := 0; i < n; i++ {
			v, g := gaussian(xs[i], ys[i], cur)
			dx, dy := xs[i]-cur[pX0], ys[i]-cur[pY0]
			hg := cur[pHeight] * g
			jac.Set(i, pBaseline, 1)
			jac.Set(i, pHeight, g)
			jac.Set(i, pX0, hg*dx/s2)
			jac.Set(i, pY0, hg*dy/s2)
			jac.Set(i, pSigma, hg*(dx*dx+dy*dy)/s3)
			res.SetVec(i, zs[i]-v)
		}
		jtj.SymOuterK(1, jac.T())
		grad.MulVec(jac.T(), res)

		improved := false
		for lambda <= lambdaMax {
			aug.CopySym(&jtj)
			for k := 0; k < nParams; k++ {
				d := jtj.At(k, k)
				if d == 0 {
					d = 1
				}
				aug.SetSym(k, k, d*(1+lambda))
			}
			if err := step.SolveVec(aug, &grad); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			for k := range trial {
				trial[k] = cur[k] + step.AtVec(k)
			}
			next := sumSquares(xs, ys, zs, trial)
			if next < ssr {
				improved = true
				copy(cur, trial)
				lambda /= 10
				settled := (ssr - next) <= 1e-12*ssr
				small := true
				for k := range trial {
					if math.Abs(step.AtVec(k)) > stepTol*(math.Abs(cur[k])+stepTol) {
						small = false
						break
					}
				}
				ssr = next
				if settled || small {
					return cur, true
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			// No step in any damping regime reduces the residual: cur is
			// a stationary point.
			return cur, true
		}
	}
	return cur, false
}
