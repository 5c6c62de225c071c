package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrIndeterminate is returned when the detected landmarks cannot define
	// a rotation and scale (fewer than two points, or all points coincident).
	ErrIndeterminate = errors.New("indeterminate transform")
	// ErrCardinality is returned when the detected set and the template
	// have a different number of landmarks.
	ErrCardinality = errors.New("landmark cardinality mismatch")
)

// minScatter is the smallest mean squared spread (px^2) accepted as a
// non-degenerate point set.
const minScatter = 1e-12

// Fit is the result of aligning one landmark set onto the template.
type Fit struct {
	Transform Similarity
	// Residual is the RMS distance (px) between the transformed detected
	// landmarks and the template landmarks.
	Residual float64
}

// Estimate computes the similarity transform that maps detected onto the
// template with the least sum of squared distances (Procrustes / Umeyama).
// Reflections are never returned.
func Estimate(detected LandmarkSet, tmpl Template) (Fit, error) {
	n := detected.Len()
	if n != tmpl.Len() {
		return Fit{}, fmt.Errorf("%w: detected %d, template %d", ErrCardinality, n, tmpl.Len())
	}
	if n < 2 {
		return Fit{}, fmt.Errorf("%w: need at least 2 landmarks, got %d", ErrIndeterminate, n)
	}

	src := detected.points
	dst := tmpl.set.points

	// 1. Centroids and spread of the detected set
	muSrc := centroid(src)
	muDst := centroid(dst)
	varSrc := scatter(src, muSrc)
	if !(varSrc >= minScatter) {
		return Fit{}, fmt.Errorf("%w: detected landmarks are coincident", ErrIndeterminate)
	}

	// 2. Cross-covariance of the centered sets: (1/n) * sum(dst_i * src_i^T)
	var sxx, sxy, syx, syy float64
	for i := range src {
		px, py := src[i].X-muSrc.X, src[i].Y-muSrc.Y
		qx, qy := dst[i].X-muDst.X, dst[i].Y-muDst.Y
		sxx += qx * px
		sxy += qx * py
		syx += qy * px
		syy += qy * py
	}
	inv := 1 / float64(n)
	cov := mat.NewDense(2, 2, []float64{sxx * inv, sxy * inv, syx * inv, syy * inv})

	// 3. Rotation from the SVD, dropping the reflection component
	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return Fit{}, fmt.Errorf("%w: covariance factorization failed", ErrIndeterminate)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	d := svd.Values(nil)

	sign := 1.0
	if mat.Det(&u)*mat.Det(&v) < 0 {
		sign = -1
	}
	// R = U * diag(1, sign) * V^T
	r00 := u.At(0, 0)*v.At(0, 0) + sign*u.At(0, 1)*v.At(0, 1)
	r10 := u.At(1, 0)*v.At(0, 0) + sign*u.At(1, 1)*v.At(0, 1)
	angle := math.Atan2(r10, r00)

	// 4. Uniform scale from trace(D*S) / var(src)
	scale := (d[0] + sign*d[1]) / varSrc
	if !(scale > 0) || math.IsInf(scale, 0) {
		return Fit{}, fmt.Errorf("%w: non-positive scale %g", ErrIndeterminate, scale)
	}

	// 5. Translation takes the scaled, rotated source centroid onto the template centroid
	t := NewSimilarity(scale, angle, 0, 0)
	moved := t.Apply(muSrc)
	t.Tx = muDst.X - moved.X
	t.Ty = muDst.Y - moved.Y

	return Fit{Transform: t, Residual: Residual(detected, tmpl, t)}, nil
}

// Residual returns the RMS distance between t(detected) and the template.
func Residual(detected LandmarkSet, tmpl Template, t Similarity) float64 {
	n := detected.Len()
	if n == 0 || n != tmpl.Len() {
		return math.Inf(1)
	}
	m := t.Matrix()
	var sum float64
	for i := 0; i < n; i++ {
		p := m.Apply(detected.points[i])
		q := tmpl.set.points[i]
		dx, dy := p.X-q.X, p.Y-q.Y
		sum += dx*dx + dy*dy
	}
	return math.Sqrt(sum / float64(n))
}
