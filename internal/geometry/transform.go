package geometry

import (
	"fmt"
	"math"
)

// Affine is a 2x3 matrix: x' = A*x + B*y + Tx, y' = C*x + D*y + Ty
type Affine struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Apply transforms a point.
func (m Affine) Apply(p Point) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// Similarity is a uniform scale, a rotation and a translation:
// p' = Scale * R(Angle) * p + (Tx, Ty)
type Similarity struct {
	Scale float64 `json:"scale"`
	Angle float64 `json:"angle"` // radians, (-pi, pi]
	Tx    float64 `json:"tx"`
	Ty    float64 `json:"ty"`
}

// Identity returns the identity similarity.
func Identity() Similarity {
	return Similarity{Scale: 1}
}

// NewSimilarity builds a similarity with its angle normalized to (-pi, pi].
func NewSimilarity(scale, angle, tx, ty float64) Similarity {
	return Similarity{Scale: scale, Angle: NormalizeAngle(angle), Tx: tx, Ty: ty}
}

// NormalizeAngle wraps radians into (-pi, pi].
func NormalizeAngle(rad float64) float64 {
	if rad > -math.Pi && rad <= math.Pi {
		return rad
	}
	rad = math.Mod(rad+math.Pi, 2*math.Pi)
	if rad <= 0 {
		rad += 2 * math.Pi
	}
	return rad - math.Pi
}

// Valid reports whether the transform honours s > 0, angle in (-pi, pi]
// and finite translation.
func (s Similarity) Valid() bool {
	if !(s.Scale > 0) || math.IsInf(s.Scale, 0) {
		return false
	}
	if !(s.Angle > -math.Pi && s.Angle <= math.Pi) {
		return false
	}
	return !math.IsNaN(s.Tx) && !math.IsNaN(s.Ty) && !math.IsInf(s.Tx, 0) && !math.IsInf(s.Ty, 0)
}

// Matrix returns the equivalent affine matrix.
func (s Similarity) Matrix() Affine {
	cos, sin := math.Cos(s.Angle), math.Sin(s.Angle)
	return Affine{
		A: s.Scale * cos, B: -s.Scale * sin, Tx: s.Tx,
		C: s.Scale * sin, D: s.Scale * cos, Ty: s.Ty,
	}
}

// Apply transforms a point.
func (s Similarity) Apply(p Point) Point {
	return s.Matrix().Apply(p)
}

// Inverse returns the similarity that undoes s. Scale must be positive.
func (s Similarity) Inverse() Similarity {
	inv := 1 / s.Scale
	cos, sin := math.Cos(-s.Angle), math.Sin(-s.Angle)
	return Similarity{
		Scale: inv,
		Angle: NormalizeAngle(-s.Angle),
		Tx:    -inv * (cos*s.Tx - sin*s.Ty),
		Ty:    -inv * (sin*s.Tx + cos*s.Ty),
	}
}

// Compose returns the transform that applies other first, then s.
func (s Similarity) Compose(other Similarity) Similarity {
	cos, sin := math.Cos(s.Angle), math.Sin(s.Angle)
	return Similarity{
		Scale: s.Scale * other.Scale,
		Angle: NormalizeAngle(s.Angle + other.Angle),
		Tx:    s.Scale*(cos*other.Tx-sin*other.Ty) + s.Tx,
		Ty:    s.Scale*(sin*other.Tx+cos*other.Ty) + s.Ty,
	}
}

func (s Similarity) String() string {
	return fmt.Sprintf("s=%.4f θ=%.4f t=(%.2f, %.2f)", s.Scale, s.Angle, s.Tx, s.Ty)
}
