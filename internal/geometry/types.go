// Package geometry holds the 2D primitives used to align faces: points,
// landmark sets, similarity transforms and the Procrustes estimator.
package geometry

import (
	"fmt"
	"math"
)

// Point represents a 2D coordinate in pixel space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned box given by its min and max corners.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Area returns the box area, or 0 for an inverted box.
func (r Rect) Area() float64 {
	w := r.MaxX - r.MinX
	h := r.MaxY - r.MinY
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// LandmarkSet is an ordered, fixed-cardinality set of facial landmarks.
// A LandmarkSet never shares its backing array with the caller.
type LandmarkSet struct {
	points []Point
}

// NewLandmarkSet copies points into a new LandmarkSet.
func NewLandmarkSet(points []Point) LandmarkSet {
	cp := make([]Point, len(points))
	copy(cp, points)
	return LandmarkSet{points: cp}
}

// Len returns the cardinality N.
func (l LandmarkSet) Len() int { return len(l.points) }

// At returns the i-th landmark.
func (l LandmarkSet) At(i int) Point { return l.points[i] }

// Points returns a copy of the landmarks.
func (l LandmarkSet) Points() []Point {
	cp := make([]Point, len(l.points))
	copy(cp, l.points)
	return cp
}

// Bounds returns the bounding box of the landmarks.
func (l LandmarkSet) Bounds() Rect {
	if len(l.points) == 0 {
		return Rect{}
	}
	r := Rect{MinX: l.points[0].X, MinY: l.points[0].Y, MaxX: l.points[0].X, MaxY: l.points[0].Y}
	for _, p := range l.points[1:] {
		r.MinX = math.Min(r.MinX, p.X)
		r.MinY = math.Min(r.MinY, p.Y)
		r.MaxX = math.Max(r.MaxX, p.X)
		r.MaxY = math.Max(r.MaxY, p.Y)
	}
	return r
}

// Centroid returns the mean of the landmarks.
func (l LandmarkSet) Centroid() Point {
	return centroid(l.points)
}

// Template is the canonical landmark arrangement every face is aligned to.
type Template struct {
	Name string
	set  LandmarkSet
}

// NewTemplate validates points and builds a Template. A template needs at
// least two landmarks that are not all coincident.
func NewTemplate(name string, points []Point) (Template, error) {
	if len(points) < 2 {
		return Template{}, fmt.Errorf("template %q: need at least 2 landmarks, got %d", name, len(points))
	}
	for i, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return Template{}, fmt.Errorf("template %q: landmark %d is not finite", name, i)
		}
	}
	if scatter(points, centroid(points)) < minScatter {
		return Template{}, fmt.Errorf("template %q: landmarks are coincident", name)
	}
	return Template{Name: name, set: NewLandmarkSet(points)}, nil
}

// Len returns the template cardinality.
func (t Template) Len() int { return t.set.Len() }

// Set returns the template landmarks.
func (t Template) Set() LandmarkSet { return t.set }

func centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}
}

// scatter is the mean squared distance of points from c.
func scatter(points []Point, c Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var s float64
	for _, p := range points {
		dx, dy := p.X-c.X, p.Y-c.Y
		s += dx*dx + dy*dy
	}
	return s / float64(len(points))
}
