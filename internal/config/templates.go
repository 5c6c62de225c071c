package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/andresmejia3/steady/internal/geometry"
)

// DefaultTemplate is used when neither a name nor points are configured.
const DefaultTemplate = "arcface5"

// builtinTemplates are canonical five-point layouts in unit coordinates,
// (0,0) top-left and (1,1) bottom-right of a square face crop.
var builtinTemplates = map[string][]geometry.Point{
	// Eye centres, nose tip and mouth corners of the 112x112 ArcFace crop.
	"arcface5": {
		{X: 38.2946 / 112, Y: 51.6963 / 112},
		{X: 73.5318 / 112, Y: 51.5014 / 112},
		{X: 56.0252 / 112, Y: 71.7366 / 112},
		{X: 41.5493 / 112, Y: 92.3655 / 112},
		{X: 70.7299 / 112, Y: 92.2041 / 112},
	},
	// Outer and inner eye corners followed by the base of the nose, in the
	// order of dlib's 5-point shape predictor.
	"dlib5": {
		{X: 0.815, Y: 0.365},
		{X: 0.610, Y: 0.375},
		{X: 0.185, Y: 0.365},
		{X: 0.390, Y: 0.375},
		{X: 0.500, Y: 0.640},
	},
}

// TemplateNames lists the built-in templates.
func TemplateNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves the template and places it in a width x height frame. Unit
// coordinates are scaled by Scale times the shorter side and centred.
func (t TemplateConfig) Build(width, height int) (geometry.Template, error) {
	unit := t.Points
	name := t.Name
	if len(unit) == 0 {
		if name == "" {
			name = DefaultTemplate
		}
		pts, ok := builtinTemplates[name]
		if !ok {
			return geometry.Template{}, fmt.Errorf("unknown template %q. Must be one of: %v, or list points", name, TemplateNames())
		}
		unit = pts
	} else if name == "" {
		name = "custom"
	}

	side := float64(min(width, height)) * t.Scale
	ox := (float64(width) - side) / 2
	oy := (float64(height) - side) / 2
	pts := make([]geometry.Point, len(unit))
	for i, p := range unit {
		pts[i] = geometry.Point{X: ox + p.X*side, Y: oy + p.Y*side}
		if math.IsNaN(pts[i].X) || math.IsNaN(pts[i].Y) {
			return geometry.Template{}, fmt.Errorf("template point %d is not a number", i)
		}
	}
	return geometry.NewTemplate(name, pts)
}
