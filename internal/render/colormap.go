// Package render turns a network and its simulation results into
// self-contained HTML pages: a Leaflet pressure map and a Plotly topology
// figure. It also exports GeoJSON.
package render

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ylOrBr holds 11 evenly spaced samples of the YlOrBr sequential scheme.
var ylOrBr = []string{
	"#ffffe5", "#fff9c5", "#feeba2", "#fed778", "#febb47", "#fe9829",
	"#f07818", "#d85a09", "#b84203", "#8e3104", "#662506",
}

// PressureCaption labels the pressure legend.
const PressureCaption = "Pressão (m)"

// LinearColormap interpolates linearly in RGB between evenly spaced stops
// over [VMin, VMax]. Values outside the range take the end colours.
type LinearColormap struct {
	Stops   []colorful.Color
	VMin    float64
	VMax    float64
	Caption string
}

// NewPressureColormap returns the YlOrBr colormap over the given range.
func NewPressureColormap(vmin, vmax float64) *LinearColormap {
	stops := make([]colorful.Color, len(ylOrBr))
	for i, h := range ylOrBr {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(err)
		}
		stops[i] = c
	}
	return &LinearColormap{Stops: stops, VMin: vmin, VMax: vmax, Caption: PressureCaption}
}

// Color returns the hex colour for v.
func (m *LinearColormap) Color(v float64) string {
	if len(m.Stops) == 0 {
		return "#000000"
	}
	span := m.VMax - m.VMin
	if span <= 0 || math.IsNaN(v) {
		return m.Stops[0].Hex()
	}
	t := (v - m.VMin) / span
	t = math.Min(math.Max(t, 0), 1)
	pos := t * float64(len(m.Stops)-1)
	i := int(math.Floor(pos))
	if i >= len(m.Stops)-1 {
		return m.Stops[len(m.Stops)-1].Hex()
	}
	return m.Stops[i].BlendRgb(m.Stops[i+1], pos-float64(i)).Clamped().Hex()
}

// HexStops returns the stop colours as hex strings, for legends.
func (m *LinearColormap) HexStops() []string {
	out := make([]string, len(m.Stops))
	for i, c := range m.Stops {
		out[i] = c.Hex()
	}
	return out
}
