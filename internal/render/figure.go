package render

import (
	"github.com/couchcryptid/hydromap/internal/network"
)

// Plotly's default qualitative sequence.
var plotlyColors = []string{"#636efa", "#EF553B", "#00cc96", "#ab63fa", "#FFA15A"}

// Trace is one Plotly scatter trace.
type Trace struct {
	Type       string    `json:"type"`
	Mode       string    `json:"mode"`
	Name       string    `json:"name"`
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Text       []string  `json:"text,omitempty"`
	HoverInfo  string    `json:"hoverinfo,omitempty"`
	ShowLegend bool      `json:"showlegend"`
	Line       *Line     `json:"line,omitempty"`
	Marker     *Marker   `json:"marker,omitempty"`
}

type Line struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

type Marker struct {
	Color string `json:"color"`
	Size  int    `json:"size"`
}

type Axis struct {
	ShowGrid       bool `json:"showgrid"`
	ZeroLine       bool `json:"zeroline"`
	ShowTickLabels bool `json:"showticklabels"`
}

type Margin struct {
	L   int `json:"l"`
	R   int `json:"r"`
	B   int `json:"b"`
	T   int `json:"t"`
	Pad int `json:"pad"`
}

type Layout struct {
	AutoSize     bool   `json:"autosize"`
	ShowLegend   bool   `json:"showlegend"`
	XAxis        Axis   `json:"xaxis"`
	YAxis        Axis   `json:"yaxis"`
	PaperBGColor string `json:"paper_bgcolor"`
	PlotBGColor  string `json:"plot_bgcolor"`
	Margin       Margin `json:"margin"`
}

// Figure is a Plotly figure: traces plus layout.
type Figure struct {
	Title  string  `json:"-"`
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// BuildFigure draws every link as a line between its end node coordinates
// and every node as a point, one trace per node kind.
func BuildFigure(title string, net *network.Network) Figure {
	fig := Figure{Title: title, Layout: figureLayout()}

	for _, l := range net.Links() {
		a, errA := net.Node(l.StartNode())
		b, errB := net.Node(l.EndNode())
		if errA != nil || errB != nil {
			continue
		}
		pa, pb := a.Coordinates(), b.Coordinates()
		fig.Data = append(fig.Data, Trace{
			Type:      "scatter",
			Mode:      "lines",
			Name:      l.Name(),
			X:         []float64{pa.X(), pb.X()},
			Y:         []float64{pa.Y(), pb.Y()},
			HoverInfo: "name",
			Line:      &Line{Color: plotlyColors[0], Width: 2},
		})
	}

	byKind := map[network.NodeKind]*Trace{}
	var order []network.NodeKind
	for _, n := range net.Nodes() {
		tr, ok := byKind[n.Kind()]
		if !ok {
			tr = &Trace{
				Type:       "scatter",
				Mode:       "markers",
				Name:       n.Kind().String(),
				HoverInfo:  "text",
				ShowLegend: true,
				Marker:     &Marker{Color: plotlyColors[len(order)%len(plotlyColors)], Size: 8},
			}
			byKind[n.Kind()] = tr
			order = append(order, n.Kind())
		}
		p := n.Coordinates()
		tr.X = append(tr.X, p.X())
		tr.Y = append(tr.Y, p.Y())
		tr.Text = append(tr.Text, n.Name())
	}
	for _, k := range order {
		fig.Data = append(fig.Data, *byKind[k])
	}
	return fig
}

func figureLayout() Layout {
	hidden := Axis{ShowGrid: false, ZeroLine: false, ShowTickLabels: false}
	return Layout{
		AutoSize:     true,
		ShowLegend:   true,
		XAxis:        hidden,
		YAxis:        hidden,
		PaperBGColor: "rgba(0,0,0,0)",
		PlotBGColor:  "rgba(0,0,0,0)",
		Margin:       Margin{L: 5, R: 5, B: 5, T: 5, Pad: 4},
	}
}
