package render

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/couchcryptid/hydromap/internal/geo"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
)

const (
	DefaultZoom             = 15
	DefaultValveIconURL     = "https://raw.githubusercontent.com/kaioribeiro97/WNTR/f0c8942f2398fb38053519aac3e8560e4f609220/imagens/1.svg"
	DefaultReservoirIconURL = "https://raw.githubusercontent.com/kaioribeiro97/WNTR/f0c8942f2398fb38053519aac3e8560e4f609220/imagens/2.svg"

	nodeRadius = 8
)

// MapOptions configures BuildMapData. Zero values take defaults.
type MapOptions struct {
	Title            string
	Caption          string
	Zoom             int
	ValveIconURL     string
	ReservoirIconURL string
	GeneratedAt      time.Time
}

// MapLine is a polyline between two node positions.
type MapLine struct {
	Name    string       `json:"name"`
	Path    []geo.LatLon `json:"path"`
	Color   string       `json:"color"`
	Weight  int          `json:"weight"`
	Opacity float64      `json:"opacity"`
	Popup   string       `json:"popup"`
}

// MapIcon is an image marker.
type MapIcon struct {
	Name     string     `json:"name"`
	Position geo.LatLon `json:"position"`
	IconURL  string     `json:"icon_url"`
	Popup    string     `json:"popup"`
}

// MapCircle is a filled circle marker coloured by pressure.
type MapCircle struct {
	Name     string     `json:"name"`
	Position geo.LatLon `json:"position"`
	Radius   int        `json:"radius"`
	Color    string     `json:"color"`
	Popup    string     `json:"popup"`
	Pressure float64    `json:"pressure"`
}

// Legend describes the colormap shown on the map.
type Legend struct {
	Caption string   `json:"caption"`
	Colors  []string `json:"colors"`
	VMin    float64  `json:"vmin"`
	VMax    float64  `json:"vmax"`
}

// MapData is everything the map template needs, already projected and
// converted to display units.
type MapData struct {
	Title       string      `json:"title"`
	Caption     string      `json:"caption,omitempty"`
	GeneratedAt string      `json:"generated_at,omitempty"`
	Center      geo.LatLon  `json:"center"`
	Zoom        int         `json:"zoom"`
	Legend      Legend      `json:"legend"`
	Valves      []MapLine   `json:"valves"`
	Pipes       []MapLine   `json:"pipes"`
	ValveIcons  []MapIcon   `json:"valve_icons"`
	Reservoirs  []MapIcon   `json:"reservoirs"`
	Nodes       []MapCircle `json:"nodes"`
}

// BuildMapData projects node coordinates, clips negative pressures and
// converts velocity to km/h and flow to L/s.
func BuildMapData(net *network.Network, snap *hydraulic.Snapshot, tr geo.Transformer, opts MapOptions) (MapData, error) {
	if snap == nil {
		return MapData{}, errors.New("no simulation results to render")
	}
	if net.NodeCount() == 0 {
		return MapData{}, errors.New("network has no nodes")
	}
	opts = opts.withDefaults()

	positions := make(map[string]geo.LatLon, net.NodeCount())
	for _, n := range net.Nodes() {
		ll, err := tr.Transform(n.Coordinates())
		if err != nil {
			return MapData{}, fmt.Errorf("project node %s: %w", n.Name(), err)
		}
		positions[n.Name()] = ll
	}

	pressure := hydraulic.ClipNegativePressures(snap.Pressures())
	vmin, vmax := math.Inf(1), math.Inf(-1)
	for _, n := range net.Nodes() {
		p := pressure[n.Name()]
		vmin = math.Min(vmin, p)
		vmax = math.Max(vmax, p)
	}
	cmap := NewPressureColormap(vmin, vmax)

	first := net.Nodes()[0].Name()
	data := MapData{
		Title:   opts.Title,
		Caption: opts.Caption,
		Center:  positions[first],
		Zoom:    opts.Zoom,
		Legend:  Legend{Caption: cmap.Caption, Colors: cmap.HexStops(), VMin: vmin, VMax: vmax},
	}
	if !opts.GeneratedAt.IsZero() {
		data.GeneratedAt = opts.GeneratedAt.UTC().Format(time.RFC3339)
	}

	for _, l := range net.Links() {
		start, end := positions[l.StartNode()], positions[l.EndNode()]
		path := []geo.LatLon{start, end}
		switch l := l.(type) {
		case *network.Valve:
			data.Valves = append(data.Valves, MapLine{
				Name: l.Name(), Path: path, Color: "black", Weight: 3, Opacity: 0.8,
				Popup: fmt.Sprintf("Válvula %s - Pressão no nó jusante (%s): %.2f m", l.Name(), l.EndNode(), pressure[l.EndNode()]),
			})
			data.ValveIcons = append(data.ValveIcons, MapIcon{
				Name:     l.Name(),
				Position: geo.LatLon{Lat: (start.Lat + end.Lat) / 2, Lon: (start.Lon + end.Lon) / 2},
				IconURL:  opts.ValveIconURL,
				Popup:    fmt.Sprintf("VRP: %s (%s)", l.Name(), l.Type),
			})
		default:
			r := snap.Links[l.Name()]
			data.Pipes = append(data.Pipes, MapLine{
				Name: l.Name(), Path: path, Color: "black", Weight: 3, Opacity: 0.7,
				Popup: fmt.Sprintf("%s: Velocidade = %.2f km/h - Vazão = %.2f l/s", l.Name(), r.Velocity*3.6, r.Flow*1000),
			})
		}
	}

	for _, n := range net.Nodes() {
		name := n.Name()
		p := pressure[name]
		demand := snap.Nodes[name].Demand * 1000
		if n.Kind() == network.KindReservoir {
			data.Reservoirs = append(data.Reservoirs, MapIcon{
				Name:     name,
				Position: positions[name],
				IconURL:  opts.ReservoirIconURL,
				Popup:    fmt.Sprintf("Reservatório %s: %.2f m - Demanda %.5f l/s", name, p, demand),
			})
			continue
		}
		data.Nodes = append(data.Nodes, MapCircle{
			Name:     name,
			Position: positions[name],
			Radius:   nodeRadius,
			Color:    cmap.Color(p),
			Pressure: p,
			Popup:    fmt.Sprintf("%s: %.2f m - Demanda %.5f l/s", name, p, demand),
		})
	}
	return data, nil
}

func (o MapOptions) withDefaults() MapOptions {
	if o.Title == "" {
		o.Title = "Rede de distribuição"
	}
	if o.Zoom == 0 {
		o.Zoom = DefaultZoom
	}
	if o.ValveIconURL == "" {
		o.ValveIconURL = DefaultValveIconURL
	}
	if o.ReservoirIconURL == "" {
		o.ReservoirIconURL = DefaultReservoirIconURL
	}
	return o
}
