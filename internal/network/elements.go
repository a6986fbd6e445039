package network

import (
	"math"

	"github.com/paulmach/orb"
)

// NodeKind distinguishes junctions from fixed-head nodes.
type NodeKind int

const (
	KindJunction NodeKind = iota
	KindReservoir
	KindTank
)

func (k NodeKind) String() string {
	switch k {
	case KindJunction:
		return "Junction"
	case KindReservoir:
		return "Reservoir"
	case KindTank:
		return "Tank"
	default:
		return "Unknown"
	}
}

// Node is a network vertex. Kind-specific attributes live on the concrete
// types below; the interface exposes what rendering and solving need.
type Node interface {
	Name() string
	Kind() NodeKind
	Coordinates() orb.Point
	SetCoordinates(p orb.Point)
	Elevation() float64
}

type nodeBase struct {
	name   string
	coords orb.Point
}

func (n *nodeBase) Name() string               { return n.name }
func (n *nodeBase) Coordinates() orb.Point     { return n.coords }
func (n *nodeBase) SetCoordinates(p orb.Point) { n.coords = p }

// Junction is a demand node. BaseDemand is in m3/s.
type Junction struct {
	nodeBase
	Elev          float64
	BaseDemand    float64
	DemandPattern string
}

func (j *Junction) Kind() NodeKind     { return KindJunction }
func (j *Junction) Elevation() float64 { return j.Elev }

// Reservoir is an infinite source with a fixed total head (m).
type Reservoir struct {
	nodeBase
	BaseHead    float64
	HeadPattern string
}

func (r *Reservoir) Kind() NodeKind { return KindReservoir }

// Elevation of a reservoir is its head, so its pressure is always zero.
func (r *Reservoir) Elevation() float64 { return r.BaseHead }

// Tank is a cylindrical storage node. Levels and diameter are in metres.
type Tank struct {
	nodeBase
	Elev      float64
	InitLevel float64
	MinLevel  float64
	MaxLevel  float64
	Diameter  float64
}

func (t *Tank) Kind() NodeKind     { return KindTank }
func (t *Tank) Elevation() float64 { return t.Elev }

// Area returns the tank cross-section in m2.
func (t *Tank) Area() float64 {
	return math.Pi * t.Diameter * t.Diameter / 4
}

// LinkKind distinguishes pipes, valves and pumps.
type LinkKind int

const (
	KindPipe LinkKind = iota
	KindValve
	KindPump
)

func (k LinkKind) String() string {
	switch k {
	case KindPipe:
		return "Pipe"
	case KindValve:
		return "Valve"
	case KindPump:
		return "Pump"
	default:
		return "Unknown"
	}
}

// LinkStatus is the initial status of a link as read from the model.
type LinkStatus int

const (
	StatusOpen LinkStatus = iota
	StatusClosed
	StatusActive
	StatusCheckValve
)

func (s LinkStatus) String() string {
	switch s {
	case StatusOpen:
		return "Open"
	case StatusClosed:
		return "Closed"
	case StatusActive:
		return "Active"
	case StatusCheckValve:
		return "CV"
	default:
		return "Unknown"
	}
}

// Link is a network edge between two named nodes.
type Link interface {
	Name() string
	Kind() LinkKind
	StartNode() string
	EndNode() string
	InitialStatus() LinkStatus
	SetInitialStatus(s LinkStatus)
}

type linkBase struct {
	name   string
	start  string
	end    string
	status LinkStatus
}

func (l *linkBase) Name() string              { return l.name }
func (l *linkBase) StartNode() string         { return l.start }
func (l *linkBase) EndNode() string           { return l.end }
func (l *linkBase) InitialStatus() LinkStatus { return l.status }

// SetInitialStatus overrides the status read from the link definition.
func (l *linkBase) SetInitialStatus(s LinkStatus) { l.status = s }

// Pipe lengths and diameters are in metres. Roughness is unitless for
// Hazen-Williams and Chezy-Manning and in metres for Darcy-Weisbach.
type Pipe struct {
	linkBase
	Length    float64
	Diameter  float64
	Roughness float64
	MinorLoss float64
}

func (p *Pipe) Kind() LinkKind { return KindPipe }

// ValveType is the EPANET valve type keyword.
type ValveType string

const (
	ValvePRV ValveType = "PRV"
	ValvePSV ValveType = "PSV"
	ValvePBV ValveType = "PBV"
	ValveFCV ValveType = "FCV"
	ValveTCV ValveType = "TCV"
	ValveGPV ValveType = "GPV"
)

// ParseValveType returns the valve type for an EPANET keyword.
func ParseValveType(s string) (ValveType, bool) {
	switch v := ValveType(s); v {
	case ValvePRV, ValvePSV, ValvePBV, ValveFCV, ValveTCV, ValveGPV:
		return v, true
	default:
		return "", false
	}
}

// Valve settings are stored in SI: pressure valves in metres of head, FCV
// in m3/s, TCV as a loss coefficient. GPV keeps its curve id in Curve.
type Valve struct {
	linkBase
	Type      ValveType
	Diameter  float64
	Setting   float64
	MinorLoss float64
	Curve     string
}

func (v *Valve) Kind() LinkKind { return KindValve }

// Pump is described either by a head curve or a constant power (kW).
type Pump struct {
	linkBase
	HeadCurve string
	Power     float64
	Speed     float64
}

func (p *Pump) Kind() LinkKind { return KindPump }

// Curve is an x/y table; for pump head curves X is flow (m3/s) and Y head (m).
type Curve struct {
	ID     string
	Points [][2]float64
}
