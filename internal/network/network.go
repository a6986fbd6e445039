package network

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Sentinel errors returned by lookups and edits; match with errors.Is.
var (
	ErrNodeNotFound  = errors.New("node not found")
	ErrLinkNotFound  = errors.New("link not found")
	ErrDuplicateName = errors.New("duplicate name")
	ErrInvalidLink   = errors.New("invalid link")
	ErrNodeInUse     = errors.New("node has connected links")
)

// HeadlossFormula selects the pipe friction model.
type HeadlossFormula string

const (
	HazenWilliams HeadlossFormula = "H-W"
	DarcyWeisbach HeadlossFormula = "D-W"
	ChezyManning  HeadlossFormula = "C-M"
)

const (
	defaultTrials   = 200
	defaultAccuracy = 0.001
)

// Options holds the hydraulic options of the model.
type Options struct {
	// FlowUnits is the keyword the model was read with (GPM, LPS, ...).
	// Values in the Network are always SI regardless.
	FlowUnits        string
	Headloss         HeadlossFormula
	DemandMultiplier float64
	DefaultPattern   string
	Viscosity        float64 // relative to water at 20 C
	Trials           int
	Accuracy         float64
}

// Times holds the extended-period settings. A zero Duration means a
// single steady-state solve.
type Times struct {
	Duration      time.Duration
	HydraulicStep time.Duration
	PatternStep   time.Duration
	PatternStart  time.Duration
}

// Network is a water distribution model. Names are unique within nodes and
// within links, and every link references two distinct existing nodes.
type Network struct {
	Title    []string
	Options  Options
	Times    Times
	Patterns map[string][]float64
	Curves   map[string]*Curve

	nodes     map[string]Node
	nodeOrder []string
	links     map[string]Link
	linkOrder []string
}

// New returns an empty network with EPANET default options.
func New() *Network {
	return &Network{
		Options: Options{
			FlowUnits:        "LPS",
			Headloss:         HazenWilliams,
			DemandMultiplier: 1,
			DefaultPattern:   "1",
			Viscosity:        1,
			Trials:           defaultTrials,
			Accuracy:         defaultAccuracy,
		},
		Times: Times{
			HydraulicStep: time.Hour,
			PatternStep:   time.Hour,
		},
		Patterns: make(map[string][]float64),
		Curves:   make(map[string]*Curve),
		nodes:    make(map[string]Node),
		links:    make(map[string]Link),
	}
}

// JunctionOpts configures AddJunction. BaseDemand is in m3/s.
type JunctionOpts struct {
	Elevation   float64
	BaseDemand  float64
	Pattern     string
	Coordinates orb.Point
}

// ReservoirOpts configures AddReservoir.
type ReservoirOpts struct {
	BaseHead    float64
	HeadPattern string
	Coordinates orb.Point
}

// TankOpts configures AddTank.
type TankOpts struct {
	Elevation   float64
	InitLevel   float64
	MinLevel    float64
	MaxLevel    float64
	Diameter    float64
	Coordinates orb.Point
}

// PipeOpts configures AddPipe.
type PipeOpts struct {
	Length    float64
	Diameter  float64
	Roughness float64
	MinorLoss float64
	Status    LinkStatus
}

// ValveOpts configures AddValve.
type ValveOpts struct {
	Type      ValveType
	Diameter  float64
	Setting   float64
	MinorLoss float64
	Status    LinkStatus
	Curve     string
}

// PumpOpts configures AddPump.
type PumpOpts struct {
	HeadCurve string
	Power     float64
	Speed     float64
	Status    LinkStatus
}

// AddJunction adds a junction. Names must be unique among nodes.
func (n *Network) AddJunction(name string, o JunctionOpts) (*Junction, error) {
	j := &Junction{
		nodeBase:      nodeBase{name: name, coords: o.Coordinates},
		Elev:          o.Elevation,
		BaseDemand:    o.BaseDemand,
		DemandPattern: o.Pattern,
	}
	return j, n.addNode(j)
}

// AddReservoir adds a fixed-head reservoir.
func (n *Network) AddReservoir(name string, o ReservoirOpts) (*Reservoir, error) {
	r := &Reservoir{
		nodeBase:    nodeBase{name: name, coords: o.Coordinates},
		BaseHead:    o.BaseHead,
		HeadPattern: o.HeadPattern,
	}
	return r, n.addNode(r)
}

// AddTank adds a cylindrical storage tank. Levels are measured from
// its elevation.
func (n *Network) AddTank(name string, o TankOpts) (*Tank, error) {
	t := &Tank{
		nodeBase:  nodeBase{name: name, coords: o.Coordinates},
		Elev:      o.Elevation,
		InitLevel: o.InitLevel,
		MinLevel:  o.MinLevel,
		MaxLevel:  o.MaxLevel,
		Diameter:  o.Diameter,
	}
	return t, n.addNode(t)
}

// AddPipe adds a pipe from start to end. Both nodes must exist and the
// length and diameter must be positive.
func (n *Network) AddPipe(name, start, end string, o PipeOpts) (*Pipe, error) {
	if o.Length <= 0 || o.Diameter <= 0 {
		return nil, fmt.Errorf("pipe %q: length and diameter must be positive: %w", name, ErrInvalidLink)
	}
	p := &Pipe{
		linkBase:  linkBase{name: name, start: start, end: end, status: o.Status},
		Length:    o.Length,
		Diameter:  o.Diameter,
		Roughness: o.Roughness,
		MinorLoss: o.MinorLoss,
	}
	return p, n.addLink(p)
}

// AddValve adds a valve from start to end. The setting is interpreted
// according to the valve type.
func (n *Network) AddValve(name, start, end string, o ValveOpts) (*Valve, error) {
	if _, ok := ParseValveType(string(o.Type)); !ok {
		return nil, fmt.Errorf("valve %q: unknown type %q: %w", name, o.Type, ErrInvalidLink)
	}
	if o.Diameter <= 0 {
		return nil, fmt.Errorf("valve %q: diameter must be positive: %w", name, ErrInvalidLink)
	}
	v := &Valve{
		linkBase:  linkBase{name: name, start: start, end: end, status: o.Status},
		Type:      o.Type,
		Diameter:  o.Diameter,
		Setting:   o.Setting,
		MinorLoss: o.MinorLoss,
		Curve:     o.Curve,
	}
	return v, n.addLink(v)
}

// AddPump adds a pump from start (suction) to end (discharge). A zero
// Speed in o means the nominal speed of 1; stop a pump by setting Speed to
// zero after it is added.
func (n *Network) AddPump(name, start, end string, o PumpOpts) (*Pump, error) {
	if o.HeadCurve == "" && o.Power <= 0 {
		return nil, fmt.Errorf("pump %q: needs a head curve or power: %w", name, ErrInvalidLink)
	}
	speed := o.Speed
	if speed == 0 {
		speed = 1
	}
	p := &Pump{
		linkBase:  linkBase{name: name, start: start, end: end, status: o.Status},
		HeadCurve: o.HeadCurve,
		Power:     o.Power,
		Speed:     speed,
	}
	return p, n.addLink(p)
}

func (n *Network) addNode(node Node) error {
	name := node.Name()
	if name == "" {
		return fmt.Errorf("empty node name: %w", ErrDuplicateName)
	}
	if _, exists := n.nodes[name]; exists {
		return fmt.Errorf("node %q: %w", name, ErrDuplicateName)
	}
	n.nodes[name] = node
	n.nodeOrder = append(n.nodeOrder, name)
	return nil
}

func (n *Network) addLink(link Link) error {
	name := link.Name()
	if name == "" {
		return fmt.Errorf("empty link name: %w", ErrDuplicateName)
	}
	if _, exists := n.links[name]; exists {
		return fmt.Errorf("link %q: %w", name, ErrDuplicateName)
	}
	if link.StartNode() == link.EndNode() {
		return fmt.Errorf("link %q connects %q to itself: %w", name, link.StartNode(), ErrInvalidLink)
	}
	for _, end := range []string{link.StartNode(), link.EndNode()} {
		if _, ok := n.nodes[end]; !ok {
			return fmt.Errorf("link %q endpoint %q: %w", name, end, ErrNodeNotFound)
		}
	}
	n.links[name] = link
	n.linkOrder = append(n.linkOrder, name)
	return nil
}

// RemoveLink deletes a link by name.
func (n *Network) RemoveLink(name string) error {
	if _, ok := n.links[name]; !ok {
		return fmt.Errorf("link %q: %w", name, ErrLinkNotFound)
	}
	delete(n.links, name)
	n.linkOrder = slices.DeleteFunc(n.linkOrder, func(s string) bool { return s == name })
	return nil
}

// RemoveNode deletes a node that has no connected links.
func (n *Network) RemoveNode(name string) error {
	if _, ok := n.nodes[name]; !ok {
		return fmt.Errorf("node %q: %w", name, ErrNodeNotFound)
	}
	if links := n.LinksAt(name); len(links) > 0 {
		return fmt.Errorf("node %q (%d links): %w", name, len(links), ErrNodeInUse)
	}
	delete(n.nodes, name)
	n.nodeOrder = slices.DeleteFunc(n.nodeOrder, func(s string) bool { return s == name })
	return nil
}

// Node returns the named node, or an error wrapping ErrNodeNotFound.
func (n *Network) Node(name string) (Node, error) {
	node, ok := n.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node %q: %w", name, ErrNodeNotFound)
	}
	return node, nil
}

// Link returns the named link, or an error wrapping ErrLinkNotFound.
func (n *Network) Link(name string) (Link, error) {
	link, ok := n.links[name]
	if !ok {
		return nil, fmt.Errorf("link %q: %w", name, ErrLinkNotFound)
	}
	return link, nil
}

// Pipe returns the named link if it is a pipe.
func (n *Network) Pipe(name string) (*Pipe, error) {
	link, err := n.Link(name)
	if err != nil {
		return nil, err
	}
	p, ok := link.(*Pipe)
	if !ok {
		return nil, fmt.Errorf("link %q is a %s, not a pipe: %w", name, link.Kind(), ErrLinkNotFound)
	}
	return p, nil
}

// Valve returns the named link if it is a valve.
func (n *Network) Valve(name string) (*Valve, error) {
	link, err := n.Link(name)
	if err != nil {
		return nil, err
	}
	v, ok := link.(*Valve)
	if !ok {
		return nil, fmt.Errorf("link %q is a %s, not a valve: %w", name, link.Kind(), ErrLinkNotFound)
	}
	return v, nil
}

// NodeCount and LinkCount return the number of elements.
func (n *Network) NodeCount() int { return len(n.nodeOrder) }
func (n *Network) LinkCount() int { return len(n.linkOrder) }

// NodeNames returns node names in insertion order.
func (n *Network) NodeNames() []string { return slices.Clone(n.nodeOrder) }

// LinkNames returns link names in insertion order.
func (n *Network) LinkNames() []string { return slices.Clone(n.linkOrder) }

// Nodes returns the nodes in insertion order.
func (n *Network) Nodes() []Node {
	out := make([]Node, 0, len(n.nodeOrder))
	for _, name := range n.nodeOrder {
		out = append(out, n.nodes[name])
	}
	return out
}

// Links returns the links in insertion order.
func (n *Network) Links() []Link {
	out := make([]Link, 0, len(n.linkOrder))
	for _, name := range n.linkOrder {
		out = append(out, n.links[name])
	}
	return out
}

// NodeNamesOf returns the names of nodes of one kind in insertion order.
func (n *Network) NodeNamesOf(kind NodeKind) []string {
	var out []string
	for _, name := range n.nodeOrder {
		if n.nodes[name].Kind() == kind {
			out = append(out, name)
		}
	}
	return out
}

// LinkNamesOf returns the names of links of one kind in insertion order.
func (n *Network) LinkNamesOf(kind LinkKind) []string {
	var out []string
	for _, name := range n.linkOrder {
		if n.links[name].Kind() == kind {
			out = append(out, name)
		}
	}
	return out
}

// JunctionNames and its siblings list element names of one kind.
func (n *Network) JunctionNames() []string  { return n.NodeNamesOf(KindJunction) }
func (n *Network) ReservoirNames() []string { return n.NodeNamesOf(KindReservoir) }
func (n *Network) TankNames() []string      { return n.NodeNamesOf(KindTank) }
func (n *Network) PipeNames() []string      { return n.LinkNamesOf(KindPipe) }
func (n *Network) ValveNames() []string     { return n.LinkNamesOf(KindValve) }
func (n *Network) PumpNames() []string      { return n.LinkNamesOf(KindPump) }

// LinksAt returns the links with an endpoint at the named node.
func (n *Network) LinksAt(node string) []Link {
	var out []Link
	for _, name := range n.linkOrder {
		l := n.links[name]
		if l.StartNode() == node || l.EndNode() == node {
			out = append(out, l)
		}
	}
	return out
}

// Neighbours returns the names of nodes sharing a link with the named node.
func (n *Network) Neighbours(node string) []string {
	var out []string
	for _, l := range n.LinksAt(node) {
		other := l.StartNode()
		if other == node {
			other = l.EndNode()
		}
		if !slices.Contains(out, other) {
			out = append(out, other)
		}
	}
	return out
}

// Components groups node names into connected components, ignoring link
// status. Each component is sorted; components are ordered by first node.
func (n *Network) Components() [][]string {
	g := simple.NewUndirectedGraph()
	ids := make(map[string]int64, len(n.nodeOrder))
	for i, name := range n.nodeOrder {
		ids[name] = int64(i)
		g.AddNode(simple.Node(int64(i)))
	}
	for _, l := range n.links {
		from, to := ids[l.StartNode()], ids[l.EndNode()]
		if g.HasEdgeBetween(from, to) {
			continue
		}
		g.SetEdge(g.NewEdge(g.Node(from), g.Node(to)))
	}

	ccs := topo.ConnectedComponents(g)
	firsts := make([]int64, len(ccs))
	for i, cc := range ccs {
		firsts[i] = int64(len(n.nodeOrder))
		for _, node := range cc {
			firsts[i] = min(firsts[i], node.ID())
		}
	}
	order := make([]int, len(ccs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return firsts[order[a]] < firsts[order[b]] })

	comps := make([][]string, 0, len(ccs))
	for _, i := range order {
		comp := make([]string, len(ccs[i]))
		for j, node := range ccs[i] {
			comp[j] = n.nodeOrder[node.ID()]
		}
		sort.Strings(comp)
		comps = append(comps, comp)
	}
	return comps
}

// PatternValue returns the multiplier of a pattern at simulation time t.
// An empty id falls back to the default pattern; unknown ids yield 1.
func (n *Network) PatternValue(id string, t time.Duration) float64 {
	if id == "" {
		id = n.Options.DefaultPattern
	}
	factors, ok := n.Patterns[id]
	if !ok || len(factors) == 0 {
		return 1
	}
	step := n.Times.PatternStep
	if step <= 0 {
		return factors[0]
	}
	period := int((t + n.Times.PatternStart) / step)
	return factors[period%len(factors)]
}
