// Package edit implements the topology edits applied to a network before
// simulation: pipe splitting, reservoir insertion and PRV insertion.
//
// Every operation validates its inputs before mutating, so a failed edit
// leaves the network unchanged.
package edit

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ErrInvalidEdit reports an edit that cannot be applied to the network as
// described (wrong link type, bad parameters).
var ErrInvalidEdit = errors.New("invalid edit")

// Defaults used when options are left zero.
const (
	DefaultPRVSetting         = 20.0
	DefaultReservoirHead      = 1156.99
	DefaultConnectionLength   = 0.10
	DefaultConnectionDiameter = 0.110
	DefaultConnectionRough    = 140.0

	PRVPrefix = "VRP_"
)

// PRVOptions configures InsertPressureReducingValve.
type PRVOptions struct {
	// Name of the new valve. Defaults to "VRP_" + link name.
	Name string
	// Setting is the downstream pressure target in metres.
	Setting float64
}

// InsertPressureReducingValve replaces a link with a PRV between the same
// endpoints, keeping the diameter. The valve starts Active with zero minor
// loss. It returns the valve name.
func InsertPressureReducingValve(net *network.Network, linkName string, opts PRVOptions) (string, error) {
	link, err := net.Link(linkName)
	if err != nil {
		return "", err
	}
	diameter, err := linkDiameter(link)
	if err != nil {
		return "", err
	}
	name := opts.Name
	if name == "" {
		name = PRVPrefix + linkName
	}
	setting := opts.Setting
	if setting == 0 {
		setting = DefaultPRVSetting
	}
	if setting < 0 {
		return "", fmt.Errorf("prv %q: negative setting %g: %w", name, setting, ErrInvalidEdit)
	}
	if _, err := net.Link(name); err == nil && name != linkName {
		return "", fmt.Errorf("prv %q: %w", name, network.ErrDuplicateName)
	}

	start, end := link.StartNode(), link.EndNode()
	if err := net.RemoveLink(linkName); err != nil {
		return "", err
	}
	_, err = net.AddValve(name, start, end, network.ValveOpts{
		Type:     network.ValvePRV,
		Diameter: diameter,
		Setting:  setting,
		Status:   network.StatusActive,
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

func linkDiameter(link network.Link) (float64, error) {
	switch l := link.(type) {
	case *network.Pipe:
		return l.Diameter, nil
	case *network.Valve:
		return l.Diameter, nil
	default:
		return 0, fmt.Errorf("link %q is a %s and has no diameter: %w", link.Name(), link.Kind(), ErrInvalidEdit)
	}
}

// ReservoirOptions configures InsertReservoir. Zero values take the defaults.
type ReservoirOptions struct {
	Head float64
	// PipeName defaults to "P_<reservoir>_<node>".
	PipeName  string
	Length    float64
	Diameter  float64
	Roughness float64
}

// InsertReservoir adds a fixed-head reservoir at the coordinates of an
// existing node and connects it with a short pipe. It returns the pipe name.
func InsertReservoir(net *network.Network, reservoirName, atNode string, opts ReservoirOptions) (string, error) {
	node, err := net.Node(atNode)
	if err != nil {
		return "", err
	}
	if _, err := net.Node(reservoirName); err == nil {
		return "", fmt.Errorf("reservoir %q: %w", reservoirName, network.ErrDuplicateName)
	}
	o := opts.withDefaults()
	pipeName := o.PipeName
	if pipeName == "" {
		pipeName = fmt.Sprintf("P_%s_%s", reservoirName, atNode)
	}
	if _, err := net.Link(pipeName); err == nil {
		return "", fmt.Errorf("pipe %q: %w", pipeName, network.ErrDuplicateName)
	}
	if o.Length <= 0 || o.Diameter <= 0 {
		return "", fmt.Errorf("reservoir pipe %q: length and diameter must be positive: %w", pipeName, ErrInvalidEdit)
	}

	if _, err := net.AddReservoir(reservoirName, network.ReservoirOpts{
		BaseHead:    o.Head,
		Coordinates: node.Coordinates(),
	}); err != nil {
		return "", err
	}
	if _, err := net.AddPipe(pipeName, reservoirName, atNode, network.PipeOpts{
		Length:    o.Length,
		Diameter:  o.Diameter,
		Roughness: o.Roughness,
	}); err != nil {
		_ = net.RemoveNode(reservoirName)
		return "", err
	}
	return pipeName, nil
}

func (o ReservoirOptions) withDefaults() ReservoirOptions {
	if o.Head == 0 {
		o.Head = DefaultReservoirHead
	}
	if o.Length == 0 {
		o.Length = DefaultConnectionLength
	}
	if o.Diameter == 0 {
		o.Diameter = DefaultConnectionDiameter
	}
	if o.Roughness == 0 {
		o.Roughness = DefaultConnectionRough
	}
	return o
}

// SplitOptions configures SplitPipe.
type SplitOptions struct {
	// FirstName and SecondName default to "<pipe>_1" and "<pipe>_2".
	FirstName  string
	SecondName string
	// ScaleTo, when positive, rescales both segment lengths so that they
	// sum to this total while keeping their ratio.
	ScaleTo float64
	// Diameter and Roughness override the values copied from the original.
	Diameter  float64
	Roughness float64
}

// SplitResult describes the two segments that replaced the split pipe.
type SplitResult struct {
	First        string
	Second       string
	FirstLength  float64
	SecondLength float64
}

// SplitPipe replaces a pipe with two pipes that meet at newNode. Segment
// lengths are the planar distances between node coordinates. When newNode
// does not exist it is created as a zero-demand junction at the midpoint,
// with the mean elevation of the endpoints.
func SplitPipe(net *network.Network, pipeName, newNode string, opts SplitOptions) (SplitResult, error) {
	pipe, err := net.Pipe(pipeName)
	if err != nil {
		return SplitResult{}, err
	}
	start, end := pipe.StartNode(), pipe.EndNode()
	if newNode == start || newNode == end {
		return SplitResult{}, fmt.Errorf("split %q at its own endpoint %q: %w", pipeName, newNode, ErrInvalidEdit)
	}
	first, second := opts.FirstName, opts.SecondName
	if first == "" {
		first = pipeName + "_1"
	}
	if second == "" {
		second = pipeName + "_2"
	}
	if first == second {
		return SplitResult{}, fmt.Errorf("split %q: segment names are equal: %w", pipeName, ErrInvalidEdit)
	}
	for _, name := range []string{first, second} {
		if _, err := net.Link(name); err == nil && name != pipeName {
			return SplitResult{}, fmt.Errorf("split %q: %q: %w", pipeName, name, network.ErrDuplicateName)
		}
	}

	a, err := net.Node(start)
	if err != nil {
		return SplitResult{}, err
	}
	b, err := net.Node(end)
	if err != nil {
		return SplitResult{}, err
	}
	mid, err := net.Node(newNode)
	created := false
	if err != nil {
		if !errors.Is(err, network.ErrNodeNotFound) {
			return SplitResult{}, err
		}
		mid, err = net.AddJunction(newNode, network.JunctionOpts{
			Elevation:   (a.Elevation() + b.Elevation()) / 2,
			Coordinates: orb.Point{(a.Coordinates().X() + b.Coordinates().X()) / 2, (a.Coordinates().Y() + b.Coordinates().Y()) / 2},
		})
		if err != nil {
			return SplitResult{}, err
		}
		created = true
	}

	l1 := planar.Distance(a.Coordinates(), mid.Coordinates())
	l2 := planar.Distance(mid.Coordinates(), b.Coordinates())
	if opts.ScaleTo > 0 && l1+l2 > 0 {
		f := opts.ScaleTo / (l1 + l2)
		l1, l2 = l1*f, l2*f
	}
	if l1 <= 0 || l2 <= 0 {
		if created {
			_ = net.RemoveNode(newNode)
		}
		return SplitResult{}, fmt.Errorf("split %q at %q: zero-length segment (coincident coordinates): %w", pipeName, newNode, ErrInvalidEdit)
	}

	diameter, roughness := pipe.Diameter, pipe.Roughness
	if opts.Diameter > 0 {
		diameter = opts.Diameter
	}
	if opts.Roughness > 0 {
		roughness = opts.Roughness
	}
	status := pipe.InitialStatus()
	// Both segments carry the same flow, so halving K keeps the total
	// fitting loss of the original pipe.
	minorLoss := pipe.MinorLoss / 2

	if err := net.RemoveLink(pipeName); err != nil {
		return SplitResult{}, err
	}
	if _, err := net.AddPipe(first, start, newNode, network.PipeOpts{
		Length: l1, Diameter: diameter, Roughness: roughness, MinorLoss: minorLoss, Status: status,
	}); err != nil {
		return SplitResult{}, err
	}
	if _, err := net.AddPipe(second, newNode, end, network.PipeOpts{
		Length: l2, Diameter: diameter, Roughness: roughness, MinorLoss: minorLoss, Status: status,
	}); err != nil {
		return SplitResult{}, err
	}
	return SplitResult{First: first, Second: second, FirstLength: l1, SecondLength: l2}, nil
}
