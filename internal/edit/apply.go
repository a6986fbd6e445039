package edit

import (
	"fmt"

	"github.com/couchcryptid/hydromap/internal/network"
)

// Op names an edit operation.
type Op string

const (
	OpSplitPipe       Op = "split_pipe"
	OpInsertReservoir Op = "insert_reservoir"
	OpInsertPRV       Op = "insert_prv"
)

// Edit is one step of an edit scenario. Which fields apply depends on Op:
//
//	split_pipe:       Link, Node, Split
//	insert_reservoir: Name, Node, Reservoir
//	insert_prv:       Link, PRV
type Edit struct {
	Op        Op
	Link      string
	Node      string
	Name      string
	Split     SplitOptions
	Reservoir ReservoirOptions
	PRV       PRVOptions
}

// Change records what an applied edit produced.
type Change struct {
	Op      Op
	Target  string
	Created []string
	Removed []string
}

// Apply runs the edits in order and stops at the first failure, returning
// the changes made so far together with the error.
func Apply(net *network.Network, edits []Edit) ([]Change, error) {
	changes := make([]Change, 0, len(edits))
	for i, e := range edits {
		c, err := applyOne(net, e)
		if err != nil {
			return changes, fmt.Errorf("edit %d (%s): %w", i+1, e.Op, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func applyOne(net *network.Network, e Edit) (Change, error) {
	switch e.Op {
	case OpSplitPipe:
		_, nodeErr := net.Node(e.Node)
		res, err := SplitPipe(net, e.Link, e.Node, e.Split)
		if err != nil {
			return Change{}, err
		}
		created := []string{res.First, res.Second}
		if nodeErr != nil {
			created = append(created, e.Node)
		}
		return Change{Op: e.Op, Target: e.Link, Created: created, Removed: []string{e.Link}}, nil
	case OpInsertReservoir:
		pipe, err := InsertReservoir(net, e.Name, e.Node, e.Reservoir)
		if err != nil {
			return Change{}, err
		}
		return Change{Op: e.Op, Target: e.Node, Created: []string{e.Name, pipe}}, nil
	case OpInsertPRV:
		valve, err := InsertPressureReducingValve(net, e.Link, e.PRV)
		if err != nil {
			return Change{}, err
		}
		return Change{Op: e.Op, Target: e.Link, Created: []string{valve}, Removed: []string{e.Link}}, nil
	default:
		return Change{}, fmt.Errorf("unknown op %q: %w", e.Op, ErrInvalidEdit)
	}
}
