package edit_test

import (
	"math"
	"testing"

	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineNetwork builds R1 - J1 - J2 along the x axis, P1 and P2 of 100 m each.
func lineNetwork(t *testing.T) *network.Network {
	t.Helper()
	net := network.New()
	_, err := net.AddReservoir("R1", network.ReservoirOpts{BaseHead: 100, Coordinates: orb.Point{0, 0}})
	require.NoError(t, err)
	_, err = net.AddJunction("J1", network.JunctionOpts{Elevation: 50, BaseDemand: 0.01, Coordinates: orb.Point{100, 0}})
	require.NoError(t, err)
	_, err = net.AddJunction("J2", network.JunctionOpts{Elevation: 40, BaseDemand: 0.005, Coordinates: orb.Point{200, 0}})
	require.NoError(t, err)
	_, err = net.AddPipe("P1", "R1", "J1", network.PipeOpts{Length: 100, Diameter: 0.2, Roughness: 130})
	require.NoError(t, err)
	_, err = net.AddPipe("P2", "J1", "J2", network.PipeOpts{Length: 100, Diameter: 0.15, Roughness: 120})
	require.NoError(t, err)
	return net
}

func TestInsertPressureReducingValve(t *testing.T) {
	net := lineNetwork(t)

	name, err := edit.InsertPressureReducingValve(net, "P2", edit.PRVOptions{})
	require.NoError(t, err)
	assert.Equal(t, "VRP_P2", name)

	_, err = net.Link("P2")
	require.ErrorIs(t, err, network.ErrLinkNotFound)

	v, err := net.Valve("VRP_P2")
	require.NoError(t, err)
	assert.Equal(t, "J1", v.StartNode())
	assert.Equal(t, "J2", v.EndNode())
	assert.Equal(t, network.ValvePRV, v.Type)
	assert.InDelta(t, 0.15, v.Diameter, 1e-12)
	assert.InDelta(t, edit.DefaultPRVSetting, v.Setting, 1e-12)
	assert.Zero(t, v.MinorLoss)
	assert.Equal(t, network.StatusActive, v.InitialStatus())
}

func TestInsertPressureReducingValve_CustomSetting(t *testing.T) {
	net := lineNetwork(t)

	name, err := edit.InsertPressureReducingValve(net, "P1", edit.PRVOptions{Name: "PRV-A", Setting: 35})
	require.NoError(t, err)
	v, err := net.Valve(name)
	require.NoError(t, err)
	assert.InDelta(t, 35, v.Setting, 1e-12)
}

func TestInsertPressureReducingValve_MissingLink(t *testing.T) {
	net := lineNetwork(t)

	_, err := edit.InsertPressureReducingValve(net, "P9", edit.PRVOptions{})
	require.ErrorIs(t, err, network.ErrLinkNotFound)
	assert.Equal(t, 2, net.LinkCount())
}

func TestInsertReservoir(t *testing.T) {
	net := lineNetwork(t)

	pipe, err := edit.InsertReservoir(net, "r1", "J2", edit.ReservoirOptions{})
	require.NoError(t, err)
	assert.Equal(t, "P_r1_J2", pipe)

	n, err := net.Node("r1")
	require.NoError(t, err)
	r := n.(*network.Reservoir)
	assert.InDelta(t, edit.DefaultReservoirHead, r.BaseHead, 1e-9)
	assert.Equal(t, orb.Point{200, 0}, r.Coordinates())

	p, err := net.Pipe(pipe)
	require.NoError(t, err)
	assert.Equal(t, "r1", p.StartNode())
	assert.Equal(t, "J2", p.EndNode())
	assert.InDelta(t, 0.10, p.Length, 1e-12)
	assert.InDelta(t, 0.110, p.Diameter, 1e-12)
	assert.InDelta(t, 140, p.Roughness, 1e-12)
}

func TestInsertReservoir_Errors(t *testing.T) {
	net := lineNetwork(t)

	_, err := edit.InsertReservoir(net, "r1", "N49", edit.ReservoirOptions{})
	require.ErrorIs(t, err, network.ErrNodeNotFound)

	_, err = edit.InsertReservoir(net, "J1", "J2", edit.ReservoirOptions{})
	require.ErrorIs(t, err, network.ErrDuplicateName)

	_, err = edit.InsertReservoir(net, "r1", "J2", edit.ReservoirOptions{PipeName: "P1"})
	require.ErrorIs(t, err, network.ErrDuplicateName)
	_, err = net.Node("r1")
	require.ErrorIs(t, err, network.ErrNodeNotFound, "failed insert must not leave the reservoir behind")
}

func TestSplitPipe_MidpointCreated(t *testing.T) {
	net := lineNetwork(t)

	res, err := edit.SplitPipe(net, "P2", "M", edit.SplitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "P2_1", res.First)
	assert.Equal(t, "P2_2", res.Second)
	assert.InDelta(t, 50, res.FirstLength, 1e-9)
	assert.InDelta(t, 50, res.SecondLength, 1e-9)

	m, err := net.Node("M")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{150, 0}, m.Coordinates())
	assert.InDelta(t, 45, m.Elevation(), 1e-9)

	p1, err := net.Pipe("P2_1")
	require.NoError(t, err)
	assert.Equal(t, "J1", p1.StartNode())
	assert.Equal(t, "M", p1.EndNode())
	assert.InDelta(t, 0.15, p1.Diameter, 1e-12)
	assert.InDelta(t, 120, p1.Roughness, 1e-12)

	p2, err := net.Pipe("P2_2")
	require.NoError(t, err)
	assert.Equal(t, "M", p2.StartNode())
	assert.Equal(t, "J2", p2.EndNode())
}

func TestSplitPipe_ExistingNodeAndScale(t *testing.T) {
	net := lineNetwork(t)
	_, err := net.AddJunction("N", network.JunctionOpts{Elevation: 45, Coordinates: orb.Point{130, 40}})
	require.NoError(t, err)

	res, err := edit.SplitPipe(net, "P2", "N", edit.SplitOptions{ScaleTo: 188.12067746, Diameter: 0.032, Roughness: 140})
	require.NoError(t, err)
	assert.InDelta(t, 188.12067746, res.FirstLength+res.SecondLength, 1e-9)
	assert.InDelta(t, 50.0/(50.0+math.Hypot(70, 40)), res.FirstLength/188.12067746, 1e-9)

	p, err := net.Pipe(res.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.032, p.Diameter, 1e-12)
	assert.InDelta(t, 140, p.Roughness, 1e-12)
}

func TestSplitPipe_SegmentsShareMinorLoss(t *testing.T) {
	net := lineNetwork(t)
	p, err := net.Pipe("P2")
	require.NoError(t, err)
	p.MinorLoss = 0.8

	res, err := edit.SplitPipe(net, "P2", "M", edit.SplitOptions{})
	require.NoError(t, err)

	first, err := net.Pipe(res.First)
	require.NoError(t, err)
	second, err := net.Pipe(res.Second)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, first.MinorLoss, 1e-12)
	assert.InDelta(t, first.MinorLoss, second.MinorLoss, 1e-12)
}

func TestSplitPipe_Errors(t *testing.T) {
	net := lineNetwork(t)
	_, err := net.AddValve("V1", "R1", "J2", network.ValveOpts{Type: network.ValveTCV, Diameter: 0.1})
	require.NoError(t, err)
	_, err = net.AddJunction("SAME", network.JunctionOpts{Coordinates: orb.Point{100, 0}})
	require.NoError(t, err)

	tests := []struct {
		name    string
		pipe    string
		node    string
		wantErr error
	}{
		{name: "missing pipe", pipe: "P9", node: "M", wantErr: network.ErrLinkNotFound},
		{name: "not a pipe", pipe: "V1", node: "M", wantErr: network.ErrLinkNotFound},
		{name: "endpoint", pipe: "P2", node: "J1", wantErr: edit.ErrInvalidEdit},
		{name: "coincident node", pipe: "P2", node: "SAME", wantErr: edit.ErrInvalidEdit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := edit.SplitPipe(net, tt.pipe, tt.node, edit.SplitOptions{})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	_, err = net.Pipe("P2")
	require.NoError(t, err, "failed splits leave the pipe in place")
	_, err = net.Node("M")
	require.ErrorIs(t, err, network.ErrNodeNotFound)
}

func TestSplitThenValve_EndToEnd(t *testing.T) {
	net := lineNetwork(t)

	changes, err := edit.Apply(net, []edit.Edit{
		{Op: edit.OpSplitPipe, Link: "P2", Node: "M"},
		{Op: edit.OpInsertPRV, Link: "P2_1"},
		{Op: edit.OpInsertReservoir, Name: "r1", Node: "J2"},
	})
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, []string{"P2_1", "P2_2", "M"}, changes[0].Created)
	assert.Equal(t, []string{"VRP_P2_1"}, changes[1].Created)
	assert.Equal(t, []string{"r1", "P_r1_J2"}, changes[2].Created)

	assert.NotContains(t, net.LinkNames(), "P2")
	assert.NotContains(t, net.LinkNames(), "P2_1")
	assert.ElementsMatch(t, []string{"P1", "P2_2", "VRP_P2_1", "P_r1_J2"}, net.LinkNames())

	p, err := net.Pipe("P2_2")
	require.NoError(t, err)
	assert.InDelta(t, 50, p.Length, 1e-9)
}

func TestApply_StopsAtFirstFailure(t *testing.T) {
	net := lineNetwork(t)

	changes, err := edit.Apply(net, []edit.Edit{
		{Op: edit.OpInsertPRV, Link: "P1"},
		{Op: edit.OpInsertPRV, Link: "P1"},
		{Op: edit.OpInsertPRV, Link: "P2"},
	})
	require.ErrorIs(t, err, network.ErrLinkNotFound)
	assert.Contains(t, err.Error(), "edit 2 (insert_prv)")
	assert.Len(t, changes, 1)
	_, err = net.Pipe("P2")
	require.NoError(t, err)

	_, err = edit.Apply(net, []edit.Edit{{Op: "rotate"}})
	require.ErrorIs(t, err, edit.ErrInvalidEdit)
}

func TestSplitPipe_LengthsSumToEndpointDistance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("segments through a point on the pipe sum to its span", prop.ForAll(
		func(x1, y1, x2, y2, f float64) bool {
			a, b := orb.Point{x1, y1}, orb.Point{x2, y2}
			span := math.Hypot(x2-x1, y2-y1)
			if span < 1 {
				return true
			}
			net := network.New()
			if _, err := net.AddJunction("A", network.JunctionOpts{Coordinates: a}); err != nil {
				return false
			}
			if _, err := net.AddJunction("B", network.JunctionOpts{Coordinates: b}); err != nil {
				return false
			}
			if _, err := net.AddJunction("M", network.JunctionOpts{Coordinates: orb.Point{x1 + f*(x2-x1), y1 + f*(y2-y1)}}); err != nil {
				return false
			}
			if _, err := net.AddPipe("P", "A", "B", network.PipeOpts{Length: span, Diameter: 0.1, Roughness: 100}); err != nil {
				return false
			}
			res, err := edit.SplitPipe(net, "P", "M", edit.SplitOptions{})
			if err != nil {
				return false
			}
			return math.Abs(res.FirstLength+res.SecondLength-span) <= 1e-6
		},
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e7, 1e7),
		gen.Float64Range(-1e6, 1e6),
		gen.Float64Range(-1e7, 1e7),
		gen.Float64Range(0.01, 0.99),
	))

	properties.TestingRun(t)
}
