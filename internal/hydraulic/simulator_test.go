package hydraulic_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/samples"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimulator() *hydraulic.Simulator {
	return hydraulic.NewSimulator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func hazenWilliams(q, c, d, l float64) float64 {
	return 10.667 * math.Pow(c, -1.852) * math.Pow(d, -4.871) * l * math.Pow(q, 1.852)
}

// chain builds R1 -> J1 -> J2 with the given demands (m3/s).
func chain(t *testing.T, d1, d2 float64) *network.Network {
	t.Helper()
	net := network.New()
	_, err := net.AddReservoir("R1", network.ReservoirOpts{BaseHead: 100, Coordinates: orb.Point{0, 0}})
	require.NoError(t, err)
	_, err = net.AddJunction("J1", network.JunctionOpts{Elevation: 10, BaseDemand: d1, Coordinates: orb.Point{500, 0}})
	require.NoError(t, err)
	_, err = net.AddJunction("J2", network.JunctionOpts{Elevation: 5, BaseDemand: d2, Coordinates: orb.Point{1000, 0}})
	require.NoError(t, err)
	_, err = net.AddPipe("P1", "R1", "J1", network.PipeOpts{Length: 500, Diameter: 0.2, Roughness: 130})
	require.NoError(t, err)
	_, err = net.AddPipe("P2", "J1", "J2", network.PipeOpts{Length: 500, Diameter: 0.15, Roughness: 130})
	require.NoError(t, err)
	return net
}

func TestRun_SteadyStateMatchesHazenWilliams(t *testing.T) {
	net := chain(t, 0.010, 0.005)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)
	last := res.Last()

	h1 := 100 - hazenWilliams(0.015, 130, 0.2, 500)
	h2 := h1 - hazenWilliams(0.005, 130, 0.15, 500)
	assert.InDelta(t, h1, last.Nodes["J1"].Head, 0.01)
	assert.InDelta(t, h2, last.Nodes["J2"].Head, 0.01)
	assert.InDelta(t, h2-5, last.Nodes["J2"].Pressure, 0.01)

	assert.InDelta(t, 0.015, last.Links["P1"].Flow, 1e-5)
	assert.InDelta(t, 0.005, last.Links["P2"].Flow, 1e-5)
	assert.InDelta(t, 0.015/(math.Pi*0.01), last.Links["P1"].Velocity, 1e-3)
	assert.InDelta(t, -0.015, last.Nodes["R1"].Demand, 1e-5, "reservoir supplies the total demand")
	assert.Zero(t, last.Nodes["R1"].Pressure)
}

func TestRun_ActivePRVHoldsDownstreamPressure(t *testing.T) {
	net := chain(t, 0.002, 0.004)
	require.NoError(t, net.RemoveLink("P2"))
	_, err := net.AddValve("VRP_P2", "J1", "J2", network.ValveOpts{
		Type: network.ValvePRV, Diameter: 0.15, Setting: 20, Status: network.StatusActive,
	})
	require.NoError(t, err)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	last := res.Last()

	assert.InDelta(t, 20, last.Nodes["J2"].Pressure, 0.01)
	assert.Greater(t, last.Nodes["J1"].Pressure, 20.0)
	assert.Equal(t, network.StatusActive, last.Links["VRP_P2"].Status)
	assert.InDelta(t, 0.004, last.Links["VRP_P2"].Flow, 1e-5)
}

// totalDemand sums junction demands and reservoir supply in a snapshot.
func totalDemand(net *network.Network, snap hydraulic.Snapshot) (demand, supply float64) {
	for _, name := range net.JunctionNames() {
		demand += snap.Nodes[name].Demand
	}
	for _, name := range net.ReservoirNames() {
		supply -= snap.Nodes[name].Demand
	}
	return demand, supply
}

func addPRV(t *testing.T, net *network.Network, name, from, to string, setting float64) {
	t.Helper()
	_, err := net.AddValve(name, from, to, network.ValveOpts{
		Type: network.ValvePRV, Diameter: 0.15, Setting: setting, Status: network.StatusActive,
	})
	require.NoError(t, err)
}

func TestRun_PRVsInSeriesConserveFlow(t *testing.T) {
	net := chain(t, 0.002, 0.004)
	require.NoError(t, net.RemoveLink("P2"))
	_, err := net.AddJunction("J3", network.JunctionOpts{Elevation: 0, BaseDemand: 0.006, Coordinates: orb.Point{1500, 0}})
	require.NoError(t, err)
	addPRV(t, net, "V1", "J1", "J2", 60)
	addPRV(t, net, "V2", "J2", "J3", 30)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	last := res.Last()

	assert.Equal(t, network.StatusActive, last.Links["V1"].Status)
	assert.Equal(t, network.StatusActive, last.Links["V2"].Status)
	assert.InDelta(t, 60, last.Nodes["J2"].Pressure, 0.01)
	assert.InDelta(t, 30, last.Nodes["J3"].Pressure, 0.01)

	assert.InDelta(t, 0.006, last.Links["V2"].Flow, 1e-6)
	assert.InDelta(t, 0.010, last.Links["V1"].Flow, 1e-6, "upstream valve carries both downstream demands")
	assert.InDelta(t, 0.012, last.Links["P1"].Flow, 1e-6)

	demand, supply := totalDemand(net, *last)
	assert.InDelta(t, 0.012, demand, 1e-12)
	assert.InDelta(t, demand, supply, 1e-6, "reservoir supplies the total demand")
}

func TestRun_PRVsInParallelShareFlow(t *testing.T) {
	net := chain(t, 0.002, 0.006)
	require.NoError(t, net.RemoveLink("P2"))
	addPRV(t, net, "VA", "J1", "J2", 20)
	addPRV(t, net, "VB", "J1", "J2", 20)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	last := res.Last()

	assert.InDelta(t, 20, last.Nodes["J2"].Pressure, 0.01)
	assert.InDelta(t, 0.006, last.Links["VA"].Flow+last.Links["VB"].Flow, 1e-6)
	assert.InDelta(t, 0.008, last.Links["P1"].Flow, 1e-6)

	demand, supply := totalDemand(net, *last)
	assert.InDelta(t, demand, supply, 1e-6, "reservoir supplies the total demand")
}

func TestRun_PRVOpensWhenUpstreamTooLow(t *testing.T) {
	net := chain(t, 0.002, 0.004)
	require.NoError(t, net.RemoveLink("P2"))
	_, err := net.AddValve("V", "J1", "J2", network.ValveOpts{
		Type: network.ValvePRV, Diameter: 0.15, Setting: 200, Status: network.StatusActive,
	})
	require.NoError(t, err)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	last := res.Last()

	assert.Equal(t, network.StatusOpen, last.Links["V"].Status)
	assert.Less(t, last.Nodes["J2"].Pressure, 100.0)
	assert.InDelta(t, 0.004, last.Links["V"].Flow, 1e-5)
}

func TestRun_ClosedPipeCarriesNoFlow(t *testing.T) {
	net := chain(t, 0.010, 0.0)
	_, err := net.AddPipe("P3", "R1", "J2", network.PipeOpts{Length: 800, Diameter: 0.1, Roughness: 100, Status: network.StatusClosed})
	require.NoError(t, err)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	last := res.Last()
	assert.Zero(t, last.Links["P3"].Flow)
	assert.Equal(t, network.StatusClosed, last.Links["P3"].Status)
	assert.InDelta(t, 0.010, last.Links["P1"].Flow, 1e-5)
}

func TestRun_DisconnectedNetwork(t *testing.T) {
	net := chain(t, 0.01, 0.0)
	_, err := net.AddJunction("ISO", network.JunctionOpts{Elevation: 0})
	require.NoError(t, err)

	_, err = newSimulator().Run(context.Background(), net)
	require.ErrorIs(t, err, hydraulic.ErrUnsolvable)
	assert.Contains(t, err.Error(), `"ISO"`)
}

func TestRun_ExtendedPeriodNet1(t *testing.T) {
	net, err := samples.Load("Net1.inp")
	require.NoError(t, err)

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 25)
	assert.Equal(t, 24*time.Hour, res.Times[len(res.Times)-1])

	first := res.Snapshots[0]
	for _, name := range net.JunctionNames() {
		p := first.Nodes[name].Pressure
		assert.Greater(t, p, 0.0, "junction %s", name)
		assert.Less(t, p, 120.0, "junction %s", name)
	}
	assert.Positive(t, first.Links["9"].Flow, "pump delivers")

	// Demand follows pattern 1: factor 1.2 applies between 2h and 4h.
	base := first.Nodes["11"].Demand
	assert.InDelta(t, base*1.2, res.Snapshots[2].Nodes["11"].Demand, 1e-12)

	tank, _ := net.Node("2")
	for _, snap := range res.Snapshots {
		lvl := snap.Nodes["2"].Head - tank.Elevation()
		assert.GreaterOrEqual(t, lvl, tank.(*network.Tank).MinLevel-1e-9)
		assert.LessOrEqual(t, lvl, tank.(*network.Tank).MaxLevel+1e-9)
	}
}

func TestRun_FinalStepEndsAtDuration(t *testing.T) {
	net := chain(t, 0.01, 0.005)
	net.Times.Duration = 90 * time.Minute
	net.Times.HydraulicStep = time.Hour

	res, err := newSimulator().Run(context.Background(), net)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, time.Hour, 90 * time.Minute}, res.Times)
	assert.Equal(t, 90*time.Minute, res.Last().Time)
}

func TestRun_ContextCancelled(t *testing.T) {
	net := chain(t, 0.01, 0.01)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newSimulator().Run(ctx, net)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClipNegativePressures(t *testing.T) {
	in := map[string]float64{"A": -3.2, "B": 0, "C": 12.5, "D": -0.0001}
	out := hydraulic.ClipNegativePressures(in)

	assert.Equal(t, map[string]float64{"A": 0, "B": 0, "C": 12.5, "D": 0}, out)
	assert.InDelta(t, -3.2, in["A"], 1e-12, "input is not modified")
}

func TestResults_LastEmpty(t *testing.T) {
	var r *hydraulic.Results
	assert.Nil(t, r.Last())
	assert.Nil(t, (&hydraulic.Results{}).Last())
}
