// Package hydraulic solves network heads and flows with the global
// gradient algorithm (Todini & Pilati), one dense Cholesky solve per trial.
// Extended-period runs step tank levels between solves.
package hydraulic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/hydromap/internal/network"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnsolvable is returned when the system of equations is singular,
	// typically nodes cut off from every reservoir and tank.
	ErrUnsolvable = errors.New("hydraulic system unsolvable")
	// ErrNotConverged is returned when a step exhausts its trials.
	ErrNotConverged = errors.New("hydraulic solution did not converge")
)

// Simulator runs hydraulic simulations. The zero value is not usable;
// construct with NewSimulator.
type Simulator struct {
	logger *slog.Logger
}

// NewSimulator returns a Simulator that logs through logger.
func NewSimulator(logger *slog.Logger) *Simulator {
	return &Simulator{logger: logger}
}

// Run simulates the network from time zero to Times.Duration in
// Times.HydraulicStep increments, always ending with a solve at Duration.
// A zero duration yields one snapshot.
// The network is read, never modified.
func (s *Simulator) Run(ctx context.Context, net *network.Network) (*Results, error) {
	if err := checkConnectivity(net); err != nil {
		return nil, err
	}
	sv, err := newSolver(net, s.logger)
	if err != nil {
		return nil, err
	}

	step := net.Times.HydraulicStep
	if step <= 0 {
		step = time.Hour
	}
	res := &Results{}
	for t := time.Duration(0); ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		trials, err := sv.solve(t)
		if err != nil {
			return nil, fmt.Errorf("at %s: %w", t, err)
		}
		snap := sv.snapshot(t, trials)
		res.Times = append(res.Times, t)
		res.Snapshots = append(res.Snapshots, snap)
		s.logger.Debug("hydraulic step solved", "time", t, "trials", trials)

		if t >= net.Times.Duration {
			break
		}
		// The last step is shortened to end exactly at Duration.
		dt := min(step, net.Times.Duration-t)
		sv.advanceTanks(dt.Seconds())
		t += dt
	}
	return res, nil
}

// checkConnectivity rejects networks with nodes that no reservoir or tank
// can reach, which would make the gradient matrix singular.
func checkConnectivity(net *network.Network) error {
	for _, comp := range net.Components() {
		hasSource := false
		for _, name := range comp {
			n, _ := net.Node(name)
			if n.Kind() != network.KindJunction {
				hasSource = true
				break
			}
		}
		if !hasSource {
			return fmt.Errorf("%d node(s) not connected to any reservoir or tank (including %q): %w",
				len(comp), comp[0], ErrUnsolvable)
		}
	}
	return nil
}

type valveMode int

const (
	modeOpen valveMode = iota
	modeClosed
	modeActive
)

type linkState struct {
	link     network.Link
	from, to int
	mode     valveMode
	// dynamic is set for links whose status is recomputed between trials
	// (PRVs, check-valve pipes and pumps).
	dynamic bool
	curve   pumpCurve
	q       float64
	p, y    float64
	h       float64
}

type solver struct {
	net    *network.Network
	logger *slog.Logger

	nodes  []network.Node
	row    []int // matrix row per node, -1 for fixed-head nodes
	n      int
	head   []float64
	demand []float64
	level  []float64 // tank levels, by node index
	links  []linkState
}

func newSolver(net *network.Network, logger *slog.Logger) (*solver, error) {
	sv := &solver{net: net, logger: logger, nodes: net.Nodes()}
	index := make(map[string]int, len(sv.nodes))
	sv.row = make([]int, len(sv.nodes))
	sv.head = make([]float64, len(sv.nodes))
	sv.demand = make([]float64, len(sv.nodes))
	sv.level = make([]float64, len(sv.nodes))
	for i, node := range sv.nodes {
		index[node.Name()] = i
		sv.row[i] = -1
		switch n := node.(type) {
		case *network.Junction:
			sv.row[i] = sv.n
			sv.n++
			sv.head[i] = n.Elev
		case *network.Tank:
			sv.level[i] = n.InitLevel
		}
	}

	for _, l := range net.Links() {
		ls := linkState{link: l, from: index[l.StartNode()], to: index[l.EndNode()]}
		if l.InitialStatus() == network.StatusClosed {
			ls.mode = modeClosed
		}
		switch l := l.(type) {
		case *network.Pipe:
			ls.q = initialFlow(l.Diameter)
			ls.dynamic = l.InitialStatus() == network.StatusCheckValve
		case *network.Valve:
			ls.q = initialFlow(l.Diameter)
			switch l.Type {
			case network.ValvePRV:
				if l.InitialStatus() != network.StatusActive {
					break
				}
				if sv.row[ls.to] < 0 {
					logger.Warn("prv discharging into a fixed-head node simulated as open", "valve", l.Name())
					break
				}
				ls.mode = modeActive
				ls.dynamic = true
			case network.ValveTCV:
			default:
				logger.Warn("valve type simulated as an open valve", "valve", l.Name(), "type", l.Type)
			}
		case *network.Pump:
			c, err := newPumpCurve(net, l)
			if err != nil {
				return nil, err
			}
			ls.curve = c
			ls.q = c.design
			ls.dynamic = l.Speed > 0
			if l.Speed <= 0 {
				ls.mode = modeClosed
			}
		}
		if ls.mode == modeClosed {
			ls.q = 1e-6
		}
		sv.links = append(sv.links, ls)
	}
	if sv.n == 0 {
		return nil, fmt.Errorf("no junctions to solve: %w", ErrUnsolvable)
	}
	return sv, nil
}

// initialFlow corresponds to a velocity of 1 ft/s.
func initialFlow(diameter float64) float64 {
	return math.Pi * diameter * diameter / 4 * 0.3048
}

// solve iterates to a converged solution at time t and returns the number
// of trials used.
func (sv *solver) solve(t time.Duration) (int, error) {
	opts := sv.net.Options
	sv.setBoundary(t)

	trials := opts.Trials
	if trials <= 0 {
		trials = 200
	}
	accuracy := opts.Accuracy
	if accuracy <= 0 {
		accuracy = 0.001
	}
	viscosity := opts.Viscosity
	if viscosity <= 0 {
		viscosity = 1
	}

	a := mat.NewSymDense(sv.n, nil)
	f := mat.NewVecDense(sv.n, nil)
	excess := make([]float64, len(sv.nodes))
	var chol mat.Cholesky
	var x mat.VecDense

	for trial := 1; trial <= trials; trial++ {
		a.Zero()
		f.Zero()
		sv.assemble(a, f, excess, viscosity)

		if ok := chol.Factorize(a); !ok {
			return trial, fmt.Errorf("matrix not positive definite: %w", ErrUnsolvable)
		}
		if err := chol.SolveVecTo(&x, f); err != nil {
			return trial, fmt.Errorf("%v: %w", err, ErrUnsolvable)
		}
		for i := range sv.nodes {
			if r := sv.row[i]; r >= 0 {
				sv.head[i] = x.AtVec(r)
			}
		}

		var dqSum, qSum float64
		for k := range sv.links {
			ls := &sv.links[k]
			dh := sv.head[ls.from] - sv.head[ls.to]
			qNew := ls.q - ls.y + ls.p*dh
			dqSum += math.Abs(qNew - ls.q)
			qSum += math.Abs(qNew)
			ls.q = qNew
		}
		relErr := dqSum
		if qSum > 0 {
			relErr = dqSum / qSum
		}
		if math.IsNaN(relErr) {
			return trial, fmt.Errorf("solution diverged: %w", ErrUnsolvable)
		}
		if relErr <= accuracy {
			if !sv.updateStatus() {
				return trial, nil
			}
		}
	}
	return trials, fmt.Errorf("%d trials: %w", trials, ErrNotConverged)
}

// setBoundary fixes reservoir and tank heads and junction demands for t.
func (sv *solver) setBoundary(t time.Duration) {
	opts := sv.net.Options
	for i, node := range sv.nodes {
		switch n := node.(type) {
		case *network.Junction:
			sv.demand[i] = n.BaseDemand * sv.net.PatternValue(n.DemandPattern, t) * opts.DemandMultiplier
		case *network.Reservoir:
			sv.head[i] = n.BaseHead
			if n.HeadPattern != "" {
				sv.head[i] *= sv.net.PatternValue(n.HeadPattern, t)
			}
		case *network.Tank:
			sv.head[i] = n.Elev + sv.level[i]
		}
	}
}

// assemble builds the linearised node equations A*H = F. Active PRVs are
// added last because they depend on the flow excess at their downstream node.
// excess holds each node's net inflow from the current link flows less its
// demand.
func (sv *solver) assemble(a *mat.SymDense, f *mat.VecDense, excess []float64, viscosity float64) {
	for i := range excess {
		excess[i] = -sv.demand[i]
	}
	addSym := func(i, j int, v float64) {
		a.SetSym(i, j, a.At(i, j)+v)
	}
	addVec := func(i int, v float64) {
		f.SetVec(i, f.AtVec(i)+v)
	}

	for k := range sv.links {
		ls := &sv.links[k]
		if ls.mode == modeActive {
			continue
		}
		h, g := sv.linkLoss(ls, viscosity)
		ls.h = h
		ls.p = 1 / g
		ls.y = ls.p * h

		excess[ls.from] -= ls.q
		excess[ls.to] += ls.q

		ri, rj := sv.row[ls.from], sv.row[ls.to]
		flow := ls.q - ls.y
		if ri >= 0 {
			addSym(ri, ri, ls.p)
			addVec(ri, -flow)
		}
		if rj >= 0 {
			addSym(rj, rj, ls.p)
			addVec(rj, flow)
		}
		switch {
		case ri >= 0 && rj >= 0:
			addSym(ri, rj, -ls.p)
		case ri >= 0:
			addVec(ri, ls.p*sv.head[ls.to])
		case rj >= 0:
			addVec(rj, ls.p*sv.head[ls.from])
		}
	}

	for i := range sv.nodes {
		if r := sv.row[i]; r >= 0 {
			addVec(r, -sv.demand[i])
		}
	}

	// Each active PRV passes the flow its downstream node is short of. That
	// flow is folded back into excess so a PRV feeding another active PRV
	// carries the downstream valve's outflow as well.
	for _, group := range sv.activeGroups() {
		to := sv.links[group[0]].to
		share := -excess[to] / float64(len(group))
		v := sv.links[group[0]].link.(*network.Valve)
		hset := sv.nodes[to].Elevation() + v.Setting
		if rj := sv.row[to]; rj >= 0 {
			addSym(rj, rj, bigCoeff)
			addVec(rj, bigCoeff*hset)
		}
		for _, k := range group {
			ls := &sv.links[k]
			ls.p = 0
			ls.y = ls.q - share
			ls.h = sv.head[ls.from] - hset
			if ri := sv.row[ls.from]; ri >= 0 && share > 0 {
				addVec(ri, -share)
			}
			excess[ls.from] -= share
			excess[to] += share
		}
	}
}

// activeGroups returns the active PRVs grouped by downstream node. Groups are
// ordered so that a node's group comes after the groups of every active PRV
// leaving that node. PRVs on a cycle of active valves are appended last.
func (sv *solver) activeGroups() [][]int {
	into := make(map[int][]int)
	leaving := make(map[int]int)
	var nodes []int
	for k, ls := range sv.links {
		if ls.mode != modeActive {
			continue
		}
		if _, seen := into[ls.to]; !seen {
			nodes = append(nodes, ls.to)
		}
		into[ls.to] = append(into[ls.to], k)
		leaving[ls.from]++
	}
	if len(nodes) == 0 {
		return nil
	}

	groups := make([][]int, 0, len(nodes))
	done := make(map[int]bool, len(nodes))
	for progress := true; progress; {
		progress = false
		for _, j := range nodes {
			if done[j] || leaving[j] > 0 {
				continue
			}
			done[j] = true
			progress = true
			groups = append(groups, into[j])
			for _, k := range into[j] {
				leaving[sv.links[k].from]--
			}
		}
	}
	for _, j := range nodes {
		if !done[j] {
			groups = append(groups, into[j])
		}
	}
	return groups
}

func (sv *solver) linkLoss(ls *linkState, viscosity float64) (h, g float64) {
	if ls.mode == modeClosed {
		return bigCoeff * ls.q, bigCoeff
	}
	switch l := ls.link.(type) {
	case *network.Pipe:
		return friction(sv.net.Options.Headloss, l, ls.q, viscosity)
	case *network.Valve:
		k := l.MinorLoss
		if l.Type == network.ValveTCV {
			k = l.Setting
		}
		return valveLoss(l.Diameter, k, ls.q)
	case *network.Pump:
		return ls.curve.loss(ls.q, l.Speed)
	}
	return 0, minGradient
}

// updateStatus re-evaluates PRVs, check valves and pumps against the latest
// heads and flows. It reports whether any status changed.
func (sv *solver) updateStatus() bool {
	changed := false
	for k := range sv.links {
		ls := &sv.links[k]
		if !ls.dynamic {
			continue
		}
		hi, hj := sv.head[ls.from], sv.head[ls.to]
		old := ls.mode
		switch l := ls.link.(type) {
		case *network.Valve:
			ls.mode = prvStatus(ls.mode, sv.nodes[ls.to].Elevation()+l.Setting, hi, hj, ls.q)
		case *network.Pipe:
			ls.mode = checkValveStatus(ls.mode, hi-hj, ls.q)
		case *network.Pump:
			ls.mode = pumpStatus(ls.mode, hj-hi, ls.curve.shutoffHead(l.Speed), ls.q)
		}
		if ls.mode != old {
			changed = true
			if ls.mode == modeClosed {
				ls.q = 1e-6
			}
			sv.logger.Debug("link status changed", "link", ls.link.Name(), "from", old, "to", ls.mode)
		}
	}
	return changed
}

func prvStatus(mode valveMode, hset, hi, hj, q float64) valveMode {
	switch mode {
	case modeActive:
		switch {
		case q < -flowTol:
			return modeClosed
		case hi < hset-headTol:
			return modeOpen
		}
	case modeOpen:
		switch {
		case q < -flowTol:
			return modeClosed
		case hj > hset+headTol:
			return modeActive
		}
	case modeClosed:
		switch {
		case hi >= hset+headTol && hj < hset-headTol:
			return modeActive
		case hi < hset-headTol && hi > hj+headTol:
			return modeOpen
		}
	}
	return mode
}

func checkValveStatus(mode valveMode, dh, q float64) valveMode {
	switch {
	case mode == modeClosed && dh > headTol:
		return modeOpen
	case mode == modeOpen && (dh < -headTol || q < -flowTol):
		return modeClosed
	}
	return mode
}

func pumpStatus(mode valveMode, gain, shutoff, q float64) valveMode {
	switch {
	case mode == modeOpen && (gain > shutoff+headTol || q < -flowTol):
		return modeClosed
	case mode == modeClosed && gain < shutoff-headTol:
		return modeOpen
	}
	return mode
}

// advanceTanks integrates tank levels over dt seconds using the current
// flows, clamped to the tank's level range.
func (sv *solver) advanceTanks(dt float64) {
	inflow := sv.netInflow()
	for i, node := range sv.nodes {
		tank, ok := node.(*network.Tank)
		if !ok || tank.Area() <= 0 {
			continue
		}
		lvl := sv.level[i] + inflow[i]*dt/tank.Area()
		sv.level[i] = math.Min(math.Max(lvl, tank.MinLevel), tank.MaxLevel)
	}
}

func (sv *solver) netInflow() []float64 {
	in := make([]float64, len(sv.nodes))
	for _, ls := range sv.links {
		in[ls.from] -= ls.q
		in[ls.to] += ls.q
	}
	return in
}

func (sv *solver) snapshot(t time.Duration, trials int) Snapshot {
	snap := Snapshot{
		Time:   t,
		Nodes:  make(map[string]NodeResult, len(sv.nodes)),
		Links:  make(map[string]LinkResult, len(sv.links)),
		Trials: trials,
	}
	inflow := sv.netInflow()
	for i, node := range sv.nodes {
		r := NodeResult{Head: sv.head[i]}
		switch node.Kind() {
		case network.KindJunction:
			r.Pressure = sv.head[i] - node.Elevation()
			r.Demand = sv.demand[i]
		case network.KindTank:
			r.Pressure = sv.head[i] - node.Elevation()
			r.Demand = inflow[i]
		case network.KindReservoir:
			r.Demand = inflow[i]
		}
		snap.Nodes[node.Name()] = r
	}
	for _, ls := range sv.links {
		r := LinkResult{Flow: ls.q, Headloss: sv.head[ls.from] - sv.head[ls.to], Status: linkStatus(ls.mode)}
		if ls.mode == modeClosed {
			r.Flow = 0
		}
		switch l := ls.link.(type) {
		case *network.Pipe:
			r.Velocity = math.Abs(r.Flow) / (math.Pi * l.Diameter * l.Diameter / 4)
		case *network.Valve:
			r.Velocity = math.Abs(r.Flow) / (math.Pi * l.Diameter * l.Diameter / 4)
		}
		snap.Links[ls.link.Name()] = r
	}
	return snap
}

func linkStatus(m valveMode) network.LinkStatus {
	switch m {
	case modeClosed:
		return network.StatusClosed
	case modeActive:
		return network.StatusActive
	default:
		return network.StatusOpen
	}
}

func (m valveMode) String() string {
	return linkStatus(m).String()
}
