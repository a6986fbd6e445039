package epanet

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/couchcryptid/hydromap/internal/network"
)

// WriteFile writes the network to path as an EPANET input file.
func WriteFile(path string, net *network.Network) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create network file: %w", err)
	}
	if err := Write(f, net); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write emits the network in LPS / metre units, whatever units it was read
// with. Sections the reader skips are not reproduced.
func Write(w io.Writer, net *network.Network) error {
	bw := bufio.NewWriter(w)
	ew := &errWriter{w: bw}

	ew.section("TITLE")
	for _, t := range net.Title {
		ew.printf("%s\n", t)
	}

	ew.section("JUNCTIONS")
	ew.printf(";%-15s %12s %12s %s\n", "ID", "Elev", "Demand", "Pattern")
	for _, name := range net.JunctionNames() {
		j := mustNode[*network.Junction](net, name)
		ew.printf(" %-15s %12s %12s %s\n", name, num(j.Elev), num(j.BaseDemand*1000), j.DemandPattern)
	}

	ew.section("RESERVOIRS")
	ew.printf(";%-15s %12s %s\n", "ID", "Head", "Pattern")
	for _, name := range net.ReservoirNames() {
		r := mustNode[*network.Reservoir](net, name)
		ew.printf(" %-15s %12s %s\n", name, num(r.BaseHead), r.HeadPattern)
	}

	ew.section("TANKS")
	ew.printf(";%-15s %12s %12s %12s %12s %12s %12s\n", "ID", "Elevation", "InitLevel", "MinLevel", "MaxLevel", "Diameter", "MinVol")
	for _, name := range net.TankNames() {
		t := mustNode[*network.Tank](net, name)
		ew.printf(" %-15s %12s %12s %12s %12s %12s %12s\n", name,
			num(t.Elev), num(t.InitLevel), num(t.MinLevel), num(t.MaxLevel), num(t.Diameter), "0")
	}

	dwScale := 1.0
	if net.Options.Headloss == network.DarcyWeisbach {
		dwScale = 1000
	}
	ew.section("PIPES")
	ew.printf(";%-15s %-15s %-15s %12s %12s %12s %12s %s\n", "ID", "Node1", "Node2", "Length", "Diameter", "Roughness", "MinorLoss", "Status")
	for _, name := range net.PipeNames() {
		p := mustLink[*network.Pipe](net, name)
		ew.printf(" %-15s %-15s %-15s %12s %12s %12s %12s %s\n", name, p.StartNode(), p.EndNode(),
			num(p.Length), num(p.Diameter*1000), num(p.Roughness*dwScale), num(p.MinorLoss), p.InitialStatus())
	}

	ew.section("PUMPS")
	ew.printf(";%-15s %-15s %-15s %s\n", "ID", "Node1", "Node2", "Parameters")
	for _, name := range net.PumpNames() {
		p := mustLink[*network.Pump](net, name)
		var params []string
		if p.HeadCurve != "" {
			params = append(params, "HEAD "+p.HeadCurve)
		} else {
			params = append(params, "POWER "+num(p.Power))
		}
		// A stopped pump is written as a zero setting under [STATUS].
		if p.Speed != 1 && p.Speed != 0 {
			params = append(params, "SPEED "+num(p.Speed))
		}
		ew.printf(" %-15s %-15s %-15s %s\n", name, p.StartNode(), p.EndNode(), strings.Join(params, " "))
	}

	ew.section("VALVES")
	ew.printf(";%-15s %-15s %-15s %12s %-4s %12s %12s\n", "ID", "Node1", "Node2", "Diameter", "Type", "Setting", "MinorLoss")
	for _, name := range net.ValveNames() {
		v := mustLink[*network.Valve](net, name)
		setting := num(v.Setting)
		switch v.Type {
		case network.ValveFCV:
			setting = num(v.Setting * 1000)
		case network.ValveGPV:
			setting = v.Curve
		}
		ew.printf(" %-15s %-15s %-15s %12s %-4s %12s %12s\n", name, v.StartNode(), v.EndNode(),
			num(v.Diameter*1000), v.Type, setting, num(v.MinorLoss))
	}

	ew.section("STATUS")
	for _, l := range net.Links() {
		if p, ok := l.(*network.Pump); ok && p.Speed == 0 {
			ew.printf(" %-15s %s\n", l.Name(), "0")
			continue
		}
		switch l.(type) {
		case *network.Valve, *network.Pump:
			if s := l.InitialStatus(); s == network.StatusOpen || s == network.StatusClosed {
				ew.printf(" %-15s %s\n", l.Name(), s)
			}
		}
	}

	ew.section("PATTERNS")
	for _, id := range sortedKeys(net.Patterns) {
		factors := net.Patterns[id]
		for i := 0; i < len(factors); i += 6 {
			parts := make([]string, 0, 6)
			for _, f := range factors[i:min(i+6, len(factors))] {
				parts = append(parts, num(f))
			}
			ew.printf(" %-15s %s\n", id, strings.Join(parts, " "))
		}
	}

	ew.section("CURVES")
	flowHead := flowHeadCurves(net)
	for _, id := range sortedKeys(net.Curves) {
		for _, pt := range net.Curves[id].Points {
			x := pt[0]
			if flowHead[id] {
				x *= 1000
			}
			ew.printf(" %-15s %12s %12s\n", id, num(x), num(pt[1]))
		}
	}

	ew.section("OPTIONS")
	ew.printf(" %-20s %s\n", "Units", "LPS")
	ew.printf(" %-20s %s\n", "Headloss", net.Options.Headloss)
	ew.printf(" %-20s %s\n", "Trials", num(float64(net.Options.Trials)))
	ew.printf(" %-20s %s\n", "Accuracy", num(net.Options.Accuracy))
	ew.printf(" %-20s %s\n", "Viscosity", num(net.Options.Viscosity))
	ew.printf(" %-20s %s\n", "Demand Multiplier", num(net.Options.DemandMultiplier))
	if net.Options.DefaultPattern != "" {
		ew.printf(" %-20s %s\n", "Pattern", net.Options.DefaultPattern)
	}

	ew.section("TIMES")
	ew.printf(" %-20s %s\n", "Duration", formatDuration(net.Times.Duration))
	ew.printf(" %-20s %s\n", "Hydraulic Timestep", formatDuration(net.Times.HydraulicStep))
	ew.printf(" %-20s %s\n", "Pattern Timestep", formatDuration(net.Times.PatternStep))
	ew.printf(" %-20s %s\n", "Pattern Start", formatDuration(net.Times.PatternStart))

	ew.section("COORDINATES")
	ew.printf(";%-15s %18s %18s\n", "Node", "X-Coord", "Y-Coord")
	for _, n := range net.Nodes() {
		c := n.Coordinates()
		ew.printf(" %-15s %18s %18s\n", n.Name(), num(c.X()), num(c.Y()))
	}

	ew.printf("\n[END]\n")
	if ew.err != nil {
		return fmt.Errorf("write network: %w", ew.err)
	}
	return bw.Flush()
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func (e *errWriter) section(name string) {
	e.printf("\n[%s]\n", name)
}

func num(v float64) string {
	return fmt.Sprintf("%.10g", v)
}

func mustNode[T network.Node](net *network.Network, name string) T {
	n, _ := net.Node(name)
	return n.(T)
}

func mustLink[T network.Link](net *network.Network, name string) T {
	l, _ := net.Link(name)
	return l.(T)
}

func flowHeadCurves(net *network.Network) map[string]bool {
	out := make(map[string]bool)
	for _, l := range net.Links() {
		switch l := l.(type) {
		case *network.Pump:
			out[l.HeadCurve] = true
		case *network.Valve:
			if l.Curve != "" {
				out[l.Curve] = true
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
