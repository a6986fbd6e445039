package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/geo"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/pipeline"
	"github.com/spf13/cobra"
)

// phase tracks pass/fail for one check.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

var errCheckFailed = errors.New("checks failed")

func newCheckCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that a scenario loads, edits, projects and solves cleanly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.loadScenario()
			if err != nil {
				return err
			}
			phases := runChecks(cmd.Context(), s, pipeline.NewLoader(root.logger()), hydraulic.NewSimulator(root.logger()))
			if !reportPhases(os.Stdout, phases) {
				return errCheckFailed
			}
			return nil
		},
	}
}

// runChecks stops at the first phase that leaves nothing to check further.
func runChecks(ctx context.Context, s *config.Scenario, l pipeline.Loader, sim pipeline.Simulator) []*phase {
	load := &phase{name: "load network"}
	net, err := l.Load(ctx, s)
	if err != nil {
		load.errorf("%v", err)
		return []*phase{load}
	}
	phases := []*phase{load, checkCoordinates(net, s.CRS)}

	edits := &phase{name: "apply edits"}
	phases = append(phases, edits)
	if _, err := edit.Apply(net, s.EditList()); err != nil {
		edits.errorf("%v", err)
		return phases
	}

	conn := &phase{name: "connectivity"}
	phases = append(phases, conn)
	for _, comp := range net.Components() {
		if !hasSource(net, comp) {
			conn.errorf("%d node(s) without a reservoir or tank, including %s", len(comp), comp[0])
		}
	}
	if !conn.passed() {
		return phases
	}

	solve := &phase{name: "hydraulic solution"}
	phases = append(phases, solve)
	res, err := sim.Run(ctx, net)
	if err != nil {
		solve.errorf("%v", err)
		return phases
	}
	return append(phases, checkPressures(res))
}

func checkCoordinates(net *network.Network, crs config.CRS) *phase {
	p := &phase{name: "coordinates"}
	tr, err := geo.NewTransformer(crs.Source, crs.Target)
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	for _, n := range net.Nodes() {
		ll, err := tr.Transform(n.Coordinates())
		if err != nil {
			p.errorf("node %s: %v", n.Name(), err)
			continue
		}
		if ll.Lat < -90 || ll.Lat > 90 || ll.Lon < -180 || ll.Lon > 180 {
			p.errorf("node %s: projects outside WGS84 bounds (%.5f, %.5f)", n.Name(), ll.Lat, ll.Lon)
		}
	}
	return p
}

func checkPressures(res *hydraulic.Results) *phase {
	p := &phase{name: "pressures"}
	for _, snap := range res.Snapshots {
		for name, r := range snap.Nodes {
			if r.Pressure < 0 {
				p.errorf("t=%s node %s: negative pressure %.2f m", snap.Time, name, r.Pressure)
			}
		}
	}
	return p
}

func hasSource(net *network.Network, comp []string) bool {
	for _, name := range comp {
		if n, err := net.Node(name); err == nil && n.Kind() != network.KindJunction {
			return true
		}
	}
	return false
}

// reportPhases prints a PASS/FAIL line per phase followed by the errors of
// failed phases. It reports whether every phase passed.
func reportPhases(w io.Writer, phases []*phase) bool {
	allPassed := true
	for _, p := range phases {
		status := good.Sprint("PASS")
		if !p.passed() {
			status = bad.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-24s %s\n", p.name, status)
	}
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == 20 {
				fmt.Fprintf(w, "  ... and %d more\n", len(p.errors)-i)
				break
			}
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return allPassed
}
