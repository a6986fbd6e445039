package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/pipeline"
	"github.com/spf13/cobra"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var applyEdits bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print element counts and connected components of a network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.loadScenario()
			if err != nil {
				return err
			}
			net, err := pipeline.NewLoader(root.logger()).Load(cmd.Context(), s)
			if err != nil {
				return err
			}
			if applyEdits {
				if _, err := edit.Apply(net, s.EditList()); err != nil {
					return err
				}
			}

			if len(net.Title) > 0 {
				title.Printf("%s\n", net.Title[0])
			}
			printTable(os.Stdout, []string{"element", "count"}, [][]string{
				{"junctions", fmt.Sprint(len(net.JunctionNames()))},
				{"reservoirs", fmt.Sprint(len(net.ReservoirNames()))},
				{"tanks", fmt.Sprint(len(net.TankNames()))},
				{"pipes", fmt.Sprint(len(net.PipeNames()))},
				{"valves", fmt.Sprint(len(net.ValveNames()))},
				{"pumps", fmt.Sprint(len(net.PumpNames()))},
			})
			fmt.Println()
			printComponents(net)
			return nil
		},
	}
	cmd.Flags().BoolVar(&applyEdits, "edits", false, "apply the scenario edits before inspecting")
	return cmd
}

func printComponents(net *network.Network) {
	comps := net.Components()
	rows := make([][]string, 0, len(comps))
	for i, c := range comps {
		members := c
		if len(members) > 6 {
			members = append(members[:6:6], "…")
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), fmt.Sprint(len(c)), strings.Join(members, " ")})
	}
	printTable(os.Stdout, []string{"component", "nodes", "members"}, rows)
	if len(comps) > 1 {
		bad.Printf("  %d disconnected components\n", len(comps))
	}
}
