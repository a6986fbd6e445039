package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/geo"
	"github.com/couchcryptid/hydromap/internal/pipeline"
	"github.com/couchcryptid/hydromap/internal/render"
	"github.com/spf13/cobra"
)

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		inpPath     string
		geoJSONPath string
		figurePath  string
		skipEdits   bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the edited network as INP, GeoJSON or a topology figure without simulating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inpPath == "" && geoJSONPath == "" && figurePath == "" {
				return errors.New("nothing to export: set --inp, --geojson or --figure")
			}
			s, err := root.loadScenario()
			if err != nil {
				return err
			}
			logger := root.logger()

			net, err := pipeline.NewLoader(logger).Load(cmd.Context(), s)
			if err != nil {
				return err
			}
			if !skipEdits {
				changes, err := edit.Apply(net, s.EditList())
				if err != nil {
					return err
				}
				logger.Info("edits applied", "count", len(changes))
			}

			if inpPath != "" {
				if err := epanet.WriteFile(inpPath, net); err != nil {
					return err
				}
				logger.Info("inp written", "path", inpPath)
			}
			if geoJSONPath != "" {
				tr, err := geo.NewTransformer(s.CRS.Source, s.CRS.Target)
				if err != nil {
					return err
				}
				fc, err := render.ExportGeoJSON(net, nil, tr)
				if err != nil {
					return err
				}
				raw, err := fc.MarshalJSON()
				if err != nil {
					return fmt.Errorf("encode geojson: %w", err)
				}
				if err := os.WriteFile(geoJSONPath, raw, 0o644); err != nil {
					return fmt.Errorf("write geojson: %w", err)
				}
				logger.Info("geojson written", "path", geoJSONPath, "features", len(fc.Features))
			}
			if figurePath != "" {
				if err := writeFigure(figurePath, s.Name, net); err != nil {
					return err
				}
				logger.Info("figure written", "path", figurePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inpPath, "inp", "", "write the edited network as an INP file")
	cmd.Flags().StringVar(&geoJSONPath, "geojson", "", "write the edited topology as GeoJSON")
	cmd.Flags().StringVar(&figurePath, "figure", "", "write the topology figure as an HTML page")
	cmd.Flags().BoolVar(&skipEdits, "no-edits", false, "export the network as loaded")
	return cmd
}
