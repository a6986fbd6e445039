package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kafkaadapter "github.com/couchcryptid/hydromap/internal/adapter/kafka"
	"github.com/couchcryptid/hydromap/internal/adapter/mapbox"
	s3adapter "github.com/couchcryptid/hydromap/internal/adapter/s3"
	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/observability"
	"github.com/couchcryptid/hydromap/internal/pipeline"
	"github.com/spf13/cobra"
)

func newRenderCmd(root *rootOptions) *cobra.Command {
	var (
		output  string
		geoJSON string
		geocode bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Apply the scenario edits, simulate and write the pressure map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.loadScenario()
			if err != nil {
				return err
			}
			if output != "" {
				s.Output = output
			}
			if geoJSON != "" {
				s.GeoJSON = geoJSON
			}
			if cmd.Flags().Changed("geocode") {
				s.Geocode = geocode
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := root.logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			p, cleanup, err := buildPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := p.Run(ctx, s)
			if err != nil {
				logger.Error("render failed", "error", err)
				return err
			}
			printReport(os.Stdout, rep)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "HTML map path (default: the scenario output)")
	cmd.Flags().StringVar(&geoJSON, "geojson", "", "also write the network with results as GeoJSON")
	cmd.Flags().BoolVar(&geocode, "geocode", false, "caption the map with the place name at its centre")
	return cmd
}

// buildPipeline wires the optional sinks enabled in cfg. The returned
// cleanup closes whatever was opened.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	metrics := observability.NewMetrics()
	var (
		opts    []pipeline.Option
		closers []func() error
	)

	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, metrics, logger)
		opts = append(opts, pipeline.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	}

	if cfg.KafkaEnabled() {
		w := kafkaadapter.NewWriter(cfg, logger)
		opts = append(opts, pipeline.WithSummarySink(w))
		closers = append(closers, w.Close)
		logger.Info("run summaries enabled", "topic", cfg.KafkaTopic)
	}

	if cfg.S3Enabled() {
		u, err := s3adapter.NewUploader(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithArtifactSink(u))
		logger.Info("artifact upload enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}

	p := pipeline.New(pipeline.NewLoader(logger), hydraulic.NewSimulator(logger), logger, metrics, opts...)
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("close sink", "error", err)
			}
		}
	}
	return p, cleanup, nil
}

func printReport(w *os.File, rep *pipeline.Report) {
	s := rep.Summary
	title.Fprintf(w, "%s\n", s.Scenario)
	printTable(w, []string{"item", "value"}, [][]string{
		{"input", s.Input},
		{"output", s.Output},
		{"junctions", fmt.Sprint(s.Counts.Junctions)},
		{"reservoirs", fmt.Sprint(s.Counts.Reservoirs)},
		{"pipes", fmt.Sprint(s.Counts.Pipes)},
		{"valves", fmt.Sprint(s.Counts.Valves)},
		{"steps", fmt.Sprint(s.Steps)},
		{"pressure min (m)", fmt.Sprintf("%.2f", s.Pressure.Min)},
		{"pressure max (m)", fmt.Sprintf("%.2f", s.Pressure.Max)},
		{"lowest node", s.Pressure.Lowest},
	})
	for _, e := range s.Edits {
		fmt.Fprintf(w, "  %s %s\n", good.Sprint("✓"), e)
	}
	for _, out := range rep.Outputs[1:] {
		fmt.Fprintf(w, "  %s %s\n", subtle.Sprint("+"), out)
	}
	if s.ArtifactURL != "" {
		fmt.Fprintf(w, "  %s %s\n", subtle.Sprint("uploaded"), s.ArtifactURL)
	}
}
