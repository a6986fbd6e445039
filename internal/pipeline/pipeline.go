package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/domain"
	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/geo"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/observability"
	"github.com/couchcryptid/hydromap/internal/render"
	"github.com/jonboulle/clockwork"
)

// Loader reads the network a scenario points at.
type Loader interface {
	Load(ctx context.Context, s *config.Scenario) (*network.Network, error)
}

// Simulator solves the edited network.
type Simulator interface {
	Run(ctx context.Context, net *network.Network) (*hydraulic.Results, error)
}

// SummarySink receives the summary of each successful run.
type SummarySink interface {
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}

// ArtifactSink stores the files a run produced and returns their location.
type ArtifactSink interface {
	UploadArtifact(ctx context.Context, runID, localPath string) (string, error)
}

// Report is what a run produced.
type Report struct {
	Summary domain.RunSummary
	Changes []edit.Change
	// Outputs lists the local files written, map first.
	Outputs []string
	Results *hydraulic.Results
}

// Pipeline runs load -> edit -> simulate -> render -> publish for one
// scenario. Any stage error aborts the run; nothing is retried.
type Pipeline struct {
	loader    Loader
	simulator Simulator
	geocoder  domain.Geocoder
	summaries SummarySink
	artifacts ArtifactSink
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithGeocoder enables map captions for scenarios that ask for them.
func WithGeocoder(g domain.Geocoder) Option { return func(p *Pipeline) { p.geocoder = g } }

// WithSummarySink publishes a summary after each successful run.
func WithSummarySink(s SummarySink) Option { return func(p *Pipeline) { p.summaries = s } }

// WithArtifactSink uploads the rendered files after each successful run.
func WithArtifactSink(s ArtifactSink) Option { return func(p *Pipeline) { p.artifacts = s } }

// WithClock replaces the real clock, for deterministic timestamps in tests.
func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// New creates a Pipeline with the given stages and observability.
func New(l Loader, sim Simulator, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		loader:    l,
		simulator: sim,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		metrics:   metrics,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run executes one scenario.
func (p *Pipeline) Run(ctx context.Context, s *config.Scenario) (*Report, error) {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	rep, err := p.run(ctx, s)
	if err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		p.logger.Error("run failed", "scenario", s.Name, "error", err)
		return nil, err
	}
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.ready.Store(true)
	p.logger.Info("run complete",
		"scenario", s.Name,
		"output", rep.Summary.Output,
		"pressure_min", rep.Summary.Pressure.Min,
		"pressure_max", rep.Summary.Pressure.Max,
		"duration", rep.Summary.Duration,
	)
	return rep, nil
}

func (p *Pipeline) run(ctx context.Context, s *config.Scenario) (*Report, error) {
	start := p.clock.Now()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	tr, err := geo.NewTransformer(s.CRS.Source, s.CRS.Target)
	if err != nil {
		return nil, err
	}

	var net *network.Network
	if err := p.stage("load", func() error {
		net, err = p.loader.Load(ctx, s)
		return err
	}); err != nil {
		return nil, err
	}

	var changes []edit.Change
	if err := p.stage("edit", func() error {
		changes, err = edit.Apply(net, s.EditList())
		for _, c := range changes {
			p.metrics.EditsApplied.WithLabelValues(string(c.Op)).Inc()
			p.logger.Info("edit applied", "op", c.Op, "target", c.Target, "created", c.Created)
		}
		return err
	}); err != nil {
		return nil, err
	}

	var results *hydraulic.Results
	if err := p.stage("simulate", func() error {
		results, err = p.simulator.Run(ctx, net)
		return err
	}); err != nil {
		return nil, err
	}
	last := results.Last()
	if last == nil {
		return nil, errors.New("simulation produced no results")
	}
	p.metrics.SimulationSteps.Observe(float64(len(results.Snapshots)))
	p.metrics.SolverTrials.Observe(float64(last.Trials))

	generated := p.clock.Now()
	var (
		outputs []string
		caption domain.Caption
	)
	if err := p.stage("render", func() error {
		outputs, caption, err = p.render(ctx, s, net, last, tr, generated)
		return err
	}); err != nil {
		return nil, err
	}

	summary := domain.RunSummary{
		ID:          domain.NewRunID(),
		Scenario:    s.Name,
		Input:       inputName(s),
		Output:      s.Output,
		Counts:      countElements(net),
		Edits:       describeChanges(changes),
		Steps:       len(results.Snapshots),
		Pressure:    domain.ComputePressureStats(hydraulic.ClipNegativePressures(last.Pressures())),
		Caption:     caption.Text,
		CaptionSrc:  caption.Source,
		GeneratedAt: generated,
	}

	if err := p.stage("publish", func() error {
		return p.publish(ctx, &summary, outputs, start)
	}); err != nil {
		return nil, err
	}

	return &Report{Summary: summary, Changes: changes, Outputs: outputs, Results: results}, nil
}

// stage times fn under the given stage label.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := p.clock.Now()
	err := fn()
	p.metrics.StageDuration.WithLabelValues(name).Observe(p.clock.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) render(ctx context.Context, s *config.Scenario, net *network.Network, snap *hydraulic.Snapshot, tr geo.Transformer, generated time.Time) ([]string, domain.Caption, error) {
	data, err := render.BuildMapData(net, snap, tr, render.MapOptions{Title: s.Title, GeneratedAt: generated})
	if err != nil {
		return nil, domain.Caption{}, err
	}
	var caption domain.Caption
	if s.Geocode {
		caption = domain.DescribeLocation(ctx, data.Center.Lat, data.Center.Lon, p.geocoder, p.logger)
		data.Caption = caption.Text
	}

	if err := ensureDir(s.Output); err != nil {
		return nil, caption, err
	}
	if err := render.WriteMapFile(s.Output, data); err != nil {
		return nil, caption, err
	}
	outputs := []string{s.Output}

	if s.GeoJSON != "" {
		fc, err := render.ExportGeoJSON(net, snap, tr)
		if err != nil {
			return nil, caption, err
		}
		raw, err := fc.MarshalJSON()
		if err != nil {
			return nil, caption, fmt.Errorf("encode geojson: %w", err)
		}
		if err := ensureDir(s.GeoJSON); err != nil {
			return nil, caption, err
		}
		if err := os.WriteFile(s.GeoJSON, raw, 0o644); err != nil {
			return nil, caption, fmt.Errorf("write geojson: %w", err)
		}
		outputs = append(outputs, s.GeoJSON)
	}

	if s.ExportINP != "" {
		if err := ensureDir(s.ExportINP); err != nil {
			return nil, caption, err
		}
		if err := epanet.WriteFile(s.ExportINP, net); err != nil {
			return nil, caption, err
		}
		outputs = append(outputs, s.ExportINP)
	}
	return outputs, caption, nil
}

func (p *Pipeline) publish(ctx context.Context, summary *domain.RunSummary, outputs []string, start time.Time) error {
	if p.artifacts != nil {
		for i, path := range outputs {
			url, err := p.artifacts.UploadArtifact(ctx, summary.ID, path)
			if err != nil {
				p.metrics.PublishErrors.WithLabelValues("artifact").Inc()
				return err
			}
			if i == 0 {
				summary.ArtifactURL = url
			}
		}
	}
	summary.Duration = p.clock.Since(start)
	if p.summaries != nil {
		if err := p.summaries.PublishSummary(ctx, *summary); err != nil {
			p.metrics.PublishErrors.WithLabelValues("summary").Inc()
			return err
		}
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func inputName(s *config.Scenario) string {
	if s.Sample != "" {
		return "sample:" + s.Sample
	}
	return s.Input
}

func countElements(net *network.Network) domain.NetworkCounts {
	return domain.NetworkCounts{
		Junctions:  len(net.JunctionNames()),
		Reservoirs: len(net.ReservoirNames()),
		Tanks:      len(net.TankNames()),
		Pipes:      len(net.PipeNames()),
		Valves:     len(net.ValveNames()),
		Pumps:      len(net.PumpNames()),
	}
}

func describeChanges(changes []edit.Change) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, fmt.Sprintf("%s %s", c.Op, c.Target))
	}
	return out
}
