package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/domain"
	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/hydraulic"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/observability"
	"github.com/couchcryptid/hydromap/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSummarySink struct {
	published []domain.RunSummary
	err       error
}

func (m *mockSummarySink) PublishSummary(_ context.Context, s domain.RunSummary) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, s)
	return nil
}

type mockArtifactSink struct {
	uploaded []string
}

func (m *mockArtifactSink) UploadArtifact(_ context.Context, runID, localPath string) (string, error) {
	m.uploaded = append(m.uploaded, filepath.Base(localPath))
	return "mem://" + runID + "/" + filepath.Base(localPath), nil
}

type mockGeocoder struct {
	address string
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{FormattedAddress: m.address}, nil
}

type failingSimulator struct{}

func (failingSimulator) Run(context.Context, *network.Network) (*hydraulic.Results, error) {
	return nil, hydraulic.ErrNotConverged
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	logger := discardLogger()
	return pipeline.New(pipeline.NewLoader(logger), hydraulic.NewSimulator(logger), logger,
		observability.NewMetricsForTesting(), opts...)
}

// vazamentoScenario runs the default edits against the bundled leak-sector
// sample instead of the study's input file.
func vazamentoScenario(t *testing.T) *config.Scenario {
	t.Helper()
	s := config.DefaultScenario()
	s.Input = ""
	s.Sample = "Vazamento_UTM23S.inp"
	s.Output = filepath.Join(t.TempDir(), "out", config.DefaultOutput)
	return s
}

// threeNodeINP writes reservoir R1 feeding J1 and J2 (1 L/s each) in lon/lat
// coordinates.
func threeNodeINP(t *testing.T) string {
	t.Helper()
	net := network.New()
	_, err := net.AddReservoir("R1", network.ReservoirOpts{BaseHead: 60, Coordinates: orb.Point{-46.6300, -23.5500}})
	require.NoError(t, err)
	_, err = net.AddJunction("J1", network.JunctionOpts{Elevation: 10, BaseDemand: 0.001, Coordinates: orb.Point{-46.6290, -23.5505}})
	require.NoError(t, err)
	_, err = net.AddJunction("J2", network.JunctionOpts{Elevation: 5, BaseDemand: 0.001, Coordinates: orb.Point{-46.6280, -23.5510}})
	require.NoError(t, err)
	_, err = net.AddPipe("P1", "R1", "J1", network.PipeOpts{Length: 100, Diameter: 0.1, Roughness: 130, Status: network.StatusOpen})
	require.NoError(t, err)
	_, err = net.AddPipe("P2", "J1", "J2", network.PipeOpts{Length: 100, Diameter: 0.1, Roughness: 130, Status: network.StatusOpen})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "three.inp")
	require.NoError(t, epanet.WriteFile(path, net))
	return path
}

// --- tests ---

func TestPipeline_Run_VazamentoSample(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	summaries := &mockSummarySink{}
	p := newPipeline(pipeline.WithClock(clock), pipeline.WithSummarySink(summaries))
	s := vazamentoScenario(t)

	require.Error(t, p.CheckReadiness(context.Background()))

	rep, err := p.Run(context.Background(), s)
	require.NoError(t, err)
	require.NoError(t, p.CheckReadiness(context.Background()))

	ops := make([]edit.Op, 0, len(rep.Changes))
	for _, c := range rep.Changes {
		ops = append(ops, c.Op)
	}
	want := []edit.Op{edit.OpSplitPipe, edit.OpInsertReservoir, edit.OpInsertPRV, edit.OpInsertPRV, edit.OpInsertPRV}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("applied edits mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"r1", "P_R1_N49"}, rep.Changes[1].Created)
	assert.Equal(t, domain.NetworkCounts{Junctions: 6, Reservoirs: 2, Pipes: 5, Valves: 3}, rep.Summary.Counts)
	assert.Equal(t, "sample:Vazamento_UTM23S.inp", rep.Summary.Input)
	assert.Equal(t, clock.Now(), rep.Summary.GeneratedAt)
	assert.GreaterOrEqual(t, rep.Summary.Pressure.Min, 0.0)
	assert.Equal(t, []string{s.Output}, rep.Outputs)

	html, err := os.ReadFile(s.Output)
	require.NoError(t, err)
	for _, name := range []string{"VRP_P379", "VRP_P375_1", "VRP_P366", "r1", "N354"} {
		assert.Contains(t, string(html), name)
	}
	assert.Contains(t, string(html), "2024-03-01T12:00:00Z")

	require.Len(t, summaries.published, 1)
	assert.Equal(t, rep.Summary.ID, summaries.published[0].ID)
	assert.Equal(t, "vazamento", summaries.published[0].Scenario)
}

func TestPipeline_Run_ThreeNodeEndToEnd(t *testing.T) {
	dir := t.TempDir()
	s := &config.Scenario{
		Name:      "three",
		Input:     threeNodeINP(t),
		CRS:       config.CRS{Source: "EPSG:4326", Target: "EPSG:4326"},
		Output:    filepath.Join(dir, "map.html"),
		GeoJSON:   filepath.Join(dir, "map.geojson"),
		ExportINP: filepath.Join(dir, "edited.inp"),
		Geocode:   true,
		Edits:     []config.EditSpec{{Op: string(edit.OpInsertPRV), Link: "P2", Setting: 20}},
	}
	artifacts := &mockArtifactSink{}
	p := newPipeline(
		pipeline.WithArtifactSink(artifacts),
		pipeline.WithGeocoder(&mockGeocoder{address: "Sé, São Paulo"}),
	)

	rep, err := p.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, []string{s.Output, s.GeoJSON, s.ExportINP}, rep.Outputs)
	assert.Equal(t, []string{"map.html", "map.geojson", "edited.inp"}, artifacts.uploaded)
	assert.Equal(t, "mem://"+rep.Summary.ID+"/map.html", rep.Summary.ArtifactURL)
	assert.Equal(t, "Sé, São Paulo", rep.Summary.Caption)
	assert.Equal(t, "reverse", rep.Summary.CaptionSrc)

	html, err := os.ReadFile(s.Output)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Válvula VRP_P2")
	assert.Contains(t, string(html), "Sé, São Paulo")

	edited, err := epanet.ParseFile(s.ExportINP)
	require.NoError(t, err)
	v, err := edited.Valve("VRP_P2")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, v.Setting, 1e-9)

	gj, err := os.ReadFile(s.GeoJSON)
	require.NoError(t, err)
	assert.Contains(t, string(gj), `"FeatureCollection"`)

	// J2 sits behind the PRV: its pressure is held near the setting.
	j2 := rep.Results.Last().Nodes["J2"].Pressure
	assert.InDelta(t, 20.0, j2, 0.5)
}

func TestPipeline_Run_EditFailureAborts(t *testing.T) {
	s := vazamentoScenario(t)
	s.Edits = append(s.Edits, config.EditSpec{Op: string(edit.OpInsertPRV), Link: "NOPE"})
	summaries := &mockSummarySink{}
	p := newPipeline(pipeline.WithSummarySink(summaries))

	_, err := p.Run(context.Background(), s)
	require.ErrorContains(t, err, "edit: edit 6 (insert_prv)")
	require.ErrorIs(t, err, network.ErrLinkNotFound)

	assert.NoFileExists(t, s.Output)
	assert.Empty(t, summaries.published)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_SimulationFailure(t *testing.T) {
	logger := discardLogger()
	p := pipeline.New(pipeline.NewLoader(logger), failingSimulator{}, logger, observability.NewMetricsForTesting())
	s := vazamentoScenario(t)

	_, err := p.Run(context.Background(), s)
	require.ErrorIs(t, err, hydraulic.ErrNotConverged)
	assert.NoFileExists(t, s.Output)
}

func TestPipeline_Run_PublishFailure(t *testing.T) {
	s := vazamentoScenario(t)
	p := newPipeline(pipeline.WithSummarySink(&mockSummarySink{err: errors.New("broker down")}))

	_, err := p.Run(context.Background(), s)
	require.ErrorContains(t, err, "publish: broker down")
	// The map is written before publishing.
	assert.FileExists(t, s.Output)
}

func TestPipeline_Run_MissingInput(t *testing.T) {
	s := config.DefaultScenario()
	s.Input = filepath.Join(t.TempDir(), "missing.inp")
	s.Output = filepath.Join(t.TempDir(), "out.html")

	_, err := newPipeline().Run(context.Background(), s)
	require.ErrorContains(t, err, "load: load "+s.Input)
}

func TestPipeline_Run_UnsupportedCRS(t *testing.T) {
	s := vazamentoScenario(t)
	s.CRS.Source = "EPSG:2193"

	_, err := newPipeline().Run(context.Background(), s)
	require.Error(t, err)
}
