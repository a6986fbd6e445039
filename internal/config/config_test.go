package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/hydromap/internal/edit"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMapboxToken = "pk.test-token"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, os.TempDir(), cfg.UploadDir)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "hydromap-runs", cfg.KafkaTopic)
	assert.False(t, cfg.MapboxEnabled)
	assert.Empty(t, cfg.MapboxToken)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
	assert.False(t, cfg.S3Enabled())
	assert.Equal(t, "maps/", cfg.S3Prefix)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("UPLOAD_DIR", "/var/tmp/uploads")
	t.Setenv("MAX_UPLOAD_BYTES", "2048")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-runs")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_TIMEOUT", "10s")
	t.Setenv("MAPBOX_CACHE_SIZE", "500")
	t.Setenv("S3_BUCKET", "maps-bucket")
	t.Setenv("S3_PREFIX", "vrp/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/var/tmp/uploads", cfg.UploadDir)
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "custom-runs", cfg.KafkaTopic)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, testMapboxToken, cfg.MapboxToken)
	assert.Equal(t, 10*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "maps-bucket", cfg.S3Bucket)
	assert.Equal(t, "vrp/", cfg.S3Prefix)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"SHUTDOWN_TIMEOUT", "-1s"},
		{"MAPBOX_TIMEOUT", "bad"},
		{"MAX_UPLOAD_BYTES", "0"},
		{"MAX_UPLOAD_BYTES", "lots"},
		{"LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxTokenImpliesEnabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MapboxEnabled)
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}

const vazamentoYAML = `
name: vazamento
sample: Vazamento_UTM23S.inp
crs:
  source: EPSG:31983
output: out/VRP_VAZAMENTO.html
geojson: out/vazamento.geojson
edits:
  - op: split_pipe
    link: P375
    node: N354
    scale_to: 188.12067746
    diameter_mm: 32
    roughness: 140
  - op: insert_reservoir
    name: r1
    node: N49
    head: 1156.99
    length: 0.10
    diameter_mm: 110
    roughness: 140
  - op: insert_prv
    link: P379
    setting: 20
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(vazamentoYAML))
	require.NoError(t, err)

	assert.Equal(t, "vazamento", s.Name)
	assert.Equal(t, "Vazamento_UTM23S.inp", s.Sample)
	assert.Empty(t, s.Input)
	assert.Equal(t, CRS{Source: "EPSG:31983", Target: DefaultTargetCRS}, s.CRS)
	assert.Equal(t, "out/VRP_VAZAMENTO.html", s.Output)
	require.Len(t, s.Edits, 3)

	edits := s.EditList()
	require.Len(t, edits, 3)
	assert.Equal(t, edit.OpSplitPipe, edits[0].Op)
	assert.Equal(t, "P375", edits[0].Link)
	assert.InDelta(t, 0.032, edits[0].Split.Diameter, 1e-12)
	assert.InDelta(t, 188.12067746, edits[0].Split.ScaleTo, 1e-12)

	assert.Equal(t, edit.OpInsertReservoir, edits[1].Op)
	assert.Equal(t, "r1", edits[1].Name)
	assert.InDelta(t, 0.110, edits[1].Reservoir.Diameter, 1e-12)
	assert.InDelta(t, 1156.99, edits[1].Reservoir.Head, 1e-12)

	assert.Equal(t, edit.OpInsertPRV, edits[2].Op)
	assert.InDelta(t, 20.0, edits[2].PRV.Setting, 1e-12)
}

func TestParseScenario_EmptyUsesDefaults(t *testing.T) {
	s, err := ParseScenario(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInput, s.Input)
	assert.Equal(t, DefaultOutput, s.Output)
	assert.Equal(t, DefaultSourceCRS, s.CRS.Source)
	assert.Empty(t, s.Edits)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown op", "edits:\n  - op: delete_pipe\n    link: P1\n", "edits[0].op"},
		{"prv without link", "edits:\n  - op: insert_prv\n", "edits[0].link"},
		{"reservoir without name", "edits:\n  - op: insert_reservoir\n    node: N1\n", "edits[0].name"},
		{"split without node", "edits:\n  - op: split_pipe\n    link: P1\n", "edits[0].node"},
		{"negative setting", "edits:\n  - op: insert_prv\n    link: P1\n    setting: -5\n", "edits[0].setting"},
		{"input and sample", "input: a.inp\nsample: Net1.inp\n", "mutually exclusive"},
		{"bad crs", "crs:\n  source: utm23s\n", "crs.source"},
		{"unknown key", "outptu: x.html\n", "outptu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesInputRelativeToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("input: nets/setor.inp\n"), 0o600))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nets", "setor.inp"), s.Input)

	_, err = LoadScenario(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultScenario(t *testing.T) {
	s := DefaultScenario()
	require.NoError(t, s.Validate())
	assert.Equal(t, DefaultInput, s.Input)
	assert.Equal(t, DefaultOutput, s.Output)

	edits := s.EditList()
	require.Len(t, edits, 5)
	assert.Equal(t, "P375_1", edits[3].Link)
	assert.InDelta(t, 0.032, edits[0].Split.Diameter, 1e-12)
}

func TestShippedScenarios(t *testing.T) {
	s, err := LoadScenario(filepath.Join("..", "..", "configs", "vazamento.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "..", "configs", DefaultInput), s.Input)
	if diff := cmp.Diff(DefaultScenario().Edits, s.Edits); diff != "" {
		t.Errorf("vazamento.yaml edits differ from the built-in scenario (-want +got):\n%s", diff)
	}

	sample, err := LoadScenario(filepath.Join("..", "..", "configs", "sample.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Vazamento_UTM23S.inp", sample.Sample)
	assert.Empty(t, sample.Input)
	assert.Len(t, sample.Edits, 5)

	for _, sc := range []*Scenario{DefaultScenario(), s, sample} {
		assert.Equal(t, "P_R1_N49", sc.EditList()[1].Reservoir.PipeName, sc.Name)
	}
}
