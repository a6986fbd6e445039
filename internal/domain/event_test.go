package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePressureStats(t *testing.T) {
	s := ComputePressureStats(map[string]float64{"N20": 12, "N17": 0, "N49": 30, "R1": 0})

	assert.InDelta(t, 0.0, s.Min, 0)
	assert.InDelta(t, 30.0, s.Max, 0)
	assert.InDelta(t, 10.5, s.Mean, 1e-12)
	assert.Equal(t, "N17", s.Lowest, "ties resolve to the first name")

	assert.Equal(t, PressureStats{}, ComputePressureStats(nil))
}

func TestSerialize(t *testing.T) {
	generated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := RunSummary{
		ID:          NewRunID(),
		Scenario:    "vazamento",
		Output:      "VRP_VAZAMENTO.html",
		Counts:      NetworkCounts{Junctions: 7, Reservoirs: 2, Pipes: 5, Valves: 3},
		Steps:       1,
		Pressure:    PressureStats{Min: 0, Max: 54.2, Mean: 21.3, Lowest: "N17"},
		GeneratedAt: generated,
	}

	out, err := Serialize(s)
	require.NoError(t, err)

	assert.Equal(t, []byte("vazamento"), out.Key)
	assert.Equal(t, "application/json", out.Headers["content-type"])
	assert.Equal(t, s.ID, out.Headers["run_id"])
	assert.Equal(t, "2024-03-01T12:00:00Z", out.Headers["generated_at"])

	var back RunSummary
	require.NoError(t, json.Unmarshal(out.Value, &back))
	assert.Equal(t, s, back)
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}
