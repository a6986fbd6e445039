package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PressureStats summarises display pressures in metres.
type PressureStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	// Lowest is the node with the minimum pressure.
	Lowest string `json:"lowest,omitempty"`
}

// NetworkCounts is the element inventory of the rendered network.
type NetworkCounts struct {
	Junctions  int `json:"junctions"`
	Reservoirs int `json:"reservoirs"`
	Tanks      int `json:"tanks"`
	Pipes      int `json:"pipes"`
	Valves     int `json:"valves"`
	Pumps      int `json:"pumps"`
}

// RunSummary describes one completed render run.
type RunSummary struct {
	ID          string        `json:"id"`
	Scenario    string        `json:"scenario"`
	Input       string        `json:"input"`
	Output      string        `json:"output"`
	ArtifactURL string        `json:"artifact_url,omitempty"`
	Counts      NetworkCounts `json:"counts"`
	Edits       []string      `json:"edits,omitempty"`
	Steps       int           `json:"steps"`
	Pressure    PressureStats `json:"pressure"`
	Caption     string        `json:"caption,omitempty"`
	CaptionSrc  string        `json:"caption_source,omitempty"` // "reverse", "original", "failed"
	Duration    time.Duration `json:"duration_ns"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// OutputEvent is the serialized form destined for the summary topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// ComputePressureStats returns min, max and mean over the given pressures.
// Ties for the minimum resolve to the lexically first node name.
func ComputePressureStats(pressures map[string]float64) PressureStats {
	if len(pressures) == 0 {
		return PressureStats{}
	}
	names := make([]string, 0, len(pressures))
	for n := range pressures {
		names = append(names, n)
	}
	sort.Strings(names)

	s := PressureStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, n := range names {
		p := pressures[n]
		if p < s.Min {
			s.Min, s.Lowest = p, n
		}
		s.Max = math.Max(s.Max, p)
		sum += p
	}
	s.Mean = sum / float64(len(names))
	return s
}

// Serialize encodes a summary as a Kafka-ready event keyed by scenario.
func Serialize(s RunSummary) (OutputEvent, error) {
	value, err := json.Marshal(s)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("marshal run summary: %w", err)
	}
	return OutputEvent{
		Key:   []byte(s.Scenario),
		Value: value,
		Headers: map[string]string{
			"content-type": "application/json",
			"run_id":       s.ID,
			"generated_at": s.GeneratedAt.UTC().Format(time.RFC3339),
		},
	}, nil
}
