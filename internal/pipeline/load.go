package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/hydromap/internal/config"
	"github.com/couchcryptid/hydromap/internal/epanet"
	"github.com/couchcryptid/hydromap/internal/network"
	"github.com/couchcryptid/hydromap/internal/samples"
)

// NetworkLoader implements Loader by reading the scenario's INP file or
// bundled sample.
type NetworkLoader struct {
	logger *slog.Logger
}

// NewLoader creates a NetworkLoader.
func NewLoader(logger *slog.Logger) *NetworkLoader {
	return &NetworkLoader{logger: logger}
}

func (l *NetworkLoader) Load(ctx context.Context, s *config.Scenario) (*network.Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		net    *network.Network
		err    error
		source string
	)
	if s.Sample != "" {
		source = "sample:" + s.Sample
		net, err = samples.Load(s.Sample)
	} else {
		source = s.Input
		net, err = epanet.ParseFile(s.Input)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	l.logger.Info("network loaded",
		"source", source,
		"nodes", net.NodeCount(),
		"links", net.LinkCount(),
	)
	return net, nil
}
