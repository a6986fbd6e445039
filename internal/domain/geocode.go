package domain

import (
	"context"
	"log/slog"
)

// Caption is a place description for a map.
type Caption struct {
	Text   string
	Source string // "reverse", "original", "failed"; empty when geocoding is off
}

// DescribeLocation reverse geocodes the map centre into a caption. If
// geocoder is nil or the lookup fails, an empty caption is returned with
// Source set accordingly (graceful degradation).
func DescribeLocation(ctx context.Context, lat, lon float64, geocoder Geocoder, logger *slog.Logger) Caption {
	if geocoder == nil {
		return Caption{}
	}
	if lat == 0 && lon == 0 {
		return Caption{Source: "original"}
	}

	result, err := geocoder.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"lat", lat,
			"lon", lon,
			"error", err,
		)
		return Caption{Source: "failed"}
	}
	if result.FormattedAddress == "" {
		return Caption{Source: "original"}
	}
	return Caption{Text: result.FormattedAddress, Source: "reverse"}
}
