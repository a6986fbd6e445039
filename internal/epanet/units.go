package epanet

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flowToSI maps EPANET FLOW UNITS keywords to m3/s per unit.
var flowToSI = map[string]float64{
	"CFS":  0.028316846592,
	"GPM":  6.30901964e-5,
	"MGD":  0.0438126364,
	"IMGD": 0.0526168042,
	"AFD":  0.0142764102,
	"LPS":  0.001,
	"LPM":  1.0 / 60000,
	"MLD":  1000.0 / 86400,
	"CMH":  1.0 / 3600,
	"CMD":  1.0 / 86400,
}

const (
	feetToMetres   = 0.3048
	inchesToMetres = 0.0254
	psiToMetres    = 0.70324961490205
	hpToKilowatts  = 0.745699872
)

// units converts file values to SI. US customary applies to the first five
// flow units; the rest use metres and millimetres.
type units struct {
	flowKeyword string
	flow        float64
	length      float64
	diameter    float64
	pressure    float64
	roughnessDW float64
	power       float64
}

func unitsFor(keyword string) (units, error) {
	keyword = strings.ToUpper(keyword)
	flow, ok := flowToSI[keyword]
	if !ok {
		return units{}, fmt.Errorf("unknown flow units %q", keyword)
	}
	switch keyword {
	case "CFS", "GPM", "MGD", "IMGD", "AFD":
		return units{
			flowKeyword: keyword,
			flow:        flow,
			length:      feetToMetres,
			diameter:    inchesToMetres,
			pressure:    psiToMetres,
			roughnessDW: feetToMetres / 1000,
			power:       hpToKilowatts,
		}, nil
	default:
		return units{
			flowKeyword: keyword,
			flow:        flow,
			length:      1,
			diameter:    0.001,
			pressure:    1,
			roughnessDW: 0.001,
			power:       1,
		}, nil
	}
}

// parseDuration reads EPANET time values: "h:mm", "h:mm:ss", or a decimal
// number with an optional unit keyword (hours when omitted).
func parseDuration(fields []string) (time.Duration, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("missing time value")
	}
	value := fields[0]
	if strings.Contains(value, ":") {
		parts := strings.Split(value, ":")
		if len(parts) > 3 {
			return 0, fmt.Errorf("invalid clock time %q", value)
		}
		var total time.Duration
		scale := []time.Duration{time.Hour, time.Minute, time.Second}
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("invalid clock time %q", value)
			}
			total += time.Duration(n) * scale[i]
		}
		return total, nil
	}

	n, err := strconv.ParseFloat(value, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid time value %q", value)
	}
	unit := time.Hour
	if len(fields) > 1 {
		switch u := strings.ToUpper(fields[1]); {
		case strings.HasPrefix(u, "SEC"):
			unit = time.Second
		case strings.HasPrefix(u, "MIN"):
			unit = time.Minute
		case strings.HasPrefix(u, "HOUR"):
			unit = time.Hour
		case strings.HasPrefix(u, "DAY"):
			unit = 24 * time.Hour
		}
	}
	return time.Duration(n * float64(unit)), nil
}

// formatDuration renders a duration as h:mm:ss for the writer.
func formatDuration(d time.Duration) string {
	s := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
