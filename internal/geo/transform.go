// Package geo converts projected model coordinates to WGS84 latitude and
// longitude for web maps.
package geo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	UTM "github.com/im7mortal/UTM"
	"github.com/paulmach/orb"
)

// ErrUnsupportedCRS is returned for reference systems outside the UTM
// family and WGS84.
var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

const WGS84 = "EPSG:4326"

// LatLon is a geographic position in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point returns the position as an orb point (lon, lat).
func (ll LatLon) Point() orb.Point { return orb.Point{ll.Lon, ll.Lat} }

// Transformer maps a planar coordinate to latitude/longitude.
type Transformer interface {
	Transform(p orb.Point) (LatLon, error)
}

// NewTransformer returns a transformer from src to dst. dst must be
// EPSG:4326. src may be EPSG:4326 (identity: x is longitude, y latitude),
// WGS84 UTM (EPSG:326zz north, EPSG:327zz south), or SIRGAS 2000 UTM
// (EPSG:31972-31977 zones 17N-22N, EPSG:31978-31985 zones 18S-25S).
func NewTransformer(src, dst string) (Transformer, error) {
	if normalize(dst) != WGS84 {
		return nil, fmt.Errorf("target %q: only %s is supported: %w", dst, WGS84, ErrUnsupportedCRS)
	}
	code, err := epsgCode(src)
	if err != nil {
		return nil, err
	}
	switch {
	case code == 4326:
		return Identity{}, nil
	case code >= 32601 && code <= 32660:
		return UTMZone{Zone: code - 32600, North: true}, nil
	case code >= 32701 && code <= 32760:
		return UTMZone{Zone: code - 32700, North: false}, nil
	case code >= 31972 && code <= 31977:
		return UTMZone{Zone: code - 31972 + 17, North: true}, nil
	case code >= 31978 && code <= 31985:
		return UTMZone{Zone: code - 31978 + 18, North: false}, nil
	default:
		return nil, fmt.Errorf("source %q: %w", src, ErrUnsupportedCRS)
	}
}

func normalize(crs string) string {
	return strings.ToUpper(strings.TrimSpace(crs))
}

func epsgCode(crs string) (int, error) {
	s := normalize(crs)
	num, ok := strings.CutPrefix(s, "EPSG:")
	if !ok {
		return 0, fmt.Errorf("%q is not an EPSG code: %w", crs, ErrUnsupportedCRS)
	}
	code, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("%q is not an EPSG code: %w", crs, ErrUnsupportedCRS)
	}
	return code, nil
}

// Identity treats x as longitude and y as latitude.
type Identity struct{}

func (Identity) Transform(p orb.Point) (LatLon, error) {
	if p.Y() < -90 || p.Y() > 90 || p.X() < -180 || p.X() > 180 {
		return LatLon{}, fmt.Errorf("point %v outside geographic range", p)
	}
	return LatLon{Lat: p.Y(), Lon: p.X()}, nil
}

// UTMZone inverts a transverse Mercator projection for one UTM zone.
type UTMZone struct {
	Zone  int
	North bool
}

func (z UTMZone) Transform(p orb.Point) (LatLon, error) {
	lat, lon, err := UTM.ToLatLon(p.X(), p.Y(), z.Zone, "", z.North)
	if err != nil {
		return LatLon{}, fmt.Errorf("utm zone %d: point %v: %w", z.Zone, p, err)
	}
	return LatLon{Lat: lat, Lon: lon}, nil
}

// TransformAll projects every point, stopping at the first failure.
func TransformAll(t Transformer, named map[string]orb.Point) (map[string]LatLon, error) {
	out := make(map[string]LatLon, len(named))
	for name, p := range named {
		ll, err := t.Transform(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = ll
	}
	return out, nil
}
