// Package geo anchors simulator world coordinates to the earth.
//
// Points are stored in EPSG:3857 (web mercator) as WKB so that SQLite, which
// has no spatial types, can round-trip them through geom.Point's Scan/Value.
// World metres are treated as mercator offsets around a configured origin;
// the simulator's y axis points south, so it is subtracted from northing.
package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/ai4ce/vpr-collector/pkg/core"
)

// ErrInvalidCoordinates is returned for latitudes outside the mercator range
// or non-finite values.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// maxMercatorLat is the latitude limit of EPSG:3857.
const maxMercatorLat = 85.05112878

// Origin is the geo-reference of the world origin.
type Origin struct {
	Lat float64
	Lon float64
}

// DefaultOrigin matches the default geo-reference of the simulator's towns.
var DefaultOrigin = Origin{Lat: 49.0, Lon: 8.0}

var (
	to3857 = wgs84.EPSG().Transform(4326, 3857)
	to4326 = wgs84.EPSG().Transform(3857, 4326)
)

// Projector converts world metres to lon/lat around a fixed origin.
type Projector struct {
	origin Origin
	ox, oy float64
}

func NewProjector(origin Origin) (*Projector, error) {
	if !finite(origin.Lat, origin.Lon) || math.Abs(origin.Lat) > maxMercatorLat || math.Abs(origin.Lon) > 180 {
		return nil, ErrInvalidCoordinates
	}
	ox, oy, _ := to3857(origin.Lon, origin.Lat, 0)
	return &Projector{origin: origin, ox: ox, oy: oy}, nil
}

func (p *Projector) Origin() Origin { return p.origin }

// Mercator returns the EPSG:3857 coordinates of world position (x, y).
func (p *Projector) Mercator(x, y float64) (float64, float64) {
	return p.ox + x, p.oy - y
}

// WorldToLonLat returns the WGS84 longitude and latitude of world position (x, y).
func (p *Projector) WorldToLonLat(x, y float64) (lon, lat float64) {
	mx, my := p.Mercator(x, y)
	lon, lat, _ = to4326(mx, my, 0)
	return lon, lat
}

// PointFromPose builds the EPSG:3857 point stored with a frame or state row.
func (p *Projector) PointFromPose(pose core.Pose) geom.Point {
	if !finite(pose.X, pose.Y) {
		return geom.NewEmptyPoint(geom.DimXY)
	}
	mx, my := p.Mercator(pose.X, pose.Y)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: mx, Y: my}})
}

// Track builds the driven path as an EPSG:4326 line string. Fewer than two
// usable poses yield an empty line.
func (p *Projector) Track(poses []core.Pose) geom.LineString {
	flat := make([]float64, 0, len(poses)*2)
	for _, pose := range poses {
		if !finite(pose.X, pose.Y) {
			continue
		}
		lon, lat := p.WorldToLonLat(pose.X, pose.Y)
		flat = append(flat, lon, lat)
	}
	if len(flat) < 4 {
		return geom.LineString{}
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
