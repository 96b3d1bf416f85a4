// Package geo projects local simulation coordinates onto WGS84 and
// exports driven paths as GeoJSON for map viewers.
//
// Simulation space is a flat plane in meters with X pointing east and Z
// pointing north. An Origin anchors that plane at a real-world longitude
// and latitude; projection goes through EPSG:3857 where meter offsets can
// be applied directly.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/obocar/engine/internal/vehicle"
)

// ErrInvalidCoordinates is returned when coordinates cannot be parsed.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Origin anchors the simulation plane at a WGS84 position.
type Origin struct {
	Longitude float64
	Latitude  float64
}

// ToWGS84 converts a local (x, z) offset in meters to longitude and latitude.
func (o Origin) ToWGS84(x, z float64) (lon, lat float64) {
	epsg := wgs84.EPSG()
	to3857 := epsg.Transform(4326, 3857)
	to4326 := epsg.Transform(3857, 4326)

	ox, oy, _ := to3857(o.Longitude, o.Latitude, 0)
	lon, lat, _ = to4326(ox+x, oy+z, 0)
	return lon, lat
}

// PathLineString projects a driven path into a WGS84 line string.
func PathLineString(origin Origin, samples []vehicle.PathSample) (geom.LineString, error) {
	if len(samples) < 2 {
		return geom.LineString{}, fmt.Errorf("path must have at least 2 points, got %d", len(samples))
	}

	flatCoords := make([]float64, 0, len(samples)*2)
	for _, s := range samples {
		lon, lat := origin.ToWGS84(s.X, s.Z)
		flatCoords = append(flatCoords, lon, lat)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// ExportGeoJSON writes a driven path as a GeoJSON LineString.
func ExportGeoJSON(w io.Writer, origin Origin, samples []vehicle.PathSample) error {
	ls, err := PathLineString(origin, samples)
	if err != nil {
		return err
	}

	data, err := json.Marshal(ls.AsGeometry())
	if err != nil {
		return fmt.Errorf("marshaling path GeoJSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing path GeoJSON: %w", err)
	}
	return nil
}
