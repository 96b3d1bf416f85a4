package geo

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ParseObstacles parses a JSON array of coordinates into obstacle positions.
// Input format: "[[x1,z1],[x2,z2],...]"
func ParseObstacles(input string) ([]geom.XY, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return nil, fmt.Errorf("failed to parse obstacle JSON: %w", err)
	}

	obstacles := make([]geom.XY, len(coords))
	for i, coord := range coords {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d has insufficient values", i)
		}
		obstacles[i] = geom.XY{X: coord[0], Y: coord[1]}
	}
	return obstacles, nil
}
