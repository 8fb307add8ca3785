package traffic

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	Points   = 24 * 4
	Interval = 15 * time.Minute
)

type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Traffic   int64     `json:"traffic"`
}

// Generate returns a mock day of traffic ending at now, oldest point first.
// Business hours (09:00 to 17:59 in now's location) carry 1.5x the base load and
// every 20th point counted back from now is a 1.2x spike.
func Generate(now time.Time, rng *rand.Rand) []Point {
	points := make([]Point, Points)
	for i := 0; i < Points; i++ {
		ts := now.Add(-time.Duration(i) * Interval)

		traffic := 1000 + rng.Float64()*500
		if hour := ts.Hour(); hour >= 9 && hour <= 17 {
			traffic *= 1.5
		}
		if i%20 == 0 {
			traffic *= 1.2
		}

		points[Points-1-i] = Point{
			Timestamp: ts.UTC(),
			Traffic:   int64(math.Round(traffic)),
		}
	}
	return points
}
