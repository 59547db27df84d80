package catalog

import (
	"fmt"
	"time"
)

// BBox is a geographic bounding box in degrees.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// String renders the box the way the catalog expects it: west,south,east,north.
func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.West, b.South, b.East, b.North)
}

// Expand grows the box by margin degrees on every side, clamped to valid
// latitude and longitude.
func (b BBox) Expand(margin float64) BBox {
	return BBox{
		West:  clamp(b.West-margin, -180, 180),
		South: clamp(b.South-margin, -90, 90),
		East:  clamp(b.East+margin, -180, 180),
		North: clamp(b.North+margin, -90, 90),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Constraints struct {
	Platform        string
	ProcessingLevel string
	BeamMode        string
	FlightDirection string
	Polarization    string
	MaxResults      int
}

// DefaultConstraints is the Sentinel-1 interferometric wide-swath SLC query.
func DefaultConstraints() Constraints {
	return Constraints{
		Platform:        "Sentinel-1",
		ProcessingLevel: "SLC",
		BeamMode:        "IW",
		MaxResults:      100,
	}
}

type Query struct {
	Area  BBox
	Start time.Time
	End   time.Time
	Constraints
}

// Product is one catalog granule. Products are transient: they live for the
// duration of a single stage.
type Product struct {
	Granule         string    `json:"granuleName"`
	FileName        string    `json:"fileName"`
	URL             string    `json:"url"`
	SizeMB          float64   `json:"sizeMB"`
	StartTime       time.Time `json:"startTime"`
	StopTime        time.Time `json:"stopTime"`
	FlightDirection string    `json:"flightDirection"`
	Polarization    string    `json:"polarization"`
	BeamMode        string    `json:"beamMode"`
	MD5             string    `json:"md5sum,omitempty"`
}

func (p Product) date() time.Time {
	t := p.StartTime.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Pair is the reference/secondary acquisition pair fed to the rest of the
// pipeline.
type Pair struct {
	Reference    Product
	Secondary    Product
	BaselineDays int
	Optimal      bool
}
