package task

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b Bounds) Validate() error {
	switch {
	case b.North < -90 || b.North > 90 || b.South < -90 || b.South > 90:
		return errors.New("latitude must be within [-90, 90]")
	case b.East < -180 || b.East > 180 || b.West < -180 || b.West > 180:
		return errors.New("longitude must be within [-180, 180]")
	case b.South >= b.North:
		return errors.New("south must be less than north")
	case b.West >= b.East:
		return errors.New("west must be less than east")
	}
	return nil
}

type Workflow struct {
	Satellite      string `json:"satellite"`
	OrbitDirection string `json:"orbit_direction"`
	Polarization   string `json:"polarization"`
}

type JobSpec struct {
	JobID     string   `json:"job_id"`
	Name      string   `json:"name"`
	Area      Bounds   `json:"area"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Workflow  Workflow `json:"workflow"`
}

// Normalize fills defaults: a generated job id, a name derived from the
// job id and the Sentinel-1 workflow.
func (j *JobSpec) Normalize() {
	if j.JobID == "" {
		j.JobID = uuid.New().String()
	}
	if j.Name == "" {
		j.Name = "insar-" + j.JobID
	}
	if j.Workflow.Satellite == "" {
		j.Workflow.Satellite = "Sentinel-1"
	}
	j.Workflow.OrbitDirection = strings.ToUpper(j.Workflow.OrbitDirection)
	j.Workflow.Polarization = strings.ToUpper(j.Workflow.Polarization)
}

func (j JobSpec) Validate() error {
	if err := j.Area.Validate(); err != nil {
		return fmt.Errorf("area: %w", err)
	}

	start, end, err := j.DateRange()
	if err != nil {
		return err
	}
	if !start.Before(end) {
		return errors.New("start_date must be before end_date")
	}

	switch j.Workflow.OrbitDirection {
	case "", "ASCENDING", "DESCENDING":
	default:
		return fmt.Errorf("orbit_direction must be ASCENDING or DESCENDING, got %q", j.Workflow.OrbitDirection)
	}
	return nil
}

func (j JobSpec) DateRange() (time.Time, time.Time, error) {
	start, err := time.Parse(DateLayout, j.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date: expected YYYY-MM-DD, got %q", j.StartDate)
	}
	end, err := time.Parse(DateLayout, j.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end_date: expected YYYY-MM-DD, got %q", j.EndDate)
	}
	return start, end, nil
}
