package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() JobSpec {
	return JobSpec{
		JobID:     "job-1",
		Area:      Bounds{North: 38.5, South: 37.0, East: 38.0, West: 36.5},
		StartDate: "2023-02-01",
		EndDate:   "2023-02-28",
		Workflow:  Workflow{OrbitDirection: "ascending", Polarization: "vv"},
	}
}

func TestJobSpec_NormalizeAndValidate(t *testing.T) {
	spec := validSpec()
	spec.Normalize()

	require.NoError(t, spec.Validate())
	assert.Equal(t, "Sentinel-1", spec.Workflow.Satellite)
	assert.Equal(t, "ASCENDING", spec.Workflow.OrbitDirection)
	assert.Equal(t, "VV", spec.Workflow.Polarization)
	assert.Equal(t, "insar-job-1", spec.Name)
}

func TestJobSpec_NormalizeGeneratesJobID(t *testing.T) {
	spec := validSpec()
	spec.JobID = ""
	spec.Normalize()

	assert.NotEmpty(t, spec.JobID)
}

func TestJobSpec_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobSpec)
	}{
		{"inverted latitude", func(j *JobSpec) { j.Area.South, j.Area.North = j.Area.North, j.Area.South }},
		{"inverted longitude", func(j *JobSpec) { j.Area.West, j.Area.East = j.Area.East, j.Area.West }},
		{"latitude out of range", func(j *JobSpec) { j.Area.North = 91 }},
		{"bad start date", func(j *JobSpec) { j.StartDate = "02/01/2023" }},
		{"bad end date", func(j *JobSpec) { j.EndDate = "" }},
		{"empty range", func(j *JobSpec) { j.EndDate = j.StartDate }},
		{"unknown orbit", func(j *JobSpec) { j.Workflow.OrbitDirection = "SIDEWAYS" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			spec.Normalize()
			tt.mutate(&spec)
			assert.Error(t, spec.Validate())
		})
	}
}

func TestStepResult_JSONKeepsStageData(t *testing.T) {
	start := time.Date(2023, 2, 1, 10, 0, 0, 0, time.UTC)
	in := StepResult{
		Stage:     "search",
		Status:    StepCompleted,
		StartedAt: start,
		EndedAt:   start.Add(1500 * time.Millisecond),
		Duration:  1500 * time.Millisecond,
		Message:   "selected pair",
		Data:      SearchData{Candidates: 4, Reference: "A", Secondary: "B", BaselineDays: 12, Optimal: true},
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"kind":"search"`)

	var out StepResult
	require.NoError(t, json.Unmarshal(raw, &out))

	data, ok := out.Data.(SearchData)
	require.True(t, ok)
	assert.Equal(t, 12, data.BaselineDays)
	assert.Equal(t, in.Duration, out.Duration)
}

func TestTask_CloneIsIndependent(t *testing.T) {
	end := time.Now()
	orig := &Task{ID: "a", EndedAt: &end, Steps: []StepResult{{Stage: "search"}}}

	c := orig.Clone()
	c.Steps[0].Stage = "changed"
	*c.EndedAt = end.Add(time.Hour)

	assert.Equal(t, "search", orig.Steps[0].Stage)
	assert.Equal(t, end, *orig.EndedAt)
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}
