package processing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"time"

	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/task"
)

// Input is what the computation stages know about the job at hand.
type Input struct {
	JobID     string
	Pair      catalog.Pair
	Files     []string
	OutputDir string
}

// Engine performs the geophysical computations. Implementations are
// expected to honor ctx between units of work.
type Engine interface {
	Coregister(ctx context.Context, in Input) (task.AlignmentData, error)
	Interferogram(ctx context.Context, in Input, aligned task.AlignmentData) (task.InterferogramData, error)
	Deformation(ctx context.Context, in Input, ifg task.InterferogramData) (task.DeformationData, error)
}

// Simulated stands in for the processing library: each step waits Delay and
// returns values derived deterministically from the granule names.
type Simulated struct {
	Delay time.Duration
}

func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{Delay: delay}
}

func (s *Simulated) Coregister(ctx context.Context, in Input) (task.AlignmentData, error) {
	if len(in.Files) < 2 {
		return task.AlignmentData{}, fmt.Errorf("coregistration needs two images, got %d", len(in.Files))
	}
	if err := s.wait(ctx); err != nil {
		return task.AlignmentData{}, err
	}

	seed := seedOf(in)
	return task.AlignmentData{
		OffsetX: round(float64(seed%2000)/100 - 10),
		OffsetY: round(float64((seed/2000)%2000)/100 - 10),
	}, nil
}

func (s *Simulated) Interferogram(ctx context.Context, in Input, aligned task.AlignmentData) (task.InterferogramData, error) {
	if err := s.wait(ctx); err != nil {
		return task.InterferogramData{}, err
	}

	// coherence decays with temporal baseline
	coherence := 0.85 * math.Exp(-float64(in.Pair.BaselineDays)/60)
	return task.InterferogramData{
		Path:          filepath.Join(in.OutputDir, "interferogram.tif"),
		CoherenceMean: round(coherence),
	}, nil
}

func (s *Simulated) Deformation(ctx context.Context, in Input, ifg task.InterferogramData) (task.DeformationData, error) {
	if err := s.wait(ctx); err != nil {
		return task.DeformationData{}, err
	}

	const wavelength = 0.0555
	cycles := float64(seedOf(in)%500) / 100
	return task.DeformationData{
		Path:            filepath.Join(in.OutputDir, "deformation.tif"),
		MaxDisplacement: round(cycles * wavelength / (4 * math.Pi) * ifg.CoherenceMean),
	}, nil
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func seedOf(in Input) uint32 {
	h := fnv.New32a()
	h.Write([]byte(in.Pair.Reference.Granule))
	h.Write([]byte(in.Pair.Secondary.Granule))
	return h.Sum32()
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
