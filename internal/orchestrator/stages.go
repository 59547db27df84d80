package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/download"
	"github.com/podushkina/sarflow/internal/executor"
	"github.com/podushkina/sarflow/internal/logsink"
	"github.com/podushkina/sarflow/internal/processing"
	"github.com/podushkina/sarflow/internal/task"
)

const (
	StageSearch        = "search"
	StageAcquisition   = "acquisition"
	StageAlignment     = "alignment"
	StageInterferogram = "interferogram"
	StageDeformation   = "deformation"
)

// pipeline carries intermediate results from one stage to the next. It is
// touched only by the task's own worker.
type pipeline struct {
	spec    task.JobSpec
	workDir string

	pair    catalog.Pair
	files   []string
	aligned task.AlignmentData
	ifg     task.InterferogramData
}

func newPipeline(spec task.JobSpec, downloadDir string) *pipeline {
	return &pipeline{spec: spec, workDir: filepath.Join(downloadDir, spec.JobID)}
}

func (p *pipeline) input() processing.Input {
	return processing.Input{
		JobID:     p.spec.JobID,
		Pair:      p.pair,
		Files:     p.files,
		OutputDir: filepath.Join(p.workDir, "output"),
	}
}

func (o *Orchestrator) stages(p *pipeline) []executor.Stage {
	return []executor.Stage{
		{Name: StageSearch, Work: func(ctx context.Context, sc *logsink.Scope) (task.StageData, error) {
			return o.search(ctx, p, sc)
		}},
		{Name: StageAcquisition, Work: func(ctx context.Context, sc *logsink.Scope) (task.StageData, error) {
			return o.acquire(ctx, p, sc)
		}},
		{Name: StageAlignment, Work: func(ctx context.Context, sc *logsink.Scope) (task.StageData, error) {
			aligned, err := o.engine.Coregister(ctx, p.input())
			if err != nil {
				return nil, fmt.Errorf("coregister: %w", err)
			}
			p.aligned = aligned
			sc.Infof("coregistered pair, offset %.2f/%.2f px", aligned.OffsetX, aligned.OffsetY)
			return aligned, nil
		}},
		{Name: StageInterferogram, Work: func(ctx context.Context, sc *logsink.Scope) (task.StageData, error) {
			ifg, err := o.engine.Interferogram(ctx, p.input(), p.aligned)
			if err != nil {
				return nil, fmt.Errorf("build interferogram: %w", err)
			}
			p.ifg = ifg
			sc.Infof("interferogram written to %s, mean coherence %.3f", ifg.Path, ifg.CoherenceMean)
			return ifg, nil
		}},
		{Name: StageDeformation, Work: func(ctx context.Context, sc *logsink.Scope) (task.StageData, error) {
			def, err := o.engine.Deformation(ctx, p.input(), p.ifg)
			if err != nil {
				return nil, fmt.Errorf("compute deformation: %w", err)
			}
			sc.Infof("deformation map written to %s, max displacement %.4f m", def.Path, def.MaxDisplacement)
			return def, nil
		}},
	}
}

func (o *Orchestrator) search(ctx context.Context, p *pipeline, sc *logsink.Scope) (task.StageData, error) {
	res, err := o.findScenes(ctx, p.spec, sc)
	if err != nil {
		return nil, err
	}

	pair, err := catalog.SelectPair(res.Products, sc)
	if err != nil {
		return nil, err
	}
	p.pair = pair
	return searchData(res, pair), nil
}

// ScenePreview is what the search stage would find for a job.
type ScenePreview struct {
	Products     []catalog.Product `json:"products"`
	UsedFallback bool              `json:"used_fallback"`
	Pair         *task.SearchData  `json:"pair,omitempty"`
	// PairError explains why no pair could be formed.
	PairError    string            `json:"pair_error,omitempty"`
}

// SearchScenes runs the catalog search and pair selection for spec without
// creating a task.
func (o *Orchestrator) SearchScenes(ctx context.Context, spec task.JobSpec) (*ScenePreview, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	log := o.logger.WithField("job_id", spec.JobID)

	res, err := o.findScenes(ctx, spec, log)
	var noData *catalog.NoDataError
	if errors.As(err, &noData) {
		return &ScenePreview{Products: []catalog.Product{}, PairError: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	preview := &ScenePreview{Products: res.Products, UsedFallback: res.UsedFallback}
	pair, err := catalog.SelectPair(res.Products, log)
	if err != nil {
		preview.PairError = err.Error()
		return preview, nil
	}
	data := searchData(res, pair)
	preview.Pair = &data
	return preview, nil
}

func (o *Orchestrator) findScenes(ctx context.Context, spec task.JobSpec, log catalog.Logger) (*catalog.Result, error) {
	start, end, err := spec.DateRange()
	if err != nil {
		return nil, err
	}

	c := catalog.DefaultConstraints()
	c.Platform = spec.Workflow.Satellite
	c.FlightDirection = spec.Workflow.OrbitDirection
	c.Polarization = spec.Workflow.Polarization

	a := spec.Area
	area := catalog.BBox{West: a.West, South: a.South, East: a.East, North: a.North}
	return o.searcher.Search(ctx, area, start, end, c, log)
}

func searchData(res *catalog.Result, pair catalog.Pair) task.SearchData {
	return task.SearchData{
		Candidates:   len(res.Products),
		UsedFallback: res.UsedFallback,
		Reference:    pair.Reference.Granule,
		Secondary:    pair.Secondary.Granule,
		ReferenceAt:  pair.Reference.StartTime,
		SecondaryAt:  pair.Secondary.StartTime,
		BaselineDays: pair.BaselineDays,
		Optimal:      pair.Optimal,
	}
}

// acquire downloads both products of the pair into the job's directory.
// Files already present from an earlier run are reused when their checksum
// still matches the catalog's.
func (o *Orchestrator) acquire(ctx context.Context, p *pipeline, sc *logsink.Scope) (task.StageData, error) {
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	data := task.AcquisitionData{}
	for _, prod := range []catalog.Product{p.pair.Reference, p.pair.Secondary} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prod.URL == "" {
			return nil, fmt.Errorf("product %s has no download url", prod.Granule)
		}

		dest := filepath.Join(p.workDir, fileName(prod))
		if cached(dest, prod, sc) {
			data.CachedHits++
		} else {
			sc.Infof("downloading %s", prod.Granule)
			if err := o.downloader.Download(ctx, prod.URL, dest, sc); err != nil {
				return nil, err
			}
			if err := download.VerifyMD5(dest, prod.MD5); err != nil {
				sc.Errorf("verification of %s failed: %v", prod.Granule, err)
				os.Remove(dest)
				return nil, err
			}
		}

		info, err := os.Stat(dest)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", dest, err)
		}
		data.Files = append(data.Files, dest)
		data.Bytes += info.Size()
	}

	p.files = data.Files
	return data, nil
}

// cached reports whether dest already holds prod. A file that fails
// verification is removed so it gets downloaded again.
func cached(dest string, prod catalog.Product, sc *logsink.Scope) bool {
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return false
	}
	if err := download.VerifyMD5(dest, prod.MD5); err != nil {
		sc.Warnf("discarding cached %s: %v", filepath.Base(dest), err)
		os.Remove(dest)
		return false
	}
	if prod.MD5 != "" {
		sc.Debugf("checksum of %s verified", filepath.Base(dest))
	}
	sc.Infof("reusing %s (%d bytes)", filepath.Base(dest), info.Size())
	return true
}

func fileName(p catalog.Product) string {
	if p.FileName != "" {
		return filepath.Base(p.FileName)
	}
	if base := path.Base(p.URL); base != "." && base != "/" {
		return base
	}
	return p.Granule + ".zip"
}
