package task

import (
	"encoding/json"
	"fmt"
	"time"
)

type StageKind string

const (
	KindSearch        StageKind = "search"
	KindAcquisition   StageKind = "acquisition"
	KindAlignment     StageKind = "alignment"
	KindInterferogram StageKind = "interferogram"
	KindDeformation   StageKind = "deformation"
)

// StageData is the typed payload a stage attaches to its StepResult. The set
// of implementations is closed; switch on the concrete type.
type StageData interface {
	Kind() StageKind
	stageData()
}

type SearchData struct {
	Candidates   int       `json:"candidates"`
	UsedFallback bool      `json:"used_fallback"`
	Reference    string    `json:"reference"`
	Secondary    string    `json:"secondary"`
	ReferenceAt  time.Time `json:"reference_at"`
	SecondaryAt  time.Time `json:"secondary_at"`
	BaselineDays int       `json:"baseline_days"`
	Optimal      bool      `json:"optimal"`
}

type AcquisitionData struct {
	Files      []string `json:"files"`
	Bytes      int64    `json:"bytes"`
	CachedHits int      `json:"cached_hits"`
}

type AlignmentData struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
}

type InterferogramData struct {
	Path          string  `json:"path"`
	CoherenceMean float64 `json:"coherence_mean"`
}

type DeformationData struct {
	Path            string  `json:"path"`
	MaxDisplacement float64 `json:"max_displacement"`
}

func (SearchData) Kind() StageKind        { return KindSearch }
func (AcquisitionData) Kind() StageKind   { return KindAcquisition }
func (AlignmentData) Kind() StageKind     { return KindAlignment }
func (InterferogramData) Kind() StageKind { return KindInterferogram }
func (DeformationData) Kind() StageKind   { return KindDeformation }

func (SearchData) stageData()        {}
func (AcquisitionData) stageData()   {}
func (AlignmentData) stageData()     {}
func (InterferogramData) stageData() {}
func (DeformationData) stageData()   {}

type stageEnvelope struct {
	Kind StageKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type stepJSON struct {
	Stage     string         `json:"stage"`
	Status    StepStatus     `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Duration  float64        `json:"duration_seconds"`
	Message   string         `json:"message"`
	Data      *stageEnvelope `json:"data,omitempty"`
}

func (r StepResult) MarshalJSON() ([]byte, error) {
	out := stepJSON{
		Stage:     r.Stage,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Duration:  r.Duration.Seconds(),
		Message:   r.Message,
	}
	if r.Data != nil {
		raw, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal stage data: %w", err)
		}
		out.Data = &stageEnvelope{Kind: r.Data.Kind(), Data: raw}
	}
	return json.Marshal(out)
}

func (r *StepResult) UnmarshalJSON(b []byte) error {
	var in stepJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	*r = StepResult{
		Stage:     in.Stage,
		Status:    in.Status,
		StartedAt: in.StartedAt,
		EndedAt:   in.EndedAt,
		Duration:  time.Duration(in.Duration * float64(time.Second)),
		Message:   in.Message,
	}
	if in.Data == nil {
		return nil
	}

	data, err := decodeStageData(in.Data.Kind, in.Data.Data)
	if err != nil {
		return err
	}
	r.Data = data
	return nil
}

func decodeStageData(kind StageKind, raw json.RawMessage) (StageData, error) {
	switch kind {
	case KindSearch:
		var d SearchData
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindAcquisition:
		var d AcquisitionData
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindAlignment:
		var d AlignmentData
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindInterferogram:
		var d InterferogramData
		err := json.Unmarshal(raw, &d)
		return d, err
	case KindDeformation:
		var d DeformationData
		err := json.Unmarshal(raw, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown stage data kind %q", kind)
	}
}
