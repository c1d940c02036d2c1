package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Stage names the pipeline step an Event describes.
type Stage string

// Pipeline stages written to the event log.
const (
	StagePipelineStart    Stage = "pipeline_start"
	StageSourceSuccess    Stage = "source_success"
	StageSourceError      Stage = "source_error"
	StageSourceMissingURL Stage = "source_missing_url"
	StagePremiosParsed    Stage = "premios_parsed"
	StagePremiosConsensus Stage = "premios_consensus"
	StagePozosEnriched    Stage = "pozos_enriched"
	StagePipelineComplete Stage = "pipeline_complete"
	StagePipelineError    Stage = "pipeline_error"
)

// Event is one line of the run event log.
type Event struct {
	// RunID is shared by every event of one run.
	RunID string
	// Seq orders events within a run; assigned by the Recorder.
	Seq int64
	// TS is the UTC time the event was recorded.
	TS time.Time
	Stage Stage
	// Source is set on per-source events.
	Source string
	URL    string
	// Attrs carries stage-specific fields, flattened into the JSON form.
	Attrs map[string]any
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StagePipelineStart, StagePremiosParsed, StagePremiosConsensus,
		StagePozosEnriched, StagePipelineComplete, StagePipelineError:
	case StageSourceSuccess, StageSourceError, StageSourceMissingURL:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

var reservedKeys = map[string]struct{}{
	"event": {}, "run_id": {}, "seq": {}, "ts": {}, "source": {}, "url": {},
}

// MarshalJSON renders the event as a single flat object.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attrs)+6)
	for k, v := range e.Attrs {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	out["event"] = e.Stage
	out["run_id"] = e.RunID
	out["seq"] = e.Seq
	out["ts"] = e.TS.UTC().Format(time.RFC3339Nano)
	if e.Source != "" {
		out["source"] = e.Source
	}
	if e.URL != "" {
		out["url"] = e.URL
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Int returns the integer attribute key, if present.
func (e Event) Int(key string) (int64, bool) {
	switch v := e.Attrs[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float returns the float attribute key, if present.
func (e Event) Float(key string) (float64, bool) {
	switch v := e.Attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Text returns the string attribute key, if present.
func (e Event) Text(key string) (string, bool) {
	switch v := e.Attrs[key].(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
