package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EvaluationKind identifies which family of evaluation runs a table lists.
type EvaluationKind string

// Evaluation kinds.
const (
	KindAuto   EvaluationKind = "auto"
	KindHuman  EvaluationKind = "human"
	KindOnline EvaluationKind = "online"
	KindCustom EvaluationKind = "custom"
	KindAll    EvaluationKind = "all"
)

// EvaluationKinds lists every valid kind in display order.
var EvaluationKinds = []EvaluationKind{KindAuto, KindHuman, KindOnline, KindCustom, KindAll}

// ParseEvaluationKind parses a kind name, case-insensitively.
func ParseEvaluationKind(s string) (EvaluationKind, error) {
	k := EvaluationKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range EvaluationKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown evaluation kind %q", s)
}

// RunStatus represents the lifecycle state of an evaluation run.
type RunStatus string

// Run status constants.
const (
	RunStatusInitialized RunStatus = "initialized"
	RunStatusStarted     RunStatus = "started"
	RunStatusRunning     RunStatus = "running"
	RunStatusPending     RunStatus = "pending"
	RunStatusSuccess     RunStatus = "success"
	RunStatusFailure     RunStatus = "failure"
	RunStatusErrors      RunStatus = "errors"
	RunStatusCancelled   RunStatus = "cancelled"
)

// IsInProgress reports whether a run with this status may still change.
func (s RunStatus) IsInProgress() bool {
	switch RunStatus(strings.ToLower(string(s))) {
	case RunStatusInitialized, RunStatusStarted, RunStatusRunning, RunStatusPending:
		return true
	default:
		return false
	}
}

// RunRow is one row of the run listing table.
// Skeleton rows are placeholders synthesized before their page resolves.
type RunRow struct {
	Key            string         `json:"key"`
	ProjectID      string         `json:"projectId"`
	RunID          string         `json:"runId"`
	Source         string         `json:"source,omitempty"`
	AppID          string         `json:"appId,omitempty"`
	Name           string         `json:"name,omitempty"`
	EvaluationKind EvaluationKind `json:"evaluationKind,omitempty"`
	Status         RunStatus      `json:"status,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CreatedByID    string         `json:"createdById,omitempty"`
	PreviewMeta    *PreviewMeta   `json:"previewMeta,omitempty"`
	IsSkeleton     bool           `json:"isSkeleton"`
}

// APIRun is a run as returned by the windowed listing endpoint.
// Zero-valued fields are treated as absent when merged into a row.
type APIRun struct {
	Key            string         `json:"key,omitempty"`
	ID             string         `json:"id"`
	ProjectID      string         `json:"project_id,omitempty"`
	Source         string         `json:"source,omitempty"`
	AppID          string         `json:"app_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	EvaluationKind EvaluationKind `json:"kind,omitempty"`
	Status         RunStatus      `json:"status,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
	CreatedByID    string         `json:"created_by_id,omitempty"`
	PreviewMeta    *PreviewMeta   `json:"data,omitempty"`
}

// PreviewMeta is the step graph and column mappings carried by a listed run.
type PreviewMeta struct {
	Steps      []Step          `json:"steps,omitempty"`
	Mappings   []Mapping       `json:"mappings,omitempty"`
	Evaluators []EvaluatorHint `json:"evaluators,omitempty"`
}

// Step types.
const (
	StepTypeInput      = "input"
	StepTypeInvocation = "invocation"
	StepTypeAnnotation = "annotation"
)

// Step is one stage of a run's execution graph.
// References are keyed by role-specific aliases and kept raw because their
// shape differs between backends; see internal/blueprint for resolution.
type Step struct {
	Key        string                     `json:"key"`
	Type       string                     `json:"type,omitempty"`
	Origin     string                     `json:"origin,omitempty"`
	References map[string]json.RawMessage `json:"references,omitempty"`
}

// Mapping kinds.
const (
	MappingKindAnnotation = "annotation"
	MappingKindEvaluator  = "evaluator"
)

// Mapping exposes a step output path as a named, typed column.
type Mapping struct {
	Kind       string `json:"kind,omitempty"`
	Name       string `json:"name,omitempty"`
	StepKey    string `json:"step_key"`
	Path       string `json:"path"`
	OutputType string `json:"output_type,omitempty"`
}

// IsEvaluator reports whether the mapping describes evaluator output.
func (m Mapping) IsEvaluator() bool {
	return m.Kind == MappingKindAnnotation || m.Kind == MappingKindEvaluator
}

// EvaluatorHint carries evaluator identity the backend attaches outside the steps.
type EvaluatorHint struct {
	ID   string `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name,omitempty"`
}

// RunSummary is the lightweight per-row payload fetched on first visibility.
type RunSummary struct {
	ID             string                     `json:"id"`
	Name           string                     `json:"name,omitempty"`
	Status         RunStatus                  `json:"status,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	CreatedByID    string                     `json:"created_by_id,omitempty"`
	AppID          string                     `json:"app_id,omitempty"`
	TestsetIDs     []string                   `json:"testset_ids,omitempty"`
	TestsetNames   map[string]string          `json:"testset_names,omitempty"`
	StepReferences map[string]json.RawMessage `json:"step_references,omitempty"`
	Flags          map[string]bool            `json:"flags,omitempty"`
}

// RunDetail is the full run record plus a derived index of its steps.
type RunDetail struct {
	Run   map[string]any `json:"run"`
	Index RunIndex       `json:"index"`
}

// RunIndex groups step keys by step type for quick lookup.
type RunIndex struct {
	InputKeys      []string `json:"input_keys,omitempty"`
	InvocationKeys []string `json:"invocation_keys,omitempty"`
	AnnotationKeys []string `json:"annotation_keys,omitempty"`
}

// BasicStats is an aggregate over one metric of one run.
// Every field is optional; absent values render as a placeholder.
type BasicStats struct {
	Mean      *float64    `json:"mean,omitempty"`
	Median    *float64    `json:"median,omitempty"`
	Sum       *float64    `json:"sum,omitempty"`
	Count     *float64    `json:"count,omitempty"`
	Frequency []FreqEntry `json:"freq,omitempty"`
	Rank      []FreqEntry `json:"rank,omitempty"`
}

// FreqEntry is one bucket of a categorical distribution.
type FreqEntry struct {
	Value any     `json:"value"`
	Count float64 `json:"count"`
}
