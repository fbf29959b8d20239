package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// ListRuns fetches one window of runs. Without a project id it returns an
// empty final page and sends nothing.
func (cl *Client) ListRuns(ctx context.Context, req core.ListRunsRequest) (*core.ListRunsResponse, error) {
	if req.ProjectID == "" {
		return &core.ListRunsResponse{}, nil
	}
	var out core.ListRunsResponse
	_, err := cl.do(ctx, call{
		method: http.MethodPost,
		route:  "/evaluations/runs/query",
		path:   "/evaluations/runs/query",
		query:  url.Values{"project_id": {req.ProjectID}},
		body:   req,
		out:    &out,
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return &out, nil
}

// GetRunSummary fetches the summary of one run.
func (cl *Client) GetRunSummary(ctx context.Context, ref core.RunRef) (*core.RunSummary, error) {
	var out core.RunSummary
	_, err := cl.do(ctx, call{
		method: http.MethodGet,
		route:  "/evaluations/runs/{id}/summary",
		path:   "/evaluations/runs/" + url.PathEscape(ref.RunID) + "/summary",
		query:  url.Values{"project_id": {ref.ProjectID}},
		out:    &out,
	})
	if err != nil {
		return nil, fmt.Errorf("get run summary %s: %w", ref.RunID, err)
	}
	return &out, nil
}

// GetRunDetail fetches the full run record. Keys are normalized to
// snake_case and step keys are indexed by step type.
func (cl *Client) GetRunDetail(ctx context.Context, runID string) (*core.RunDetail, error) {
	var raw struct {
		Run map[string]any `json:"run"`
	}
	_, err := cl.do(ctx, call{
		method: http.MethodGet,
		route:  "/evaluations/runs/{id}",
		path:   "/evaluations/runs/" + url.PathEscape(runID),
		out:    &raw,
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	run, _ := normalizeKeys(raw.Run).(map[string]any)
	if run == nil {
		run = map[string]any{}
	}
	return &core.RunDetail{Run: run, Index: indexSteps(run)}, nil
}

// GetMetricStats fetches statistics of one metric. 204 and 404 responses
// mean the metric has none and yield core.ErrUnavailable.
func (cl *Client) GetMetricStats(ctx context.Context, req core.MetricStatsRequest) (*core.BasicStats, error) {
	var out struct {
		Stats *core.BasicStats `json:"stats"`
	}
	status, err := cl.do(ctx, call{
		method: http.MethodPost,
		route:  "/evaluations/metrics/query",
		path:   "/evaluations/metrics/query",
		body:   req,
		out:    &out,
	})
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil, core.ErrUnavailable
	case err != nil:
		return nil, fmt.Errorf("query metric stats: %w", err)
	case status == http.StatusNoContent || out.Stats == nil:
		return nil, core.ErrUnavailable
	}
	return out.Stats, nil
}

// DeleteRuns deletes runs in bulk.
func (cl *Client) DeleteRuns(ctx context.Context, req core.DeleteRunsRequest) error {
	if len(req.RunIDs) == 0 {
		return nil
	}
	_, err := cl.do(ctx, call{
		method: http.MethodPost,
		route:  "/evaluations/runs/delete",
		path:   "/evaluations/runs/delete",
		body:   req,
	})
	if err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

// ProbeOutputType returns the declared output type of an evaluator metric.
func (cl *Client) ProbeOutputType(ctx context.Context, req core.OutputTypeRequest) (string, error) {
	var out struct {
		OutputType string `json:"output_type"`
	}
	_, err := cl.do(ctx, call{
		method: http.MethodGet,
		route:  "/evaluators/outputs/type",
		path:   "/evaluators/outputs/type",
		query: url.Values{
			"project_id":     {req.ProjectID},
			"evaluator_slug": {req.EvaluatorSlug},
			"metric_path":    {req.MetricPath},
		},
		out: &out,
	})
	if err != nil {
		return "", fmt.Errorf("probe output type: %w", err)
	}
	if out.OutputType == "" {
		return "", core.ErrNotFound
	}
	return out.OutputType, nil
}

// GetReferenceLabel returns the display label of a referenced entity.
func (cl *Client) GetReferenceLabel(ctx context.Context, req core.LabelRequest) (string, error) {
	var out struct {
		Label string `json:"label"`
		Name  string `json:"name"`
		Slug  string `json:"slug"`
	}
	_, err := cl.do(ctx, call{
		method: http.MethodGet,
		route:  "/references/{role}/{id}",
		path:   "/references/" + url.PathEscape(string(req.Role)) + "/" + url.PathEscape(req.ID),
		query:  url.Values{"project_id": {req.ProjectID}},
		out:    &out,
	})
	if err != nil {
		return "", fmt.Errorf("get %s label: %w", req.Role, err)
	}
	for _, s := range []string{out.Label, out.Name, out.Slug} {
		if s != "" {
			return s, nil
		}
	}
	return "", core.ErrNotFound
}

// normalizeKeys rewrites every object key of v to snake_case.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeCase(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// indexSteps groups the keys of run["data"]["steps"] (or run["steps"]) by
// step type.
func indexSteps(run map[string]any) core.RunIndex {
	steps, _ := run["steps"].([]any)
	if data, ok := run["data"].(map[string]any); ok && steps == nil {
		steps, _ = data["steps"].([]any)
	}
	var idx core.RunIndex
	for _, s := range steps {
		step, ok := s.(map[string]any)
		if !ok {
			continue
		}
		key, _ := step["key"].(string)
		typ, _ := step["type"].(string)
		if key == "" {
			continue
		}
		switch typ {
		case core.StepTypeInput:
			idx.InputKeys = append(idx.InputKeys, key)
		case core.StepTypeInvocation:
			idx.InvocationKeys = append(idx.InvocationKeys, key)
		case core.StepTypeAnnotation:
			idx.AnnotationKeys = append(idx.AnnotationKeys, key)
		}
	}
	return idx
}

var _ core.RunsAPI = (*Client)(nil)
