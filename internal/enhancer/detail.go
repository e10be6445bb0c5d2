package enhancer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the normalized provider task state.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
)

// Detail is the normalized view of a provider payload.
type Detail struct {
	TaskID      string
	Outcome     Outcome
	ResultURLs  []string
	FailMessage string
}

// IsTerminal reports whether the provider has finished with the task.
func (detail Detail) IsTerminal() bool {
	return detail.Outcome == OutcomeSuccess || detail.Outcome == OutcomeFail
}

// HasResults reports whether at least one result url was found.
func (detail Detail) HasResults() bool {
	return len(detail.ResultURLs) > 0
}

var taskIDKeys = []string{"taskId", "task_id", "id", "job_id", "recordId", "record_id"}

// ExtractTaskID finds the task id at the top level or under data.
func ExtractTaskID(payload map[string]any) string {
	if value := firstScalar(payload, taskIDKeys...); value != "" {
		return value
	}
	if data, ok := payload["data"].(map[string]any); ok {
		return firstScalar(data, taskIDKeys...)
	}
	return ""
}

// DecodePayload parses a JSON object. Non-object bodies decode to an empty map.
func DecodePayload(raw []byte) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode provider payload: %w", err)
	}
	payload, ok := decoded.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}
	return payload, nil
}

// partial is what one extractor could read; empty fields mean "not found".
type partial struct {
	state       string
	resultURLs  []string
	failMessage string
}

type extractor func(payload map[string]any) partial

// Order matters: record-info shape, then single-image callbacks, then flat payloads.
var extractors = []extractor{
	extractRecordInfo,
	extractInfoImage,
	extractTopLevel,
}

// NormalizeDetail runs the extractors in order; for each field the first extractor that finds it wins.
// Unknown shapes normalize to a pending detail without results.
func NormalizeDetail(taskID string, payload map[string]any) Detail {
	detail := Detail{TaskID: taskID, Outcome: OutcomePending}
	state := ""
	for _, extract := range extractors {
		found := extract(payload)
		if state == "" {
			state = found.state
		}
		if len(detail.ResultURLs) == 0 && len(found.resultURLs) > 0 {
			detail.ResultURLs = found.resultURLs
		}
		if detail.FailMessage == "" {
			detail.FailMessage = found.failMessage
		}
	}
	detail.Outcome = parseOutcome(state)
	if detail.TaskID == "" {
		detail.TaskID = ExtractTaskID(payload)
	}
	return detail
}

func parseOutcome(state string) Outcome {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "success", "succeeded", "completed":
		return OutcomeSuccess
	case "fail", "failed", "error":
		return OutcomeFail
	default:
		return OutcomePending
	}
}

func extractRecordInfo(payload map[string]any) partial {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return partial{}
	}
	found := partial{
		state:       stringValue(data["state"]),
		failMessage: stringValue(data["failMsg"]),
	}
	resultJSON := strings.TrimSpace(stringValue(data["resultJson"]))
	if resultJSON == "" {
		return found
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(resultJSON), &parsed); err != nil {
		return found
	}
	found.resultURLs = stringList(parsed["resultUrls"])
	return found
}

func extractInfoImage(payload map[string]any) partial {
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return partial{}
	}
	info, ok := data["info"].(map[string]any)
	if !ok {
		return partial{}
	}
	for _, key := range []string{"resultImageUrl", "result_url", "url"} {
		if value := stringValue(info[key]); value != "" {
			return partial{resultURLs: []string{value}}
		}
	}
	return partial{}
}

func extractTopLevel(payload map[string]any) partial {
	return partial{
		state:       stringValue(payload["state"]),
		resultURLs:  stringList(payload["resultUrls"]),
		failMessage: stringValue(payload["failMsg"]),
	}
}

func stringValue(value any) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	urls := make([]string, 0, len(items))
	for _, item := range items {
		if text := stringValue(item); text != "" {
			urls = append(urls, text)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

func firstScalar(values map[string]any, keys ...string) string {
	for _, key := range keys {
		switch typed := values[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(typed); trimmed != "" {
				return trimmed
			}
		case float64:
			if typed != 0 {
				return fmt.Sprintf("%.0f", typed)
			}
		case json.Number:
			return typed.String()
		}
	}
	return ""
}
