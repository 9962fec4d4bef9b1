package run

import "encoding/json"

// TeamResult is the structured outcome attached to a run on completion.
// Result payloads that do not carry all three fields are discarded.
type TeamResult struct {
	TaskResult json.RawMessage `json:"task_result"`
	Usage      string          `json:"usage"`
	Duration   float64         `json:"duration"`
}

// ParseTeamResult decodes data and reports whether it matches the team
// result shape (task_result + usage + duration all present).
func ParseTeamResult(data []byte) (*TeamResult, bool) {
	if len(data) == 0 {
		return nil, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, false
	}
	for _, field := range []string{"task_result", "usage", "duration"} {
		if _, ok := probe[field]; !ok {
			return nil, false
		}
	}

	var tr TeamResult
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, false
	}
	return &tr, true
}
