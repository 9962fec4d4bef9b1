package run

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata keys and values carried on agent messages.
const (
	MetaType          = "type"
	MetaIndex         = "index"
	MetaPlanMessage   = "plan_message"
	MetaFinalAnswer   = "final_answer"
	MetaStepExecution = "step_execution"
)

// Message is one entry in a run's append-only message log. Version starts
// at zero and is bumped only by the plan-attachment rewrite, the single
// permitted post-append mutation.
type Message struct {
	Config    AgentMessageConfig `json:"config"`
	SessionID string             `json:"session_id"`
	RunID     string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Version   int                `json:"version,omitempty"`
}

// IsPlanMessage returns true if the message carries an embedded plan.
func (m *Message) IsPlanMessage() bool {
	return m.Config.Metadata[MetaType] == MetaPlanMessage
}

// IsFinalAnswer returns true if the message is tagged as the agent's
// concluding response to the current task.
func (m *Message) IsFinalAnswer() bool {
	return m.Config.Metadata[MetaType] == MetaFinalAnswer
}

// AgentMessageConfig carries the wire-level payload of one agent message.
type AgentMessageConfig struct {
	Source   string            `json:"source"`
	Content  Content           `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ContentKind discriminates the content union.
type ContentKind int

const (
	ContentText ContentKind = iota
	ContentMultiModal
	ContentFunctionCalls
	ContentFunctionResults
)

// Content is the tagged union of message payload shapes: plain text, a
// list of text/image segments, a list of function calls, or a list of
// function results.
type Content struct {
	Kind     ContentKind
	Text     string
	Segments []Segment
	Calls    []FunctionCall
	Results  []FunctionResult
}

// Segment is one element of multi-modal content.
type Segment struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"data,omitempty"` // base64-encoded inline image
}

// IsImage returns true when the segment carries an inline image.
func (s Segment) IsImage() bool { return s.Image != "" }

// FunctionCall is a single tool invocation requested by the agent.
type FunctionCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FunctionResult is the outcome of a single tool invocation.
type FunctionResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// TextContent returns a new plain-text content value.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// String renders the content for logs and summary views.
func (c Content) String() string {
	switch c.Kind {
	case ContentText:
		return c.Text
	case ContentMultiModal:
		out := ""
		for _, seg := range c.Segments {
			if seg.IsImage() {
				out += "[image]"
				continue
			}
			out += seg.Text
		}
		return out
	case ContentFunctionCalls:
		return fmt.Sprintf("[%d function calls]", len(c.Calls))
	case ContentFunctionResults:
		return fmt.Sprintf("[%d function results]", len(c.Results))
	}
	return ""
}

// MarshalJSON encodes the union in its wire shape: a bare string for text,
// otherwise a JSON array of the typed elements.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case ContentText:
		return json.Marshal(c.Text)
	case ContentMultiModal:
		elems := make([]any, 0, len(c.Segments))
		for _, seg := range c.Segments {
			if seg.IsImage() {
				elems = append(elems, map[string]string{"type": "image", "data": seg.Image})
				continue
			}
			elems = append(elems, seg.Text)
		}
		return json.Marshal(elems)
	case ContentFunctionCalls:
		return json.Marshal(c.Calls)
	case ContentFunctionResults:
		return json.Marshal(c.Results)
	}
	return json.Marshal("")
}

// UnmarshalJSON decodes the wire shape back into the union. Unknown array
// element shapes degrade to text segments rather than erroring, so
// forward-compatible servers do not break parsing.
func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Content{Kind: ContentText, Text: text}
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("content: unsupported shape: %w", err)
	}
	if len(elems) == 0 {
		*c = Content{Kind: ContentMultiModal}
		return nil
	}

	// Classify by the first object element; a leading string means multi-modal.
	var first map[string]json.RawMessage
	if err := json.Unmarshal(elems[0], &first); err != nil {
		return c.unmarshalSegments(elems)
	}
	if _, ok := first["arguments"]; ok {
		var calls []FunctionCall
		if err := json.Unmarshal(data, &calls); err != nil {
			return fmt.Errorf("content: function calls: %w", err)
		}
		*c = Content{Kind: ContentFunctionCalls, Calls: calls}
		return nil
	}
	if _, ok := first["call_id"]; ok {
		var results []FunctionResult
		if err := json.Unmarshal(data, &results); err != nil {
			return fmt.Errorf("content: function results: %w", err)
		}
		*c = Content{Kind: ContentFunctionResults, Results: results}
		return nil
	}
	return c.unmarshalSegments(elems)
}

func (c *Content) unmarshalSegments(elems []json.RawMessage) error {
	segs := make([]Segment, 0, len(elems))
	for _, raw := range elems {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			segs = append(segs, Segment{Text: text})
			continue
		}
		var img struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(raw, &img); err == nil && img.Data != "" {
			segs = append(segs, Segment{Image: img.Data})
			continue
		}
		// Unknown element shape: keep raw text so nothing is silently lost.
		segs = append(segs, Segment{Text: string(raw)})
	}
	*c = Content{Kind: ContentMultiModal, Segments: segs}
	return nil
}
