package dify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a normalized stream event.
type Kind int

const (
	KindWorkflowStarted Kind = iota + 1
	KindNodeStarted
	KindNodeFinished
	KindTextChunk
	KindWorkflowFinished
	KindDirectContent
	KindDone
	KindUpstreamError
)

func (k Kind) String() string {
	switch k {
	case KindWorkflowStarted:
		return "workflow_started"
	case KindNodeStarted:
		return "node_started"
	case KindNodeFinished:
		return "node_finished"
	case KindTextChunk:
		return "text_chunk"
	case KindWorkflowFinished:
		return "workflow_finished"
	case KindDirectContent:
		return "direct_content"
	case KindDone:
		return "done"
	case KindUpstreamError:
		return "upstream_error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one upstream stream line reduced to what the relay needs.
type Event struct {
	Kind   Kind
	RunID  string
	NodeID string
	// Sequence is the 1-based count of finished nodes, set by Accumulator.
	Sequence int
	Text     string
	// HasContent is set on WorkflowFinished when a final document was found.
	HasContent bool
	Message    string
}

const unknownNode = "未知节点"

// ParseLine normalizes one stream line. Lines that carry nothing usable
// (blank lines, comments, non-data fields, malformed JSON, events without
// text) return an error wrapping ErrSkip.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, ErrSkip
	}
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return Event{}, fmt.Errorf("%w: not a data line", ErrSkip)
	}
	payload = strings.TrimSpace(payload)
	if payload == "[DONE]" {
		return Event{Kind: KindDone}, nil
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrSkip, err)
	}
	return Normalize(m)
}

// Normalize maps a decoded payload to an Event by its "event" discriminator.
func Normalize(m map[string]any) (Event, error) {
	name, _ := m["event"].(string)
	data, _ := asObject(m["data"])

	switch name {
	case "workflow_started":
		runID, _ := Extract(m, []Rule{{"workflow_run_id"}, {"data", "id"}})
		return Event{Kind: KindWorkflowStarted, RunID: runID}, nil

	case "node_started", "node_finished":
		nodeID, ok := Extract(m, []Rule{{"node_id"}, {"data", "node_id"}})
		if !ok {
			nodeID = unknownNode
		}
		kind := KindNodeStarted
		if name == "node_finished" {
			kind = KindNodeFinished
		}
		return Event{Kind: kind, NodeID: nodeID}, nil

	case "text_chunk":
		text, ok := Extract(m, []Rule{{"data", "text"}})
		if !ok {
			return Event{}, fmt.Errorf("%w: empty text_chunk", ErrSkip)
		}
		return Event{Kind: KindTextChunk, Text: text}, nil

	case "workflow_finished":
		runID, _ := Extract(m, []Rule{{"workflow_run_id"}, {"data", "id"}})
		if status, _ := data["status"].(string); status == "failed" {
			msg, _ := Extract(m, []Rule{{"data", "error"}})
			if msg == "" {
				msg = "workflow failed"
			}
			return Event{Kind: KindUpstreamError, RunID: runID, Message: msg}, nil
		}
		text, ok := extractFinished(m)
		return Event{Kind: KindWorkflowFinished, RunID: runID, Text: text, HasContent: ok}, nil

	case "message":
		text, ok := Extract(m, []Rule{{"message", "content"}, {"answer"}})
		if !ok {
			return Event{}, fmt.Errorf("%w: empty message", ErrSkip)
		}
		return Event{Kind: KindTextChunk, Text: text}, nil

	case "error":
		msg, ok := Extract(m, []Rule{{"message"}, {"data", "message"}, {"code"}})
		if !ok {
			msg = "upstream error event"
		}
		return Event{Kind: KindUpstreamError, Message: msg}, nil
	}

	// Unknown events and payloads without a discriminator.
	text, ok := Extract(m, ContentRules)
	if !ok {
		if name != "" {
			return Event{}, fmt.Errorf("%w: event %q without content", ErrSkip, name)
		}
		return Event{}, fmt.Errorf("%w: no content", ErrSkip)
	}
	return Event{Kind: KindDirectContent, Text: text}, nil
}
