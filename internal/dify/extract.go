package dify

import (
	"encoding/json"
	"sort"
	"strings"
)

// Rule is a path into a decoded JSON payload. Intermediate values may be
// objects or strings holding a JSON object.
type Rule []string

func (r Rule) String() string { return strings.Join(r, ".") }

var contentFields = []string{"result", "text", "content", "answer", "output"}

// outputFields is the preference order inside workflow outputs.
var outputFields = []string{"text", "result", "output", "content", "answer"}

func under(prefix []string, fields []string) []Rule {
	rules := make([]Rule, 0, len(fields))
	for _, f := range fields {
		r := make(Rule, 0, len(prefix)+1)
		r = append(r, prefix...)
		rules = append(rules, append(r, f))
	}
	return rules
}

// ContentRules is the priority order used to find text in a payload whose
// shape is not known in advance. The first non-empty string wins.
var ContentRules = concat(
	under(nil, contentFields),
	under([]string{"data"}, contentFields),
	under([]string{"outputs"}, contentFields),
	[]Rule{{"message", "content"}},
	under([]string{"data", "outputs"}, contentFields),
)

// AnswerRules locate the Markdown in a blocking workflow response.
var AnswerRules = []Rule{
	{"answer"},
	{"data", "outputs", "text"},
	{"data", "outputs", "output"},
	{"outputs", "output"},
	{"outputs", "text"},
	{"output"},
	{"text"},
}

func concat(groups ...[]Rule) []Rule {
	var out []Rule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Extract returns the first non-empty string matched by rules.
func Extract(payload map[string]any, rules []Rule) (string, bool) {
	for _, r := range rules {
		if s, ok := lookupString(payload, r); ok {
			return s, true
		}
	}
	return "", false
}

func lookupString(v any, path Rule) (string, bool) {
	for _, key := range path {
		m, ok := asObject(v)
		if !ok {
			return "", false
		}
		if v, ok = m[key]; !ok {
			return "", false
		}
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// asObject accepts a decoded object or a string containing one.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil, false
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

// extractFinished finds the final document in a workflow_finished payload.
// data.outputs takes precedence over every other location.
func extractFinished(payload map[string]any) (string, bool) {
	data, _ := asObject(payload["data"])
	if raw, ok := data["outputs"]; ok {
		if s, ok := extractOutputs(raw); ok {
			return s, true
		}
	}
	return Extract(payload, ContentRules)
}

func extractOutputs(raw any) (string, bool) {
	outputs, ok := asObject(raw)
	if !ok {
		s, isString := raw.(string)
		return s, isString && strings.TrimSpace(s) != ""
	}

	if s, ok := Extract(outputs, under(nil, outputFields)); ok {
		return s, true
	}

	keys := sortedKeys(outputs)
	for _, k := range keys {
		nested, ok := asObject(outputs[k])
		if !ok {
			continue
		}
		if s, ok := Extract(nested, under(nil, outputFields)); ok {
			return s, true
		}
	}
	for _, k := range keys {
		if s, ok := outputs[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
