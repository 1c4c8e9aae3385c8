package chain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spigell/hh-analyzer/internal/scoring"
)

// Results holds the raw output of every step of a posting keyed by step id.
// Keys keep their first insertion order; Set on an existing key overwrites
// the value in place.
type Results struct {
	keys   []string
	values map[string]json.RawMessage
}

func NewResults() *Results {
	return &Results{values: make(map[string]json.RawMessage)}
}

// ParseResults reads a JSON object, keeping the key order of the document.
// Empty input yields empty results.
func ParseResults(data []byte) (*Results, error) {
	r := NewResults()
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return r, nil
	}
	if err := r.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the stored value of the step.
func (r *Results) Get(stepID string) (json.RawMessage, bool) {
	v, ok := r.values[stepID]
	return v, ok
}

// Object decodes the stored value of the step. It reports false when the
// value is missing, is not an object or is an empty object.
func (r *Results) Object(stepID string) (map[string]any, bool) {
	raw, ok := r.values[stepID]
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		return nil, false
	}
	return obj, true
}

func (r *Results) Set(stepID string, value json.RawMessage) {
	if _, ok := r.values[stepID]; !ok {
		r.keys = append(r.keys, stepID)
	}
	r.values[stepID] = append(json.RawMessage(nil), value...)
}

// Keys returns the step ids in order.
func (r *Results) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Results) Len() int {
	return len(r.keys)
}

// Objects returns every step that holds an object, for scoring.
func (r *Results) Objects() scoring.StepData {
	out := make(scoring.StepData, len(r.keys))
	for _, k := range r.keys {
		if obj, ok := r.Object(k); ok {
			out[k] = obj
		}
	}
	return out
}

func (r *Results) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(r.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Results) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read step results: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("step results must be a JSON object")
	}

	r.keys = nil
	r.values = make(map[string]json.RawMessage)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read step results: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected step results key %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("read step %q: %w", key, err)
		}
		r.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("read step results: %w", err)
	}
	return nil
}
