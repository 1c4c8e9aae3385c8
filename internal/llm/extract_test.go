package llm

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain object", raw: ` {"java": true} `, want: `{"java": true}`},
		{name: "json fence", raw: "```json\n{\"java\": true}\n```", want: `{"java": true}`},
		{name: "bare fence", raw: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "array", raw: `[1, 2]`, want: `[1, 2]`},
		{name: "prose around object", raw: "Here you go: {\"a\": {\"b\": 1}} hope it helps", want: `{"a": {"b": 1}}`},
		{name: "no object", raw: "I cannot answer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Fatalf("expected ErrMalformedOutput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject("```json\n{\"java\": \"true\", \"jmix\": false}\n```")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if obj["java"] != "true" || obj["jmix"] != false {
		t.Fatalf("unexpected object %v", obj)
	}

	if _, err := ParseObject(`{"java": tru`); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
	if _, err := ParseObject(`[1]`); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected arrays to be rejected, got %v", err)
	}
	if _, err := ParseObject(`null`); !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected null to be rejected, got %v", err)
	}
}
