package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/utils"
)

// ErrUnknownStep is returned when a chain names a step that does not exist.
var ErrUnknownStep = errors.New("unknown chain step")

// StepOutcome is the result of one step execution. A stop is not an error.
type StepOutcome struct {
	Continue    bool            `json:"continued"`
	StopReason  string          `json:"stop_reason,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Cached      bool            `json:"cached"`
	RawResponse string          `json:"-"`
}

// Step is one stage of a chain.
type Step interface {
	ID() string
	Description() string
	Execute(ctx context.Context, posting *models.Posting, results *Results, force bool) (StepOutcome, error)
}

// Caller is the model client used by steps.
type Caller interface {
	Call(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

type fieldKind int

const (
	boolField fieldKind = iota
	stringField
	pipeField
)

type field struct {
	name    string
	kind    fieldKind
	def     string
	aliases []string
}

func flag(name string, aliases ...string) field {
	return field{name: name, kind: boolField, aliases: aliases}
}

func enum(name, def string, aliases ...string) field {
	return field{name: name, kind: stringField, def: def, aliases: aliases}
}

func pipe(name, def string, aliases ...string) field {
	return field{name: name, kind: pipeField, def: def, aliases: aliases}
}

// stopFunc returns a non-empty reason when the chain must stop.
type stopFunc func(data map[string]any) string

type llmStep struct {
	id             string
	description    string
	template       string
	maxDescription int
	maxTokens      int
	fields         []field
	stop           stopFunc
	finish         func(data map[string]any)

	caller    Caller
	logger    *zap.Logger
	maxLogLen int
}

func (s *llmStep) ID() string {
	return s.id
}

func (s *llmStep) Description() string {
	return s.description
}

func (s *llmStep) Execute(ctx context.Context, posting *models.Posting, results *Results, force bool) (StepOutcome, error) {
	if posting == nil {
		return StepOutcome{}, fmt.Errorf("step %s: posting is required", s.id)
	}
	log := s.logger.With(logger.ChainFields(posting.ID, "", s.id)...)

	if !force {
		if cached, ok := results.Object(s.id); ok {
			raw, _ := results.Get(s.id)
			reason := s.evaluate(s.normalize(cached))
			log.Debug("step served from cache", zap.Bool("continue", reason == ""))
			return StepOutcome{Continue: reason == "", StopReason: reason, Data: raw, Cached: true}, nil
		}
	}

	prompt := s.render(posting)
	log.Debug("step request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, s.maxLogLen)),
	)

	text, err := s.caller.Call(ctx, prompt, llm.Options{
		Temperature: llm.Float(0),
		MaxTokens:   s.maxTokens,
		Purpose:     s.id,
	})
	if err != nil {
		return StepOutcome{}, fmt.Errorf("step %s: %w", s.id, err)
	}

	obj, err := llm.ParseObject(text)
	if err != nil {
		log.Warn("step returned malformed output", zap.String("response_preview", utils.TruncateForLog(text, s.maxLogLen)))
		return StepOutcome{}, fmt.Errorf("step %s: %w", s.id, err)
	}

	data := s.normalize(obj)
	raw, err := json.Marshal(data)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("step %s: encode result: %w", s.id, err)
	}
	results.Set(s.id, raw)

	reason := s.evaluate(data)
	log.Debug("step completed", zap.Bool("continue", reason == ""), zap.String("stop_reason", reason))

	return StepOutcome{Continue: reason == "", StopReason: reason, Data: raw, RawResponse: text}, nil
}

func (s *llmStep) evaluate(data map[string]any) string {
	if s.stop == nil {
		return ""
	}
	return s.stop(data)
}

func (s *llmStep) render(p *models.Posting) string {
	description := p.Description
	if s.maxDescription > 0 {
		description = utils.TruncateForLog(description, s.maxDescription)
	}

	r := strings.NewReplacer(
		"{{NAME}}", p.Name,
		"{{EMPLOYER}}", p.EmployerName,
		"{{DESCRIPTION}}", description,
		"{{SKILLS}}", p.Skills(),
	)
	return r.Replace(s.template)
}

// normalize keeps only the known fields of the step, filling defaults and
// coercing loosely typed values.
func (s *llmStep) normalize(in map[string]any) map[string]any {
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		v, ok := lookup(in, f)
		switch f.kind {
		case boolField:
			out[f.name] = ok && coerceBool(v)
		case stringField:
			val := strings.ToLower(coerceString(v))
			if val == "" {
				val = f.def
			}
			out[f.name] = val
		case pipeField:
			tokens := utils.SplitPipe(strings.ToLower(coerceString(v)))
			val := strings.Join(tokens, "|")
			if val == "" {
				val = f.def
			}
			out[f.name] = val
		}
	}
	if s.finish != nil {
		s.finish(out)
	}
	return out
}

func lookup(in map[string]any, f field) (any, bool) {
	if v, ok := in[f.name]; ok && v != nil {
		return v, true
	}
	for _, alias := range f.aliases {
		if v, ok := in[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		if val == math.Trunc(val) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "|")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func boolOf(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}

func stringOf(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
