// Package llm defines the text-generation collaborator used by every
// grounded pipeline call, plus JSON helpers shared by the stages.
package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Generator produces a completion for a system prompt and a user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

var (
	// ErrMalformedJSON marks a completion that could not be decoded as the
	// expected JSON shape.
	ErrMalformedJSON = eris.New("llm: malformed json")
	// ErrUnavailable is returned by generators that cannot reach a model.
	ErrUnavailable = eris.New("llm: generator unavailable")
)

type stageKey struct{}

// WithStage tags ctx with the pipeline stage making the call, for cost
// attribution and logs.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage tag on ctx, or "unknown".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// CleanJSON strips markdown code fences and any prose around the outermost
// JSON object or array.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```JSON")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(text, closer); end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// DecodeJSON cleans text and decodes it into out. Any failure matches
// ErrMalformedJSON.
func DecodeJSON(text string, out any) error {
	cleaned := CleanJSON(text)
	if cleaned == "" {
		return eris.Wrap(ErrMalformedJSON, "empty completion")
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return eris.Wrapf(ErrMalformedJSON, "decode: %v", err)
	}
	return nil
}

// GenerateJSON runs gen and decodes the completion into out. Transport
// errors are returned as-is; decode failures match ErrMalformedJSON.
func GenerateJSON(ctx context.Context, gen Generator, system, user string, out any) error {
	if gen == nil {
		return ErrUnavailable
	}
	text, err := gen.Generate(ctx, system, user)
	if err != nil {
		return err
	}
	return DecodeJSON(text, out)
}
