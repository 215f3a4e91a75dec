package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExtraction marks a model response that could not be turned into the
// requested structure.
var ErrExtraction = errors.New("structured output extraction failed")

// ParseError carries the raw model text alongside the reason parsing failed.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrExtraction.Error(), e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrExtraction }

// Validator is implemented by structured outputs that check their own
// invariants after decoding.
type Validator interface {
	Validate() error
}

// ParseResult is either a decoded value or a parse error. A failed parse
// is a value here, not a Go error, so callers can log it and continue.
type ParseResult[T any] struct {
	Value T
	Raw   string
	Err   *ParseError
}

func (r ParseResult[T]) Ok() bool { return r.Err == nil }

// ParseStructured decodes raw model output into T.
func ParseStructured[T any](raw string) ParseResult[T] {
	var out T
	if strings.TrimSpace(raw) == "" {
		return ParseResult[T]{Raw: raw, Err: &ParseError{Raw: raw, Reason: "empty response"}}
	}

	if err := UnmarshalFlexible(raw, &out); err != nil {
		return ParseResult[T]{Raw: raw, Err: &ParseError{Raw: raw, Reason: err.Error()}}
	}

	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return ParseResult[T]{Raw: raw, Err: &ParseError{Raw: raw, Reason: err.Error()}}
		}
	}

	return ParseResult[T]{Value: out, Raw: raw}
}

// GenerateStructured sends messages and decodes the reply into T. The
// schema of T is attached to the request; later opts may override it.
//
// The returned error is only set when the provider call itself failed. A
// reply that does not decode is reported through ParseResult.Err.
func GenerateStructured[T any](
	ctx context.Context,
	client GraphAIClient,
	messages []ChatMessage,
	opts ...GenerateOption,
) (ParseResult[T], error) {
	var zero T
	opts = append([]GenerateOption{WithJSONSchema(SchemaName(zero), GenerateSchema(zero))}, opts...)
	raw, err := client.GenerateChat(ctx, messages, opts...)
	if err != nil {
		return ParseResult[T]{}, err
	}
	return ParseStructured[T](raw), nil
}
