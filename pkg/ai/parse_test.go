package ai

import (
	"context"
	"errors"
	"testing"
)

type primer struct {
	Answer    string   `json:"answer"`
	FollowUps []string `json:"follow_up_questions"`
}

type checked struct {
	Name string `json:"name"`
}

func (c *checked) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

type scriptedClient struct {
	reply   string
	err     error
	options GenerateOptions
}

func (s *scriptedClient) GenerateChat(_ context.Context, _ []ChatMessage, opts ...GenerateOption) (string, error) {
	s.options = ApplyOptions(GenerateOptions{}, opts...)
	return s.reply, s.err
}

func (s *scriptedClient) GenerateChatWithTools(context.Context, []ChatMessage, []Tool, ...GenerateOption) (string, error) {
	return s.reply, s.err
}

func (s *scriptedClient) GenerateEmbeddings(context.Context, []string) ([][]float32, error) {
	return nil, s.err
}

func (s *scriptedClient) ResetMetrics()            {}
func (s *scriptedClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantOK  bool
		answer  string
		nFollow int
	}{
		{name: "valid", raw: `{"answer":"42","follow_up_questions":["why?","how?"]}`, wantOK: true, answer: "42", nFollow: 2},
		{name: "fenced", raw: "```json\n{\"answer\":\"x\",\"follow_up_questions\":[]}\n```", wantOK: true, answer: "x"},
		{name: "empty", raw: "   ", wantOK: false},
		{name: "prose", raw: "I think the answer is 42", wantOK: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := ParseStructured[primer](tc.raw)
			if res.Ok() != tc.wantOK {
				t.Fatalf("Ok() = %v, want %v (err %v)", res.Ok(), tc.wantOK, res.Err)
			}
			if !tc.wantOK {
				if res.Err.Raw != tc.raw {
					t.Fatalf("Raw = %q, want %q", res.Err.Raw, tc.raw)
				}
				if !errors.Is(res.Err, ErrExtraction) {
					t.Fatalf("expected ErrExtraction, got %v", res.Err)
				}
				return
			}
			if res.Value.Answer != tc.answer || len(res.Value.FollowUps) != tc.nFollow {
				t.Fatalf("got %+v", res.Value)
			}
		})
	}
}

func TestParseStructured_Validate(t *testing.T) {
	if res := ParseStructured[checked](`{"name":""}`); res.Ok() {
		t.Fatalf("expected validation failure")
	}
	if res := ParseStructured[checked](`{"name":"ok"}`); !res.Ok() || res.Value.Name != "ok" {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestGenerateStructured(t *testing.T) {
	ctx := context.Background()

	res, err := GenerateStructured[primer](ctx, &scriptedClient{reply: `{"answer":"a"}`}, nil)
	if err != nil || !res.Ok() || res.Value.Answer != "a" {
		t.Fatalf("GenerateStructured() = %+v, %v", res, err)
	}

	res, err = GenerateStructured[primer](ctx, &scriptedClient{reply: "not json"}, nil)
	if err != nil {
		t.Fatalf("parse failure must not be a call error: %v", err)
	}
	if res.Ok() {
		t.Fatalf("expected parse failure")
	}

	callErr := errors.New("boom")
	if _, err := GenerateStructured[primer](ctx, &scriptedClient{err: callErr}, nil); !errors.Is(err, callErr) {
		t.Fatalf("expected call error, got %v", err)
	}
}

func TestGenerateStructuredAttachesSchema(t *testing.T) {
	client := &scriptedClient{reply: `{"answer":"a"}`}
	if _, err := GenerateStructured[primer](context.Background(), client, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o := client.options
	if !o.JSONMode || o.SchemaName != "primer" || o.Schema == nil {
		t.Fatalf("schema not attached: %+v", o)
	}
	if _, ok := o.Schema.Properties.Get("answer"); !ok {
		t.Fatalf("schema lacks answer property")
	}

	override := GenerateSchema(checked{})
	if _, err := GenerateStructured[primer](context.Background(), client, nil, WithJSONSchema("custom", override)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.options.SchemaName != "custom" || client.options.Schema != override {
		t.Fatalf("later option did not override schema: %+v", client.options)
	}
}

func TestSchemaName(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"struct", primer{}, "primer"},
		{"pointer", &primer{}, "primer"},
		{"anonymous", struct{ A int }{}, "structured_output"},
		{"nil", nil, "structured_output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SchemaName(tt.value); got != tt.want {
				t.Fatalf("SchemaName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyOptions(t *testing.T) {
	base := GenerateOptions{Model: "m", SystemPrompts: []string{"a"}}
	got := ApplyOptions(base, WithSystemPrompts("b"), WithJSONMode(), WithTemperature(0.2))
	if got.Model != "m" || len(got.SystemPrompts) != 2 || !got.JSONMode || got.Temperature != 0.2 {
		t.Fatalf("ApplyOptions() = %+v", got)
	}
	if len(base.SystemPrompts) != 1 {
		t.Fatalf("defaults mutated: %+v", base)
	}
}
