package providers

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

type stubProvider struct {
	name string
	resp *Response
	err  error
	reqs []*Request
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Call(_ context.Context, req *Request) (*Response, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func TestGateway_Resolve(t *testing.T) {
	openai := &stubProvider{name: "openai", resp: &Response{Text: "hi"}}
	gw := NewGateway(openai, &stubProvider{name: "gemini"})

	p, err := gw.Resolve(" OpenAI ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p != openai {
		t.Errorf("Resolve() returned %v", p.Name())
	}

	resp, err := gw.Call(context.Background(), "openai", &Request{})
	if err != nil || resp.Text != "hi" {
		t.Fatalf("Call() = %+v, %v", resp, err)
	}

	_, err = gw.Resolve("mistral")
	if !faults.Is(err, faults.KindConfig) {
		t.Fatalf("unknown provider error = %v, want config fault", err)
	}
	if faults.IsRetryable(err) {
		t.Error("unknown provider must not be retryable")
	}

	names := gw.Names()
	if len(names) != 2 || names[0] != "gemini" || names[1] != "openai" {
		t.Errorf("Names() = %v", names)
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{
		{Role: models.RoleSystem, Content: "rules"},
		{Role: models.RoleSystem, Content: "  "},
		{Role: models.RoleSystem, Content: "defaults"},
		{Role: models.RoleUser, Content: "hello"},
	})
	if system != "rules\n\ndefaults" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "hello" {
		t.Errorf("rest = %+v", rest)
	}
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"q":"x"}`, `{"q":"x"}`},
		{"", `{}`},
		{"{not json", `{}`},
		{"  ", `{}`},
	}
	for _, tt := range tests {
		if got := string(normalizeArguments(tt.in)); got != tt.want {
			t.Errorf("normalizeArguments(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRequest_ToolNames(t *testing.T) {
	req := &Request{Tools: []models.ToolDefinition{{Name: "a"}, {Name: "b"}}}
	names := req.ToolNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ToolNames() = %v", names)
	}
}
