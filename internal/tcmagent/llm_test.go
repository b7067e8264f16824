package tcmagent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-cmp/cmp"
)

func chatServer(t *testing.T, status int, content string, seen *ChatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type %q", got)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientCallSendsRequestBody(t *testing.T) {
	var seen ChatRequest
	srv := chatServer(t, http.StatusOK, `{"ok": true}`, &seen)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	got := client.Call(context.Background(), []Message{systemMessage("s"), userMessage("u")})
	if diff := cmp.Diff(Object{"ok": true}, got); diff != "" {
		t.Fatalf("object mismatch (-want +got):\n%s", diff)
	}
	want := ChatRequest{
		Model:          DefaultModel,
		Messages:       []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		Temperature:    0,
		MaxTokens:      DefaultMaxTokens,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestClientCallWithOverrides(t *testing.T) {
	var seen ChatRequest
	srv := chatServer(t, http.StatusOK, `{}`, &seen)
	client := NewClientWithCompleter(ClientConfig{Endpoint: srv.URL}, NewHTTPCompleter(srv.URL, "", srv.Client()))
	temp := 0.7
	client.CallWith(context.Background(), []Message{userMessage("u")}, CallOptions{
		Model:          "other",
		MaxTokens:      64,
		Temperature:    &temp,
		ResponseFormat: &ResponseFormat{Type: "text"},
	})
	if seen.Model != "other" || seen.MaxTokens != 64 || seen.Temperature != 0.7 || seen.ResponseFormat.Type != "text" {
		t.Fatalf("overrides not applied: %+v", seen)
	}
}

func TestClientCallTextOmitsResponseFormat(t *testing.T) {
	var seen ChatRequest
	srv := chatServer(t, http.StatusOK, "plain answer", &seen)
	client, _ := NewClient(ClientConfig{Endpoint: srv.URL})
	if got := client.CallText(context.Background(), []Message{userMessage("u")}); got != "plain answer" {
		t.Fatalf("unexpected text %q", got)
	}
	if seen.ResponseFormat != nil {
		t.Fatalf("expected no response_format, got %+v", seen.ResponseFormat)
	}
}

func TestClientCallParsesEmbeddedJSON(t *testing.T) {
	for name, content := range map[string]string{
		"fenced":  "```json\n{\"tcm_diagnosis\": \"燥痹-阴虚内热证\"}\n```",
		"wrapped": "诊断如下：{\"tcm_diagnosis\": \"燥痹-阴虚内热证\"} 以上。",
	} {
		t.Run(name, func(t *testing.T) {
			srv := chatServer(t, http.StatusOK, content, nil)
			client, _ := NewClient(ClientConfig{Endpoint: srv.URL})
			got := client.Call(context.Background(), []Message{userMessage("u")})
			if got["tcm_diagnosis"] != "燥痹-阴虚内热证" {
				t.Fatalf("unexpected object: %v", got)
			}
		})
	}
}

func TestClientCallFailuresCollapseToEmpty(t *testing.T) {
	for name, tc := range map[string]struct {
		status  int
		content string
	}{
		"server error": {http.StatusInternalServerError, `{"a": 1}`},
		"not json":     {http.StatusOK, "no json here"},
		"array":        {http.StatusOK, `[1, 2]`},
		"broken span":  {http.StatusOK, `text {"a": } text`},
	} {
		t.Run(name, func(t *testing.T) {
			srv := chatServer(t, tc.status, tc.content, nil)
			client, _ := NewClient(ClientConfig{Endpoint: srv.URL})
			got := client.Call(context.Background(), []Message{userMessage("u")})
			if got == nil || len(got) != 0 {
				t.Fatalf("expected empty non-nil object, got %v", got)
			}
		})
	}
}

func TestClientCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context is only cancelled on disconnect once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	client, _ := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	if got := client.Call(context.Background(), []Message{userMessage("u")}); len(got) != 0 {
		t.Fatalf("expected empty object on timeout, got %v", got)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, _ := NewClient(ClientConfig{Endpoint: url})
	if got := client.Call(context.Background(), []Message{userMessage("u")}); len(got) != 0 {
		t.Fatalf("expected empty object, got %v", got)
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	if _, err := NewClient(ClientConfig{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := NewClient(ClientConfig{Provider: ProviderAnthropic}); err == nil {
		t.Fatal("expected error for anthropic provider without key")
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.Endpoint != DefaultEndpoint || cfg.Model != DefaultModel || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	anth := ClientConfig{Provider: ProviderAnthropic}.withDefaults()
	if anth.Endpoint != "" || anth.Model != DefaultAnthropicModel {
		t.Fatalf("unexpected anthropic defaults: %+v", anth)
	}
}

type fakeMessager struct {
	params anthropic.MessageNewParams
	resp   *anthropic.Message
	err    error
}

func (f *fakeMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = params
	return f.resp, f.err
}

func TestAnthropicCompleterMergesTurns(t *testing.T) {
	fake := &fakeMessager{resp: &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: `{"a":1}`}}}}
	prev := newAnthropicClient
	newAnthropicClient = func(string, string) AnthropicMessager { return fake }
	t.Cleanup(func() { newAnthropicClient = prev })

	client, err := NewClient(ClientConfig{Provider: ProviderAnthropic, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got := client.Call(context.Background(), []Message{
		systemMessage("sys"),
		userMessage("case"),
		userMessage("feedback"),
		assistantMessage("step"),
		userMessage("observation"),
	})
	if got["a"] != float64(1) {
		t.Fatalf("unexpected object: %v", got)
	}
	if len(fake.params.System) != 1 || fake.params.System[0].Text != "sys" {
		t.Fatalf("unexpected system blocks: %+v", fake.params.System)
	}
	if len(fake.params.Messages) != 3 {
		t.Fatalf("expected 3 alternating turns, got %d", len(fake.params.Messages))
	}
	if len(fake.params.Messages[0].Content) != 2 {
		t.Fatalf("expected merged user turn with 2 blocks, got %d", len(fake.params.Messages[0].Content))
	}
	if fake.params.Model != anthropic.Model(DefaultAnthropicModel) || fake.params.MaxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected params: model=%s max_tokens=%d", fake.params.Model, fake.params.MaxTokens)
	}
}

func TestAnthropicCompleterErrorCollapses(t *testing.T) {
	fake := &fakeMessager{err: errors.New("status code: 529 overloaded")}
	c := NewClientWithCompleter(ClientConfig{Provider: ProviderAnthropic}, &AnthropicCompleter{messages: fake})
	if got := c.Call(context.Background(), []Message{userMessage("u")}); len(got) != 0 {
		t.Fatalf("expected empty object, got %v", got)
	}
}

func TestStripCodeFences(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := stripCodeFences(in); got != "{\"a\":1}" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestClassifyTransportError(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want llmFailureClass
	}{
		{context.DeadlineExceeded, failureTimeout},
		{assertErr("chat completion failed: status 429: slow down"), failureRateLimit},
		{assertErr("chat completion failed: status 503: unavailable"), failureServer},
		{assertErr("status code: 400 bad request"), failureClient},
		{assertErr("failed after 5 retries while waiting 4 seconds"), failureServer},
	} {
		if got := classifyTransportError(tc.err); got != tc.want {
			t.Fatalf("classify(%q) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
