package tcmagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/joelkehle/tcm-agent/internal/logging"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

const (
	DefaultEndpoint  = "http://129.227.88.34:19101/v1/chat/completions"
	DefaultModel     = "Qwen3-32B"
	DefaultMaxTokens = 2000
	DefaultTimeout   = 120 * time.Second
)

const DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

type ResponseFormat struct {
	Type string `json:"type"`
}

var jsonObjectFormat = ResponseFormat{Type: "json_object"}

// ClientConfig selects the chat-completion service. Zero fields take the
// package defaults.
type ClientConfig struct {
	Provider       Provider
	Endpoint       string
	Model          string
	APIKey         string
	MaxTokens      int
	Temperature    float64
	ResponseFormat *ResponseFormat
	Timeout        time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{}.withDefaults()
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Provider == ProviderOpenAI && c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		if c.Provider == ProviderAnthropic {
			c.Model = DefaultAnthropicModel
		} else {
			c.Model = DefaultModel
		}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ResponseFormat == nil {
		rf := jsonObjectFormat
		c.ResponseFormat = &rf
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// CallOptions overrides the client configuration for a single call.
type CallOptions struct {
	Model          string
	MaxTokens      int
	Temperature    *float64
	ResponseFormat *ResponseFormat
}

// ChatRequest is the body POSTed to the chat-completion endpoint.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Caller is the single dependency of every stage: send a transcript, get a
// JSON object back. An empty Object means "no result"; callers apply their
// own retry policy.
type Caller interface {
	Call(ctx context.Context, messages []Message) Object
}

// Completer is the transport underneath Client.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type Client struct {
	cfg       ClientConfig
	completer Completer
	logger    *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewClientWithCompleter(cfg, NewHTTPCompleter(cfg.Endpoint, cfg.APIKey, nil)), nil
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("anthropic provider requires an API key")
		}
		return NewClientWithCompleter(cfg, NewAnthropicCompleter(cfg.APIKey, cfg.Endpoint)), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func NewClientWithCompleter(cfg ClientConfig, completer Completer) *Client {
	return &Client{cfg: cfg.withDefaults(), completer: completer, logger: logging.New("llm")}
}

func (c *Client) Config() ClientConfig { return c.cfg }

func (c *Client) Call(ctx context.Context, messages []Message) Object {
	return c.CallWith(ctx, messages, CallOptions{})
}

// CallWith issues one request and decodes the reply as a JSON object. Every
// failure (transport, status, decode) is logged and collapses to an empty
// Object.
func (c *Client) CallWith(ctx context.Context, messages []Message, opts CallOptions) Object {
	req := c.request(messages, opts)
	if req.ResponseFormat == nil {
		req.ResponseFormat = c.cfg.ResponseFormat
	}
	raw, err := c.complete(ctx, req)
	if err != nil {
		return Object{}
	}
	obj, err := parseJSONObject(raw)
	if err != nil {
		c.logger.Warn("llm_response_unparseable", "model", req.Model, "response_chars", len(raw), "err", err.Error())
		return Object{}
	}
	return obj
}

// CallText returns the raw reply without requesting JSON mode.
func (c *Client) CallText(ctx context.Context, messages []Message) string {
	raw, err := c.complete(ctx, c.request(messages, CallOptions{}))
	if err != nil {
		return ""
	}
	return raw
}

func (c *Client) request(messages []Message, opts CallOptions) ChatRequest {
	req := ChatRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    c.cfg.Temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: opts.ResponseFormat,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	return req
}

func (c *Client) complete(ctx context.Context, req ChatRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	started := time.Now()
	raw, err := c.completer.Complete(callCtx, req)
	if err != nil {
		c.logger.Warn("llm_call_failed",
			"model", req.Model,
			"class", classifyTransportError(err).String(),
			"elapsed_ms", time.Since(started).Milliseconds(),
			"err", err.Error())
		return "", err
	}
	c.logger.Debug("llm_call_success", "model", req.Model, "messages", len(req.Messages), "elapsed_ms", time.Since(started).Milliseconds(), "response_chars", len(raw))
	return raw, nil
}

var jsonSpanRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONObject decodes the reply directly, then without markdown fences,
// then from the first "{" to the last "}".
func parseJSONObject(content string) (Object, error) {
	content = strings.TrimSpace(content)
	v, err := decodeAny(content)
	if err != nil {
		if clean := stripCodeFences(content); clean != content {
			v, err = decodeAny(clean)
		}
	}
	if err != nil {
		span := jsonSpanRe.FindString(content)
		if span == "" {
			return nil, errors.New("no JSON object in response")
		}
		if v, err = decodeAny(span); err != nil {
			return nil, fmt.Errorf("decode extracted JSON: %w", err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response JSON is %T, not an object", v)
	}
	return obj, nil
}

func decodeAny(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}
