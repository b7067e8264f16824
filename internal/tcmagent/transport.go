package tcmagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// HTTPCompleter speaks the OpenAI-compatible chat-completions protocol.
type HTTPCompleter struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPCompleter(endpoint, apiKey string, client *http.Client) *HTTPCompleter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCompleter{endpoint: endpoint, apiKey: strings.TrimSpace(apiKey), client: client}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (h *HTTPCompleter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("chat completion failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat completion: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return "{}", nil
	}
	return *out.Choices[0].Message.Content, nil
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey, baseURL string) AnthropicMessager

func defaultAnthropicCreator(apiKey, baseURL string) AnthropicMessager {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := anthropic.NewClient(opts...)
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

// AnthropicCompleter maps a chat transcript onto the Messages API. System
// turns become system blocks; consecutive turns of the same role are merged
// because the API expects alternating roles.
type AnthropicCompleter struct {
	messages AnthropicMessager
}

func NewAnthropicCompleter(apiKey, baseURL string) *AnthropicCompleter {
	return &AnthropicCompleter{messages: newAnthropicClient(apiKey, baseURL)}
}

func (a *AnthropicCompleter) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := a.messages.New(ctx, anthropicParams(req))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func anthropicParams(req ChatRequest) anthropic.MessageNewParams {
	type turn struct {
		role   string
		blocks []anthropic.ContentBlockParamUnion
	}
	var system []anthropic.TextBlockParam
	var turns []turn
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		block := anthropic.NewTextBlock(m.Content)
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].blocks = append(turns[n-1].blocks, block)
			continue
		}
		turns = append(turns, turn{role: role, blocks: []anthropic.ContentBlockParamUnion{block}})
	}

	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		if t.role == RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(t.blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(t.blocks...))
		}
	}
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		System:      system,
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
}

type llmFailureClass int

const (
	failureNone llmFailureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

func (c llmFailureClass) String() string {
	switch c {
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limit"
	case failureServer:
		return "server"
	case failureClient:
		return "client"
	default:
		return "none"
	}
}

var statusCodeRe = regexp.MustCompile(`status(?:\s+code)?[:=\s]+(\d{3})`)

func classifyTransportError(err error) llmFailureClass {
	if err == nil {
		return failureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		switch {
		case m[1] == "429":
			return failureRateLimit
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	if strings.Contains(msg, "rate limit") {
		return failureRateLimit
	}
	return failureServer
}
