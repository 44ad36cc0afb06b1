// Package llm talks to a local OpenAI-compatible inference server (LM Studio,
// Ollama) using the generation parameters of a shaping.Profile.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/onnwee/kissbot/shaping"
	"github.com/onnwee/kissbot/telemetry"
)

var (
	// ErrCircuitOpen is returned without contacting the server while the breaker is open.
	ErrCircuitOpen = errors.New("llm circuit open")
	// ErrEmptyCompletion is returned when the stream produced no text.
	ErrEmptyCompletion = errors.New("llm returned an empty completion")
)

// Completion is the accumulated streamed answer.
type Completion struct {
	Text         string
	FinishReason string
}

// Truncated reports whether generation stopped on the token budget.
func (c Completion) Truncated() bool {
	return c.FinishReason == string(openai.FinishReasonLength)
}

// Generator produces a completion for a prompt under a profile.
type Generator interface {
	Generate(ctx context.Context, prompt string, p shaping.Profile) (Completion, error)
}

// Config configures Client.
type Config struct {
	Endpoint     string // base URL, e.g. http://127.0.0.1:1234/v1
	Model        string
	APIKey       string
	SystemPrompt string

	FailureThreshold int
	RecoveryTime     time.Duration

	HTTPClient *http.Client
}

// Client is a Generator backed by go-openai with streaming.
type Client struct {
	api     *openai.Client
	model   string
	system  string
	breaker *Breaker
}

// NewClient builds a client. The API key is optional for local servers.
func NewClient(cfg Config) *Client {
	key := cfg.APIKey
	if key == "" {
		key = "local"
	}
	oc := openai.DefaultConfig(key)
	if cfg.Endpoint != "" {
		oc.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	wrapped := *hc
	wrapped.Transport = &extensionTransport{base: hc.Transport}
	oc.HTTPClient = &wrapped

	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		system:  cfg.SystemPrompt,
		breaker: NewBreaker(cfg.FailureThreshold, cfg.RecoveryTime),
	}
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Generate streams a chat completion and returns the accumulated text.
// Every failure counts against the circuit breaker.
func (c *Client) Generate(ctx context.Context, prompt string, p shaping.Profile) (Completion, error) {
	kind := string(p.Kind)
	if !c.breaker.Allow() {
		telemetry.ObserveLLM(kind, "rejected", 0)
		return Completion{}, ErrCircuitOpen
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	ctx, span := telemetry.StartSpan(ctx, "llm", "chat.completions", telemetry.KindAttr(kind))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "llm"), slog.String("kind", kind))

	start := time.Now()
	msgs := c.messages(prompt, isMistral(c.model))
	out, err := c.stream(ctx, msgs, p)
	if err != nil && rejectsSystemRole(err) && len(msgs) > 1 {
		logger.Info("model rejected system role, retrying user-only", slog.String("model", c.model))
		out, err = c.stream(ctx, c.messages(prompt, true), p)
	}
	if err == nil && strings.TrimSpace(out.Text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		c.breaker.Failure()
		telemetry.RecordError(span, err)
		telemetry.ObserveLLM(kind, "error", time.Since(start))
		logger.Warn("llm generation failed", slog.Any("err", err), slog.Duration("elapsed", time.Since(start)))
		return Completion{}, err
	}
	c.breaker.Success()
	telemetry.SetSpanSuccess(span)
	telemetry.ObserveLLM(kind, "ok", time.Since(start))
	logger.Debug("llm generation done",
		slog.Int("chars", len([]rune(out.Text))),
		slog.String("finish_reason", out.FinishReason),
		slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *Client) messages(prompt string, userOnly bool) []openai.ChatCompletionMessage {
	if c.system == "" {
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	}
	if userOnly {
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: c.system + "\n\n" + prompt}}
	}
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: c.system},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}
}

func (c *Client) stream(ctx context.Context, msgs []openai.ChatCompletionMessage, p shaping.Profile) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stop:        p.Stop,
		Stream:      true,
	}
	s, err := c.api.CreateChatCompletionStream(withRepeatPenalty(ctx, p.RepeatPenalty), req)
	if err != nil {
		return Completion{}, fmt.Errorf("create completion stream: %w", err)
	}
	defer s.Close()

	var b strings.Builder
	var finish string
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Completion{}, fmt.Errorf("read completion stream: %w", err)
		}
		for _, ch := range resp.Choices {
			b.WriteString(ch.Delta.Content)
			if ch.FinishReason != "" {
				finish = string(ch.FinishReason)
			}
		}
	}
	return Completion{Text: strings.TrimSpace(b.String()), FinishReason: finish}, nil
}

// Mistral instruct templates reject the system role.
func isMistral(model string) bool {
	return strings.Contains(strings.ToLower(model), "mistral")
}

func rejectsSystemRole(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusBadRequest {
		msg := strings.ToLower(apiErr.Message)
		return strings.Contains(msg, "system") || strings.Contains(msg, "role")
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusBadRequest {
		msg := strings.ToLower(reqErr.Error())
		return strings.Contains(msg, "system") || strings.Contains(msg, "role")
	}
	return false
}
