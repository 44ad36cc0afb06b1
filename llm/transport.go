package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/sjson"
)

type penaltyKeyType struct{}

var penaltyKey penaltyKeyType

// withRepeatPenalty attaches a repeat_penalty for the request built from ctx.
func withRepeatPenalty(ctx context.Context, v float32) context.Context {
	if v <= 0 {
		return ctx
	}
	return context.WithValue(ctx, penaltyKey, v)
}

// extensionTransport adds llama.cpp style sampling fields that the OpenAI
// request type has no room for. LM Studio and Ollama read repeat_penalty from
// the top level of the chat completion body.
type extensionTransport struct {
	base http.RoundTripper
}

func (t *extensionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	v, ok := req.Context().Value(penaltyKey).(float32)
	if !ok || req.Body == nil || req.Method != http.MethodPost {
		return base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	body, err = sjson.SetRawBytes(body, "repeat_penalty", strconv.AppendFloat(nil, float64(v), 'f', -1, 32))
	if err != nil {
		return nil, fmt.Errorf("set repeat_penalty: %w", err)
	}
	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	return base.RoundTrip(out)
}
