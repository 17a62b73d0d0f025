package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/johncui/socrate/pkg/model"
)

// Upstream produces the vendor's raw JSON response for one prompt.
type Upstream interface {
	GenerateContent(ctx context.Context, modelName, prompt string) ([]byte, error)
}

// GenAIUpstream calls the Gemini API through the genai SDK with a server-held key.
type GenAIUpstream struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGenAIUpstream creates the SDK client. timeout bounds each call; 0 means none.
func NewGenAIUpstream(ctx context.Context, apiKey string, timeout time.Duration) (*GenAIUpstream, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIUpstream{client: client, timeout: timeout}, nil
}

// GenerateContent sends prompt as a single user turn and returns the
// response re-encoded as JSON.
func (u *GenAIUpstream) GenerateContent(ctx context.Context, modelName, prompt string) ([]byte, error) {
	if modelName == "" {
		modelName = DefaultModel
	}
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	resp, err := u.client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}
	return json.Marshal(resp)
}

// Direct is a Gateway that skips the proxy and talks to the upstream itself.
type Direct struct {
	upstream Upstream
	model    string
}

func NewDirect(upstream Upstream, modelName string) *Direct {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Direct{upstream: upstream, model: modelName}
}

func (d *Direct) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := d.upstream.GenerateContent(ctx, d.model, prompt)
	if err != nil {
		return "", err
	}
	return TextFrom(body), nil
}

var (
	_ Upstream      = (*GenAIUpstream)(nil)
	_ model.Gateway = (*Direct)(nil)
)
