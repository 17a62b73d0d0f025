package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/johncui/socrate/pkg/model"
)

// maxResponseBytes bounds how much of a proxy reply is read.
const maxResponseBytes = 8 << 20

// Client calls a remote gateway proxy.
type Client struct {
	url   string
	model string
	http  *http.Client
}

// NewClient returns a Client posting to url. A nil httpClient uses http.DefaultClient.
func NewClient(url, modelName string, httpClient *http.Client) *Client {
	if modelName == "" {
		modelName = DefaultModel
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, model: modelName, http: httpClient}
}

// Generate posts {prompt, model} and extracts the generated text.
// Non-2xx answers are errors; they are not retried.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(Request{Prompt: prompt, Model: c.model})
	if err != nil {
		return "", fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("API Error: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}
	if !json.Valid(body) {
		return "", errors.New("gateway response is not json")
	}
	return TextFrom(body), nil
}

var _ model.Gateway = (*Client)(nil)
