// Package gateway turns prompts into generated text, either through the
// HTTP proxy or by calling the vendor SDK in-process.
package gateway

import (
	"bytes"
	"encoding/json"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-1.5-flash"

// Request is the proxy's wire body.
type Request struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type vendorResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// TextFrom returns candidates[0].content.parts[0].text from a vendor
// response body. When that path is missing or empty the whole body,
// compacted, is returned instead so nothing is lost.
func TextFrom(body []byte) string {
	var resp vendorResponse
	if err := json.Unmarshal(body, &resp); err == nil &&
		len(resp.Candidates) > 0 &&
		len(resp.Candidates[0].Content.Parts) > 0 &&
		resp.Candidates[0].Content.Parts[0].Text != "" {
		return resp.Candidates[0].Content.Parts[0].Text
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return string(body)
	}
	return buf.String()
}
