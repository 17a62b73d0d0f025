package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vendorBody = `{"candidates":[{"content":{"parts":[{"text":"{\"response\":\"hi\"}"}],"role":"model"}}]}`

func TestTextFrom(t *testing.T) {
	assert.Equal(t, `{"response":"hi"}`, TextFrom([]byte(vendorBody)))

	cases := map[string]struct {
		body string
		want string
	}{
		"no candidates": {body: `{"promptFeedback": {"blockReason": "SAFETY"}}`, want: `{"promptFeedback":{"blockReason":"SAFETY"}}`},
		"empty parts":   {body: `{"candidates":[{"content":{"parts":[]}}]}`, want: `{"candidates":[{"content":{"parts":[]}}]}`},
		"empty text":    {body: `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, want: `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`},
		"not json":      {body: `oops`, want: `oops`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, TextFrom([]byte(tc.body)))
		})
	}
}

func TestClient_Generate(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(vendorBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/gemini", "", srv.Client())
	text, err := c.Generate(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, `{"response":"hi"}`, text)
	assert.Equal(t, "hello", got.Prompt)
	assert.Equal(t, DefaultModel, got.Model)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "m", srv.Client()).Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "API Error: 500", err.Error())
}

func TestClient_InvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "m", srv.Client()).Generate(context.Background(), "x")
	assert.Error(t, err)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "m", nil).Generate(context.Background(), "x")
	assert.Error(t, err)
}

type fakeUpstream struct {
	model, prompt string
	body          string
	err           error
}

func (f *fakeUpstream) GenerateContent(_ context.Context, modelName, prompt string) ([]byte, error) {
	f.model, f.prompt = modelName, prompt
	return []byte(f.body), f.err
}

func TestDirect_Generate(t *testing.T) {
	up := &fakeUpstream{body: vendorBody}
	text, err := NewDirect(up, "gemini-2.0-flash").Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, `{"response":"hi"}`, text)
	assert.Equal(t, "gemini-2.0-flash", up.model)
	assert.Equal(t, "p", up.prompt)

	up.err = errors.New("quota")
	_, err = NewDirect(up, "").Generate(context.Background(), "p")
	assert.EqualError(t, err, "quota")
	assert.Equal(t, DefaultModel, up.model)
}

func TestNewGenAIUpstream_RequiresKey(t *testing.T) {
	_, err := NewGenAIUpstream(context.Background(), "", 0)
	assert.Error(t, err)
}
