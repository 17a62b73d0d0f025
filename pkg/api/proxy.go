package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/johncui/socrate/pkg/gateway"
)

// proxy forwards {prompt, model} to the vendor with the server-held key and
// returns the vendor JSON as-is.
func (s *server) proxy(w http.ResponseWriter, req *http.Request) {
	var in gateway.Request
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if in.Model == "" {
		in.Model = s.defaultModel
	}

	body, err := s.upstream.GenerateContent(req.Context(), in.Model, in.Prompt)
	if err != nil {
		s.logger.Error("upstream call failed", "model", in.Model, "err", err)
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
