// Package api exposes sessions and the model gateway proxy over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/johncui/socrate/pkg/diary"
	"github.com/johncui/socrate/pkg/gateway"
	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/session"
)

// Options configures the router.
type Options struct {
	Sessions *session.Service
	// Upstream backs POST /api/gemini. The proxy is not mounted when nil.
	Upstream     gateway.Upstream
	DefaultModel string
	Diary        diary.Options
	Logger       *slog.Logger
}

type server struct {
	sessions     *session.Service
	upstream     gateway.Upstream
	defaultModel string
	diary        diary.Options
	logger       *slog.Logger
}

type textBody struct {
	Text string `json:"text"`
}

type viewBody struct {
	View model.View `json:"view"`
}

// NewRouter builds the HTTP handler.
func NewRouter(opt Options) http.Handler {
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opt.DefaultModel == "" {
		opt.DefaultModel = gateway.DefaultModel
	}
	s := &server{
		sessions:     opt.Sessions,
		upstream:     opt.Upstream,
		defaultModel: opt.DefaultModel,
		diary:        opt.Diary,
		logger:       opt.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if s.upstream != nil {
		r.Post("/api/gemini", s.proxy)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/messages", s.submit)
			r.Put("/view", s.setView)
			r.Patch("/problems/{pid}", s.editProblem)
			r.Delete("/problems/{pid}", s.deleteProblem)
			r.Post("/problems/{pid}/select", s.selectProblem)
			r.Post("/socratic", s.respond)
			r.Post("/insights", s.saveInsight)
			r.Delete("/insight-gate", s.abandonInsight)
			r.Get("/diary", s.exportDiary)
		})
	})
	return r
}

func (s *server) createSession(w http.ResponseWriter, req *http.Request) {
	st, err := s.sessions.Create(req.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+st.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(st)
}

func (s *server) getSession(w http.ResponseWriter, req *http.Request) {
	st, err := s.sessions.Get(req.Context(), chi.URLParam(req, "id"))
	s.reply(w, st, err)
}

func (s *server) deleteSession(w http.ResponseWriter, req *http.Request) {
	if err := s.sessions.Delete(req.Context(), chi.URLParam(req, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) submit(w http.ResponseWriter, req *http.Request) {
	var in textBody
	if !decode(w, req, &in) {
		return
	}
	st, err := s.sessions.Submit(req.Context(), chi.URLParam(req, "id"), in.Text)
	s.reply(w, st, err)
}

func (s *server) setView(w http.ResponseWriter, req *http.Request) {
	var in viewBody
	if !decode(w, req, &in) {
		return
	}
	st, err := s.sessions.SetView(req.Context(), chi.URLParam(req, "id"), in.View)
	s.reply(w, st, err)
}

func (s *server) editProblem(w http.ResponseWriter, req *http.Request) {
	pid, ok := problemID(w, req)
	if !ok {
		return
	}
	var in textBody
	if !decode(w, req, &in) {
		return
	}
	st, err := s.sessions.EditProblem(req.Context(), chi.URLParam(req, "id"), pid, in.Text)
	s.reply(w, st, err)
}

func (s *server) deleteProblem(w http.ResponseWriter, req *http.Request) {
	pid, ok := problemID(w, req)
	if !ok {
		return
	}
	st, err := s.sessions.DeleteProblem(req.Context(), chi.URLParam(req, "id"), pid)
	s.reply(w, st, err)
}

func (s *server) selectProblem(w http.ResponseWriter, req *http.Request) {
	pid, ok := problemID(w, req)
	if !ok {
		return
	}
	st, err := s.sessions.Select(req.Context(), chi.URLParam(req, "id"), pid)
	s.reply(w, st, err)
}

func (s *server) respond(w http.ResponseWriter, req *http.Request) {
	var in textBody
	if !decode(w, req, &in) {
		return
	}
	st, err := s.sessions.Respond(req.Context(), chi.URLParam(req, "id"), in.Text)
	s.reply(w, st, err)
}

func (s *server) saveInsight(w http.ResponseWriter, req *http.Request) {
	var in textBody
	if !decode(w, req, &in) {
		return
	}
	st, err := s.sessions.SaveInsight(req.Context(), chi.URLParam(req, "id"), in.Text)
	s.reply(w, st, err)
}

func (s *server) abandonInsight(w http.ResponseWriter, req *http.Request) {
	st, err := s.sessions.AbandonInsight(req.Context(), chi.URLParam(req, "id"))
	s.reply(w, st, err)
}

func (s *server) exportDiary(w http.ResponseWriter, req *http.Request) {
	st, err := s.sessions.Get(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	opt := s.diary
	opt.Now = time.Now()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(diary.Render(st, opt)))
}

func (s *server) reply(w http.ResponseWriter, st session.State, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// ------------ helpers ------------

func problemID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	pid, err := strconv.ParseInt(chi.URLParam(req, "pid"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid problem id")
		return 0, false
	}
	return pid, true
}

func decode(w http.ResponseWriter, req *http.Request, v any) bool {
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrProblemNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrAwaitingInsight):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidView):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSONError(w, code, err.Error())
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
