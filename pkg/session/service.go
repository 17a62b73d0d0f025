package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johncui/socrate/pkg/extract"
	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/prompt"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrBusy            = errors.New("a model call is already in flight")
	ErrAwaitingInsight = errors.New("dialogue is waiting for an insight")
	ErrProblemNotFound = errors.New("problem not found")
	ErrInvalidView     = errors.New("invalid view")
)

// errNoop short-circuits an update that should leave state untouched.
var errNoop = errors.New("noop")

// Store keeps session states for the lifetime of the process.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Save(ctx context.Context, st State) error
	Delete(ctx context.Context, id string) error
}

// Options configures Service.
type Options struct {
	Store   Store
	Gateway model.Gateway
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

// Service runs the conversation and dialogue controllers over stored sessions.
type Service struct {
	store   Store
	gateway model.Gateway
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	locks   [64]sync.Mutex
}

// NewService wires a Service. Store and Gateway are required.
func NewService(opt Options) (*Service, error) {
	if opt.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opt.Gateway == nil {
		return nil, errors.New("model gateway is required")
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	return &Service{
		store:   opt.Store,
		gateway: opt.Gateway,
		logger:  opt.Logger,
		now:     opt.Now,
		newID:   opt.NewID,
	}, nil
}

// Create starts an empty session.
func (s *Service) Create(ctx context.Context) (State, error) {
	st := New(s.newID(), s.now())
	if err := s.store.Save(ctx, st); err != nil {
		return State{}, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "session", st.ID)
	return st, nil
}

// Get returns the current state of a session.
func (s *Service) Get(ctx context.Context, id string) (State, error) {
	st, err := s.store.Load(ctx, id)
	if err != nil {
		return State{}, fmt.Errorf("get session: %w", err)
	}
	return st, nil
}

// Delete drops a session.
func (s *Service) Delete(ctx context.Context, id string) error {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Submit sends one user message through the root-cause-analysis chat.
// The user turn is stored before the model is called; gateway and parse
// failures end up as assistant turns, not errors.
func (s *Service) Submit(ctx context.Context, id, text string) (State, error) {
	if strings.TrimSpace(text) == "" {
		return s.Get(ctx, id)
	}

	var p string
	_, err := s.update(ctx, id, func(st State) (State, error) {
		if st.ConversationBusy {
			return st, ErrBusy
		}
		st = Reduce(st, UserTurn{Text: text})
		var err error
		p, err = prompt.Conversation(st.Conversation)
		return st, err
	})
	if err != nil {
		return State{}, fmt.Errorf("submit: %w", err)
	}

	// An issued call is never aborted by the caller going away.
	ctx = context.WithoutCancel(ctx)
	started := time.Now()
	raw, err := s.gateway.Generate(ctx, p)

	var ev Event
	if err != nil {
		s.logger.Warn("conversation gateway call failed", "session", id, "err", err)
		ev = ConversationFailed{Err: err.Error()}
	} else {
		res := extract.Parse[model.ConversationReply](raw)
		if res.Degraded {
			s.logger.Debug("conversation reply not json", "session", id, "err", res.Err)
		}
		if len(res.Dropped) > 0 {
			s.logger.Debug("conversation reply fields dropped", "session", id, "fields", res.Dropped)
		}
		reply := res.Or(degradedConversation)
		s.logger.Info("conversation reply",
			"session", id,
			"problems", len(reply.IdentifiedProblems),
			"degraded", res.Degraded,
			"elapsed", time.Since(started))
		ev = ConversationReplied{Reply: reply, At: s.now()}
	}

	st, err := s.settle(ctx, id, func(st State) State {
		return Reduce(st, ev)
	}, BusyCleared{Conversation: true})
	if err != nil {
		return State{}, fmt.Errorf("submit: %w", err)
	}
	return st, nil
}

// Select starts a fresh dialogue on one problem.
func (s *Service) Select(ctx context.Context, id string, problemID int64) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		if _, ok := st.Problem(problemID); !ok {
			return st, ErrProblemNotFound
		}
		return Reduce(st, ProblemSelected{ID: problemID}), nil
	})
	if err != nil {
		return State{}, fmt.Errorf("select problem %d: %w", problemID, err)
	}
	return st, nil
}

// Respond sends one user message through the five-whys dialogue. The depth
// and ask_for_insight flags come from the model and are trusted as-is.
func (s *Service) Respond(ctx context.Context, id, text string) (State, error) {
	if strings.TrimSpace(text) == "" {
		return s.Get(ctx, id)
	}

	var (
		p   string
		seq int64
	)
	st, err := s.update(ctx, id, func(st State) (State, error) {
		switch {
		case st.Selected == nil:
			return st, errNoop
		case st.DialogueBusy:
			return st, ErrBusy
		case st.AwaitingInsight:
			return st, ErrAwaitingInsight
		}
		st = Reduce(st, DialogueUserTurn{Text: text})
		seq = st.DialogueSeq
		var err error
		p, err = prompt.Socratic(st.Selected.Text, st.Dialogue)
		return st, err
	})
	if errors.Is(err, errNoop) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("respond: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	raw, err := s.gateway.Generate(ctx, p)

	var ev Event
	if err != nil {
		s.logger.Warn("dialogue gateway call failed", "session", id, "err", err)
		ev = DialogueFailed{Seq: seq, Err: err.Error()}
	} else {
		res := extract.Parse[model.SocraticReply](raw)
		if res.Degraded {
			s.logger.Debug("dialogue reply not json", "session", id, "err", res.Err)
		}
		if len(res.Dropped) > 0 {
			s.logger.Debug("dialogue reply fields dropped", "session", id, "fields", res.Dropped)
		}
		reply := res.Or(degradedSocratic)
		s.logger.Info("dialogue reply",
			"session", id,
			"depth", reply.DialogueDepth,
			"ask_for_insight", reply.AskForInsight,
			"degraded", res.Degraded)
		ev = DialogueReplied{Seq: seq, Reply: reply}
	}

	st, err = s.settle(ctx, id, func(cur State) State {
		if cur.DialogueSeq != seq {
			s.logger.Info("dropping reply for an abandoned dialogue", "session", id)
		}
		return Reduce(cur, ev)
	}, BusyCleared{Dialogue: true})
	if err != nil {
		return State{}, fmt.Errorf("respond: %w", err)
	}
	return st, nil
}

// SaveInsight records the user's insight and closes the dialogue round.
func (s *Service) SaveInsight(ctx context.Context, id, text string) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		if strings.TrimSpace(text) == "" || st.Selected == nil {
			return st, errNoop
		}
		return Reduce(st, InsightSaved{Text: text, At: s.now()}), nil
	})
	if errors.Is(err, errNoop) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("save insight: %w", err)
	}
	return st, nil
}

// AbandonInsight clears the insight gate without recording anything.
func (s *Service) AbandonInsight(ctx context.Context, id string) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		return Reduce(st, InsightAbandoned{}), nil
	})
	if err != nil {
		return State{}, fmt.Errorf("abandon insight: %w", err)
	}
	return st, nil
}

// EditProblem replaces a problem's text. Blank text is ignored.
func (s *Service) EditProblem(ctx context.Context, id string, problemID int64, text string) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		if _, ok := st.Problem(problemID); !ok {
			return st, ErrProblemNotFound
		}
		return Reduce(st, ProblemEdited{ID: problemID, Text: text}), nil
	})
	if err != nil {
		return State{}, fmt.Errorf("edit problem %d: %w", problemID, err)
	}
	return st, nil
}

// DeleteProblem removes a problem. An active dialogue on it keeps running.
func (s *Service) DeleteProblem(ctx context.Context, id string, problemID int64) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		if _, ok := st.Problem(problemID); !ok {
			return st, ErrProblemNotFound
		}
		return Reduce(st, ProblemDeleted{ID: problemID}), nil
	})
	if err != nil {
		return State{}, fmt.Errorf("delete problem %d: %w", problemID, err)
	}
	return st, nil
}

// SetView switches the screen the session shows.
func (s *Service) SetView(ctx context.Context, id string, view model.View) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		if !view.Valid() {
			return st, ErrInvalidView
		}
		return Reduce(st, ViewChanged{View: view}), nil
	})
	if err != nil {
		return State{}, fmt.Errorf("set view: %w", err)
	}
	return st, nil
}

// update runs fn under the session lock and saves its result. When fn
// fails, nothing is saved and the loaded state is returned with the error.
func (s *Service) update(ctx context.Context, id string, fn func(State) (State, error)) (State, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	cur, err := s.store.Load(ctx, id)
	if err != nil {
		return State{}, err
	}
	next, err := fn(cur)
	if err != nil {
		return cur, err
	}
	next.UpdatedAt = s.now()
	if err := s.store.Save(ctx, next); err != nil {
		return cur, err
	}
	return next, nil
}

// settle stores the outcome of a model call. When that save fails the busy
// flag is still released, so the controller can take the next message.
func (s *Service) settle(ctx context.Context, id string, apply func(State) State, release BusyCleared) (State, error) {
	st, err := s.update(ctx, id, func(st State) (State, error) {
		return apply(st), nil
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		return st, err
	}
	s.logger.Error("storing model reply failed", "session", id, "err", err)
	if _, rerr := s.update(ctx, id, func(st State) (State, error) {
		return Reduce(st, release), nil
	}); rerr != nil {
		s.logger.Error("releasing busy flag failed", "session", id, "err", rerr)
	}
	return State{}, err
}

func (s *Service) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

func degradedConversation(raw string) model.ConversationReply {
	return model.ConversationReply{Response: raw}
}

func degradedSocratic(raw string) model.SocraticReply {
	return model.SocraticReply{Response: raw, DialogueDepth: 1}
}
