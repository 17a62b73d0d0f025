package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/johncui/socrate/pkg/model"
)

const (
	seedFormat = "Hmm... I see. I have read your problem carefully: \"%s\".\n\n" +
		"I take it seriously. I do not belittle it.\n\n" +
		"But tell me one thing... **why** is this a problem for you?"

	insightAck = "Good. Now that you have written down your awareness, it has become part of you. " +
		"Remember: \"Wisdom begins in wonder.\"\n\n" +
		"If you like, you can keep talking with me or reflect on what you have discovered."

	insightReflection = "A new insight has been recorded in your inner diary."

	conversationErrorFormat = "Sorry, an error occurred: %s. Check your API key and try again."
	dialogueErrorFormat     = "Sorry, something went wrong: %s"

	// InsightDepth marks the closing turn appended once an insight is recorded.
	InsightDepth = 6
)

// State is everything one session holds. It is only ever changed by Reduce.
type State struct {
	ID               string               `json:"id"`
	View             model.View           `json:"view"`
	Conversation     []model.Turn         `json:"conversation"`
	Problems         []model.Problem      `json:"problems"`
	Dialogue         []model.SocraticTurn `json:"dialogue"`
	Insights         []model.Insight      `json:"insights"`
	Selected         *model.Problem       `json:"selected,omitempty"`
	DialogueSeq      int64                `json:"dialogue_seq"`
	AwaitingInsight  bool                 `json:"awaiting_insight"`
	ConversationBusy bool                 `json:"conversation_busy"`
	DialogueBusy     bool                 `json:"dialogue_busy"`
	NextID           int64                `json:"next_id"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// New returns an empty session positioned on the find view.
func New(id string, now time.Time) State {
	return State{
		ID:        id,
		View:      model.ViewFind,
		NextID:    1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Problem looks a problem up by id.
func (s State) Problem(id int64) (model.Problem, bool) {
	for _, p := range s.Problems {
		if p.ID == id {
			return p, true
		}
	}
	return model.Problem{}, false
}

// Event is a single state transition.
type Event interface{ isEvent() }

type (
	// UserTurn appends a user message to the conversation and marks it busy.
	UserTurn struct{ Text string }

	// ConversationReplied records a parsed or degraded model reply.
	ConversationReplied struct {
		Reply model.ConversationReply
		At    time.Time
	}

	// ConversationFailed records a gateway failure as a visible turn.
	ConversationFailed struct{ Err string }

	ProblemEdited struct {
		ID   int64
		Text string
	}

	ProblemDeleted struct{ ID int64 }

	ProblemSelected struct{ ID int64 }

	// DialogueUserTurn appends a user message to the dialogue and marks it busy.
	DialogueUserTurn struct{ Text string }

	// DialogueReplied is dropped, apart from clearing busy, when Seq is stale.
	DialogueReplied struct {
		Seq   int64
		Reply model.SocraticReply
	}

	DialogueFailed struct {
		Seq int64
		Err string
	}

	InsightSaved struct {
		Text string
		At   time.Time
	}

	InsightAbandoned struct{}

	ViewChanged struct{ View model.View }

	// BusyCleared releases controllers whose reply could not be stored.
	BusyCleared struct {
		Conversation bool
		Dialogue     bool
	}
)

func (UserTurn) isEvent()            {}
func (ConversationReplied) isEvent() {}
func (ConversationFailed) isEvent()  {}
func (ProblemEdited) isEvent()       {}
func (ProblemDeleted) isEvent()      {}
func (ProblemSelected) isEvent()     {}
func (DialogueUserTurn) isEvent()    {}
func (DialogueReplied) isEvent()     {}
func (DialogueFailed) isEvent()      {}
func (InsightSaved) isEvent()        {}
func (InsightAbandoned) isEvent()    {}
func (ViewChanged) isEvent()         {}
func (BusyCleared) isEvent()         {}

// Reduce applies ev to s and returns the new state. Slices are copied before
// they grow, so earlier snapshots are never modified.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case UserTurn:
		if strings.TrimSpace(e.Text) == "" {
			return s
		}
		s.Conversation = appendCopy(s.Conversation, model.Turn{Role: model.RoleUser, Text: e.Text})
		s.ConversationBusy = true

	case ConversationReplied:
		s.Conversation = appendCopy(s.Conversation, model.Turn{
			Role:                 model.RoleAssistant,
			Text:                 e.Reply.Response,
			IdentifiedProblems:   e.Reply.IdentifiedProblems,
			NeedsMoreExploration: model.Bool(e.Reply.NeedsMoreExploration),
			NextQuestion:         e.Reply.NextQuestion,
		})
		if len(e.Reply.IdentifiedProblems) > 0 {
			problems := slices.Clone(s.Problems)
			for _, text := range e.Reply.IdentifiedProblems {
				problems = append(problems, model.Problem{
					ID:        s.NextID,
					Text:      text,
					Status:    model.StatusPending,
					CreatedAt: e.At,
				})
				s.NextID++
			}
			s.Problems = problems
		}
		s.ConversationBusy = false

	case ConversationFailed:
		s.Conversation = appendCopy(s.Conversation, model.Turn{
			Role:                 model.RoleAssistant,
			Text:                 fmt.Sprintf(conversationErrorFormat, e.Err),
			NeedsMoreExploration: model.Bool(false),
		})
		s.ConversationBusy = false

	case ProblemEdited:
		i := s.problemIndex(e.ID)
		if i < 0 || strings.TrimSpace(e.Text) == "" {
			return s
		}
		s.Problems = slices.Clone(s.Problems)
		s.Problems[i].Text = e.Text

	case ProblemDeleted:
		i := s.problemIndex(e.ID)
		if i < 0 {
			return s
		}
		s.Problems = slices.Delete(slices.Clone(s.Problems), i, i+1)

	case ProblemSelected:
		p, ok := s.Problem(e.ID)
		if !ok {
			return s
		}
		s.Selected = &p
		s.View = model.ViewSocrate
		s.DialogueSeq++
		s.AwaitingInsight = false
		s.Dialogue = []model.SocraticTurn{{
			Role: model.RoleSocrate,
			Text: fmt.Sprintf(seedFormat, p.Text),
		}}

	case DialogueUserTurn:
		if strings.TrimSpace(e.Text) == "" || s.Selected == nil {
			return s
		}
		s.Dialogue = appendCopy(s.Dialogue, model.SocraticTurn{Role: model.RoleUser, Text: e.Text})
		s.DialogueBusy = true

	case DialogueReplied:
		s.DialogueBusy = false
		if e.Seq != s.DialogueSeq {
			return s
		}
		s.Dialogue = appendCopy(s.Dialogue, model.SocraticTurn{
			Role:               model.RoleSocrate,
			Text:               e.Reply.Response,
			DialogueDepth:      e.Reply.DialogueDepth,
			CoreInsightReached: model.Bool(e.Reply.CoreInsightReached),
			FinalReflection:    e.Reply.FinalReflection,
			AskForInsight:      model.Bool(e.Reply.AskForInsight),
		})
		if e.Reply.AskForInsight {
			s.AwaitingInsight = true
		}

	case DialogueFailed:
		s.DialogueBusy = false
		if e.Seq != s.DialogueSeq {
			return s
		}
		s.Dialogue = appendCopy(s.Dialogue, model.SocraticTurn{
			Role:               model.RoleSocrate,
			Text:               fmt.Sprintf(dialogueErrorFormat, e.Err),
			DialogueDepth:      1,
			CoreInsightReached: model.Bool(false),
		})

	case InsightSaved:
		if strings.TrimSpace(e.Text) == "" || s.Selected == nil {
			return s
		}
		s.Insights = appendCopy(s.Insights, model.Insight{
			ID:          s.NextID,
			Text:        e.Text,
			ProblemID:   s.Selected.ID,
			ProblemText: s.Selected.Text,
			CreatedAt:   e.At,
		})
		s.NextID++
		s.AwaitingInsight = false
		s.Dialogue = appendCopy(s.Dialogue, model.SocraticTurn{
			Role:               model.RoleSocrate,
			Text:               insightAck,
			DialogueDepth:      InsightDepth,
			CoreInsightReached: model.Bool(true),
			FinalReflection:    insightReflection,
		})

	case InsightAbandoned:
		s.AwaitingInsight = false

	case ViewChanged:
		if e.View.Valid() {
			s.View = e.View
		}

	case BusyCleared:
		if e.Conversation {
			s.ConversationBusy = false
		}
		if e.Dialogue {
			s.DialogueBusy = false
		}
	}
	return s
}

func (s State) problemIndex(id int64) int {
	return slices.IndexFunc(s.Problems, func(p model.Problem) bool { return p.ID == id })
}

func appendCopy[T any](in []T, v T) []T {
	out := make([]T, len(in), len(in)+1)
	copy(out, in)
	return append(out, v)
}
