package model

import (
	"context"
	"time"
)

// Role identifies the author of a conversation or dialogue turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSocrate   Role = "socrate"
)

// ProblemStatus is the lifecycle state of a problem. Only pending is produced today.
type ProblemStatus string

const StatusPending ProblemStatus = "pending"

// View names the screen a session is currently showing.
type View string

const (
	ViewFind     View = "find"
	ViewProblems View = "problems"
	ViewSocrate  View = "socrate"
	ViewDiary    View = "diary"
)

// Valid reports whether v is one of the known views.
func (v View) Valid() bool {
	switch v {
	case ViewFind, ViewProblems, ViewSocrate, ViewDiary:
		return true
	}
	return false
}

// Turn is one message of the root-cause-analysis chat.
type Turn struct {
	Role                 Role     `json:"role"`
	Text                 string   `json:"content"`
	IdentifiedProblems   []string `json:"identified_problems,omitempty"`
	NeedsMoreExploration *bool    `json:"needs_more_exploration,omitempty"`
	NextQuestion         string   `json:"next_question,omitempty"`
}

// Problem is a difficulty surfaced by the model and tracked as an editable record.
type Problem struct {
	ID        int64         `json:"id"`
	Text      string        `json:"text"`
	Status    ProblemStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// SocraticTurn is one message of the five-whys dialogue.
type SocraticTurn struct {
	Role               Role   `json:"role"`
	Text               string `json:"content"`
	DialogueDepth      int    `json:"dialogue_depth,omitempty"`
	CoreInsightReached *bool  `json:"core_insight_reached,omitempty"`
	FinalReflection    string `json:"final_reflection,omitempty"`
	AskForInsight      *bool  `json:"ask_for_insight,omitempty"`
}

// Insight is a user-authored reflection captured at the end of a dialogue.
type Insight struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	ProblemID   int64     `json:"problem_id"`
	ProblemText string    `json:"problem_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationReply is the JSON contract asked of the model in the find chat.
type ConversationReply struct {
	Response             string   `json:"response"`
	IdentifiedProblems   []string `json:"identified_problems"`
	NeedsMoreExploration bool     `json:"needs_more_exploration"`
	NextQuestion         string   `json:"next_question,omitempty"`
}

// SocraticReply is the JSON contract asked of the model in the dialogue.
type SocraticReply struct {
	Response           string `json:"response"`
	DialogueDepth      int    `json:"dialogue_depth"`
	CoreInsightReached bool   `json:"core_insight_reached"`
	FinalReflection    string `json:"final_reflection,omitempty"`
	AskForInsight      bool   `json:"ask_for_insight"`
}

// Gateway turns a prompt into generated text.
type Gateway interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Bool returns a pointer to b, for the optional flags on turns.
func Bool(b bool) *bool { return &b }
