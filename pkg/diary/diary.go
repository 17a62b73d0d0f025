// Package diary renders a session as a plain-text introspection diary.
package diary

import (
	"fmt"
	"strings"
	"time"

	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/session"
)

// DefaultLayout formats timestamps day-first, the way the diary has always read.
const DefaultLayout = "02/01/2006, 15:04:05"

// Options controls timestamp formatting.
type Options struct {
	Layout   string
	Location *time.Location
	Now      time.Time
}

func (o Options) withDefaults() Options {
	if o.Layout == "" {
		o.Layout = DefaultLayout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

func (o Options) format(t time.Time) string {
	return t.In(o.Location).Format(o.Layout)
}

// Render projects st into text. Sections always come in the same order:
// problems, conversation, dialogue, insights. Render never modifies st.
func Render(st session.State, opt Options) string {
	opt = opt.withDefaults()
	var b strings.Builder
	rule := func(n int) { b.WriteString(strings.Repeat("=", n) + "\n") }

	now := opt.Now.In(opt.Location)
	b.WriteString("SOCRATE - INTROSPECTION DIARY\n")
	fmt.Fprintf(&b, "Date: %s - Time: %s\n", now.Format("02/01/2006"), now.Format("15:04:05"))
	rule(50)
	b.WriteString("\n")

	fmt.Fprintf(&b, "IDENTIFIED PROBLEMS (%d)\n", len(st.Problems))
	rule(30)
	b.WriteString("\n")
	if len(st.Problems) == 0 {
		b.WriteString("No problems identified yet.\n\n")
	}
	for i, p := range st.Problems {
		fmt.Fprintf(&b, "%d. %s\n", i+1, p.Text)
		fmt.Fprintf(&b, "   Status: %s\n", p.Status)
		fmt.Fprintf(&b, "   Created: %s\n\n", opt.format(p.CreatedAt))
	}

	if len(st.Conversation) > 0 {
		b.WriteString("CONVERSATION - FIND THE PROBLEM\n")
		rule(40)
		b.WriteString("\n")
		for _, t := range st.Conversation {
			fmt.Fprintf(&b, "[%s]: %s\n", speaker(t.Role), t.Text)
			if len(t.IdentifiedProblems) > 0 {
				fmt.Fprintf(&b, "   -> Problems identified: %s\n", strings.Join(t.IdentifiedProblems, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(st.Dialogue) > 0 {
		b.WriteString("DIALOGUE WITH SOCRATES\n")
		rule(25)
		b.WriteString("\n")
		if st.Selected != nil {
			fmt.Fprintf(&b, "Problem discussed: \"%s\"\n\n", st.Selected.Text)
		}
		for _, t := range st.Dialogue {
			fmt.Fprintf(&b, "[%s]: %s\n", speaker(t.Role), t.Text)
			if t.FinalReflection != "" {
				fmt.Fprintf(&b, "   * FINAL REFLECTION: %s\n", t.FinalReflection)
			}
			b.WriteString("\n")
		}
	}

	if len(st.Insights) > 0 {
		fmt.Fprintf(&b, "INSIGHTS REACHED (%d)\n", len(st.Insights))
		rule(35)
		b.WriteString("\n")
		for i, in := range st.Insights {
			fmt.Fprintf(&b, "%d. \"%s\"\n", i+1, in.Text)
			fmt.Fprintf(&b, "   Problem: %s\n", in.ProblemText)
			fmt.Fprintf(&b, "   Date: %s\n\n", opt.format(in.CreatedAt))
		}
	}

	b.WriteString("\n")
	rule(50)
	b.WriteString("End of the diary - Keep travelling towards knowing yourself.\n")
	b.WriteString("\"The unexamined life is not worth living\" - Socrates\n")
	return b.String()
}

func speaker(r model.Role) string {
	switch r {
	case model.RoleUser:
		return "YOU"
	case model.RoleSocrate:
		return "SOCRATES"
	default:
		return "ASSISTANT (Root Cause Analysis)"
	}
}
