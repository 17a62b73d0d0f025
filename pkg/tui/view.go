package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/johncui/socrate/pkg/diary"
	"github.com/johncui/socrate/pkg/model"
)

const maxDepth = 5

var tabTitles = map[model.View]string{
	model.ViewFind:     "Find",
	model.ViewProblems: "Problems",
	model.ViewSocrate:  "Socrate",
	model.ViewDiary:    "Diary",
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderTabs() string {
	parts := []string{m.styles.Title.Render("Socrate")}
	for _, v := range tabs {
		title := tabTitles[v]
		if v == model.ViewProblems && len(m.st.Problems) > 0 {
			title = fmt.Sprintf("%s (%d)", title, len(m.st.Problems))
		}
		if v == m.st.View {
			parts = append(parts, m.styles.ActiveTab.Render(title))
		} else {
			parts = append(parts, m.styles.Tab.Render(title))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderFooter() string {
	var lines []string
	if m.err != nil {
		lines = append(lines, m.styles.Error.Render("Error: "+m.err.Error()))
	}
	if m.input.Focused() {
		lines = append(lines, m.styles.Input.Width(max(m.width-4, 20)).Render(m.input.View()))
	}
	if m.st.View == model.ViewDiary && m.copier != nil && m.copier.Copied() {
		lines = append(lines, m.styles.Success.Render("Copied!"))
	}
	lines = append(lines, m.styles.Muted.Render(m.help()))
	return strings.Join(lines, "\n")
}

func (m Model) help() string {
	switch {
	case m.st.View == model.ViewProblems && m.editing != 0:
		return "enter save • esc cancel"
	case m.st.View == model.ViewProblems:
		return "↑/↓ move • enter explore • e edit • d delete • tab next view • ctrl+c quit"
	case m.st.View == model.ViewSocrate && m.st.AwaitingInsight:
		return "enter save insight • esc skip • tab next view • ctrl+c quit"
	case m.st.View == model.ViewDiary:
		return "c copy diary • ↑/↓ scroll • tab next view • ctrl+c quit"
	default:
		return "enter send • tab next view • ctrl+c quit"
	}
}

// body is the scrollable content of the current view.
func (m Model) body() string {
	switch m.st.View {
	case model.ViewProblems:
		return m.renderProblems()
	case model.ViewSocrate:
		return m.renderDialogue()
	case model.ViewDiary:
		return m.renderDiary()
	default:
		return m.renderConversation()
	}
}

func (m Model) renderConversation() string {
	var b strings.Builder
	if len(m.st.Conversation) == 0 && m.findPending == "" {
		b.WriteString(m.styles.Muted.Render(
			"Describe what is weighing on you. I will help you find the problems underneath it."))
		b.WriteString("\n")
	}
	for _, t := range m.st.Conversation {
		if t.Role == model.RoleUser {
			b.WriteString(m.styles.User.Render("You: ") + t.Text + "\n\n")
			continue
		}
		b.WriteString(m.styles.Socrate.Render("Socrate:") + "\n")
		b.WriteString(m.markdown(t.Text))
		if len(t.IdentifiedProblems) > 0 {
			b.WriteString(m.styles.Success.Render(fmt.Sprintf(
				"%d problem(s) identified, see the Problems tab.", len(t.IdentifiedProblems))))
			b.WriteString("\n")
		}
		if t.NextQuestion != "" {
			b.WriteString(m.styles.Muted.Render("Next: "+t.NextQuestion) + "\n")
		}
		b.WriteString("\n")
	}
	m.writePending(&b, m.findPending)
	return b.String()
}

func (m Model) renderProblems() string {
	if len(m.st.Problems) == 0 {
		return m.styles.Muted.Render("No problems identified yet. Start a conversation in the Find tab.")
	}
	var b strings.Builder
	for i, p := range m.st.Problems {
		marker := "  "
		text := p.Text
		if i == m.cursor {
			marker = m.styles.Cursor.Render("> ")
			text = m.styles.Cursor.Render(text)
		}
		if m.editing == p.ID {
			text = m.styles.Muted.Render("(editing below)")
		}
		fmt.Fprintf(&b, "%s%d. %s %s\n", marker, i+1, text,
			m.styles.Muted.Render("["+string(p.Status)+"]"))
	}
	return b.String()
}

func (m Model) renderDialogue() string {
	if m.st.Selected == nil {
		return m.styles.Muted.Render("Pick a problem in the Problems tab to start a dialogue.")
	}
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Exploring: ") + m.st.Selected.Text + "\n\n")
	for _, t := range m.st.Dialogue {
		if t.Role == model.RoleUser {
			b.WriteString(m.styles.User.Render("You: ") + t.Text + "\n\n")
			continue
		}
		header := "Socrate:"
		if t.DialogueDepth > 0 && t.DialogueDepth <= maxDepth {
			header = fmt.Sprintf("Socrate (why %d of %d):", t.DialogueDepth, maxDepth)
		}
		b.WriteString(m.styles.Socrate.Render(header) + "\n")
		b.WriteString(m.markdown(t.Text))
		if t.FinalReflection != "" {
			b.WriteString(m.styles.Success.Render(t.FinalReflection) + "\n")
		}
		b.WriteString("\n")
	}
	m.writePending(&b, m.dialoguePending)
	if m.st.AwaitingInsight {
		b.WriteString(m.styles.Success.Render("You have reached the core. Write down the insight you found."))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderDiary() string {
	return diary.Render(m.st, m.diaryOpt)
}

func (m Model) writePending(b *strings.Builder, text string) {
	if text == "" {
		return
	}
	b.WriteString(m.styles.User.Render("You: ") + text + "\n\n")
	b.WriteString(m.spinner.View() + m.styles.Muted.Render(" Socrate is thinking...") + "\n")
}

// markdown renders text with glamour, falling back to plain text.
func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text + "\n"
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}
