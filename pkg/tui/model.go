// Package tui is the terminal front end: four tabs over one session.
package tui

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/johncui/socrate/pkg/diary"
	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/session"
)

// Sessions is the part of session.Service the UI drives.
type Sessions interface {
	Submit(ctx context.Context, id, text string) (session.State, error)
	Select(ctx context.Context, id string, problemID int64) (session.State, error)
	Respond(ctx context.Context, id, text string) (session.State, error)
	SaveInsight(ctx context.Context, id, text string) (session.State, error)
	AbandonInsight(ctx context.Context, id string) (session.State, error)
	EditProblem(ctx context.Context, id string, problemID int64, text string) (session.State, error)
	DeleteProblem(ctx context.Context, id string, problemID int64) (session.State, error)
	SetView(ctx context.Context, id string, view model.View) (session.State, error)
}

var tabs = []model.View{model.ViewFind, model.ViewProblems, model.ViewSocrate, model.ViewDiary}

const (
	headerHeight = 2
	footerHeight = 5
)

// Options configures a Model.
type Options struct {
	Copier *diary.Copier
	Diary  diary.Options
	Styles *Styles
	Logger *slog.Logger
}

// controller identifies which chat a model call belongs to. Each one
// allows a single call in flight.
type controller int

const (
	noCall controller = iota
	findCall
	dialogueCall
)

type (
	// stateMsg and errorMsg name the controller whose model call they end.
	stateMsg struct {
		st   session.State
		call controller
	}
	errorMsg struct {
		err  error
		st   *session.State
		call controller
	}
	copiedMsg   struct{ ok bool }
	copyDoneMsg struct{}
)

// Model is the bubbletea model for one session.
type Model struct {
	ctx      context.Context
	sessions Sessions
	st       session.State

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	styles   Styles
	copier   *diary.Copier
	diaryOpt diary.Options
	logger   *slog.Logger

	width, height int
	ready         bool
	// Text sent to each controller whose reply has not arrived yet.
	findPending     string
	dialoguePending string
	cursor        int
	editing       int64
	err           error
}

// New returns a Model showing st.
func New(ctx context.Context, sessions Sessions, st session.State, opt Options) Model {
	styles := DefaultStyles()
	if opt.Styles != nil {
		styles = *opt.Styles
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}

	ti := textinput.New()
	ti.Prompt = "│ "
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Socrate

	m := Model{
		ctx:      ctx,
		sessions: sessions,
		st:       st,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		styles:   styles,
		copier:   opt.Copier,
		diaryOpt: opt.Diary,
		logger:   opt.Logger,
		width:    80,
	}
	m.syncInput()
	m.refresh()
	return m
}

// State returns the last session state the model has seen.
func (m Model) State() session.State { return m.st }

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		next, cmd, handled := m.handleKey(msg)
		if handled {
			return next, cmd
		}
		m = next

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight, 3)
		m.input.Width = msg.Width - 8
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(msg.Width-8, 20)),
		)
		m.ready = true
		m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.findPending != "" || m.dialoguePending != "" {
			m.refresh()
		}
		return m, cmd

	case stateMsg:
		m.settle(msg.call)
		m.err = nil
		m.apply(msg.st)
		return m, nil

	case errorMsg:
		m.settle(msg.call)
		m.err = msg.err
		if msg.st != nil {
			m.apply(*msg.st)
		}
		m.logger.Warn("session call failed", "session", m.st.ID, "err", msg.err)
		m.refresh()
		return m, nil

	case copiedMsg:
		m.refresh()
		if !msg.ok {
			return m, nil
		}
		return m, tea.Tick(diary.CopiedFor, func(time.Time) tea.Msg { return copyDoneMsg{} })

	case copyDoneMsg:
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	if m.input.Focused() {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey reports handled=false when the key should fall through to the
// text input and viewport.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyTab:
		return m.switchView(1)
	case tea.KeyShiftTab:
		return m.switchView(-1)
	}

	switch m.st.View {
	case model.ViewFind:
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	case model.ViewProblems:
		return m.problemsKey(msg)
	case model.ViewSocrate:
		switch msg.Type {
		case tea.KeyEnter:
			return m.respond()
		case tea.KeyEsc:
			if m.st.AwaitingInsight {
				return m, m.call(func(ctx context.Context) (session.State, error) {
					return m.sessions.AbandonInsight(ctx, m.st.ID)
				}), true
			}
		}
	case model.ViewDiary:
		if msg.String() == "c" {
			return m, m.copyDiary(), true
		}
	}
	return m, nil, false
}

func (m Model) switchView(step int) (Model, tea.Cmd, bool) {
	if m.editing != 0 {
		return m, nil, true
	}
	i := 0
	for j, v := range tabs {
		if v == m.st.View {
			i = j
		}
	}
	view := tabs[(i+step+len(tabs))%len(tabs)]
	return m, m.call(func(ctx context.Context) (session.State, error) {
		return m.sessions.SetView(ctx, m.st.ID, view)
	}), true
}

func (m Model) submit() (Model, tea.Cmd, bool) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.findPending != "" {
		return m, nil, true
	}
	m.input.Reset()
	m.findPending = text
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.ask(findCall, func(ctx context.Context) (session.State, error) {
		return m.sessions.Submit(ctx, m.st.ID, text)
	})), true
}

func (m Model) respond() (Model, tea.Cmd, bool) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.dialoguePending != "" || m.st.Selected == nil {
		return m, nil, true
	}
	m.input.Reset()
	if m.st.AwaitingInsight {
		return m, m.call(func(ctx context.Context) (session.State, error) {
			return m.sessions.SaveInsight(ctx, m.st.ID, text)
		}), true
	}
	m.dialoguePending = text
	m.refresh()
	return m, tea.Batch(m.spinner.Tick, m.ask(dialogueCall, func(ctx context.Context) (session.State, error) {
		return m.sessions.Respond(ctx, m.st.ID, text)
	})), true
}

func (m Model) problemsKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	if m.editing != 0 {
		switch msg.Type {
		case tea.KeyEnter:
			pid, text := m.editing, m.input.Value()
			m.editing = 0
			m.input.Reset()
			m.syncInput()
			return m, m.call(func(ctx context.Context) (session.State, error) {
				return m.sessions.EditProblem(ctx, m.st.ID, pid, text)
			}), true
		case tea.KeyEsc:
			m.editing = 0
			m.input.Reset()
			m.syncInput()
			m.refresh()
			return m, nil, true
		}
		return m, nil, false
	}

	if len(m.st.Problems) == 0 {
		return m, nil, false
	}
	p := m.st.Problems[m.cursor]
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		m.refresh()
		return m, nil, true
	case "down", "j":
		if m.cursor < len(m.st.Problems)-1 {
			m.cursor++
		}
		m.refresh()
		return m, nil, true
	case "enter":
		return m, m.call(func(ctx context.Context) (session.State, error) {
			return m.sessions.Select(ctx, m.st.ID, p.ID)
		}), true
	case "e":
		m.editing = p.ID
		m.input.SetValue(p.Text)
		m.input.CursorEnd()
		m.syncInput()
		m.refresh()
		return m, textinput.Blink, true
	case "d", "delete":
		return m, m.call(func(ctx context.Context) (session.State, error) {
			return m.sessions.DeleteProblem(ctx, m.st.ID, p.ID)
		}), true
	}
	return m, nil, false
}

func (m Model) copyDiary() tea.Cmd {
	if m.copier == nil {
		return nil
	}
	text := diary.Render(m.st, m.diaryOpt)
	copier := m.copier
	return func() tea.Msg {
		return copiedMsg{ok: copier.Copy(text)}
	}
}

// call runs fn off the UI goroutine and reports the resulting state.
func (m Model) call(fn func(context.Context) (session.State, error)) tea.Cmd {
	return m.run(noCall, fn)
}

// ask is call for operations that wait on the model of one controller.
func (m Model) ask(c controller, fn func(context.Context) (session.State, error)) tea.Cmd {
	return m.run(c, fn)
}

func (m Model) run(c controller, fn func(context.Context) (session.State, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		st, err := fn(ctx)
		if err != nil {
			if st.ID != "" {
				return errorMsg{err: err, st: &st, call: c}
			}
			return errorMsg{err: err, call: c}
		}
		return stateMsg{st: st, call: c}
	}
}

func (m *Model) settle(c controller) {
	switch c {
	case findCall:
		m.findPending = ""
	case dialogueCall:
		m.dialoguePending = ""
	}
}

// apply ignores states older than the one on screen; replies can land
// out of order when a view switch races a model call.
func (m *Model) apply(st session.State) {
	if st.UpdatedAt.Before(m.st.UpdatedAt) {
		return
	}
	m.st = st
	if m.cursor >= len(st.Problems) {
		m.cursor = max(len(st.Problems)-1, 0)
	}
	m.syncInput()
	m.refresh()
}

// syncInput focuses the text input only where typing makes sense.
func (m *Model) syncInput() {
	switch {
	case m.st.View == model.ViewFind:
		m.input.Placeholder = "Tell me what troubles you... (Enter to send)"
		m.input.Focus()
	case m.st.View == model.ViewProblems && m.editing != 0:
		m.input.Placeholder = "Problem text (Enter to save, Esc to cancel)"
		m.input.Focus()
	case m.st.View == model.ViewSocrate && m.st.AwaitingInsight:
		m.input.Placeholder = "Write the insight you reached (Esc to skip)"
		m.input.Focus()
	case m.st.View == model.ViewSocrate && m.st.Selected != nil:
		m.input.Placeholder = "Answer Socrate..."
		m.input.Focus()
	default:
		m.input.Placeholder = ""
		m.input.Blur()
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.body())
	if m.st.View == model.ViewFind || m.st.View == model.ViewSocrate {
		m.viewport.GotoBottom()
	}
}
