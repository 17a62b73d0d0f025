package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johncui/socrate/pkg/model"
	"github.com/johncui/socrate/pkg/session"
	"github.com/johncui/socrate/pkg/store/memory"
)

// scriptedGateway replies from a queue and records every prompt it sees.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
	onCall  func(prompt string)
}

type reply struct {
	text string
	err  error
}

func (g *scriptedGateway) push(text string) { g.replies = append(g.replies, reply{text: text}) }

func (g *scriptedGateway) fail(err error) { g.replies = append(g.replies, reply{err: err}) }

func (g *scriptedGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGateway) Generate(_ context.Context, prompt string) (string, error) {
	if g.onCall != nil {
		g.onCall(prompt)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

type fixture struct {
	svc   *session.Service
	gw    *scriptedGateway
	store *memory.Store
	id    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gw := &scriptedGateway{}
	st := memory.New(0)
	svc, err := session.NewService(session.Options{
		Store:   st,
		Gateway: gw,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	s, err := svc.Create(context.Background())
	require.NoError(t, err)
	return &fixture{svc: svc, gw: gw, store: st, id: s.ID}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := session.NewService(session.Options{Gateway: &scriptedGateway{}})
	assert.Error(t, err)
	_, err = session.NewService(session.Options{Store: memory.New(0)})
	assert.Error(t, err)
}

func TestSubmit_ScenarioProblemIdentified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.push(`{"response":"What stops you?","identified_problems":["Fear of failure"],"needs_more_exploration":true}`)

	start := time.Now()
	st, err := f.svc.Submit(ctx, f.id, "I keep procrastinating")
	require.NoError(t, err)

	require.Len(t, st.Conversation, 2)
	assert.Equal(t, model.RoleUser, st.Conversation[0].Role)
	assert.Equal(t, "What stops you?", st.Conversation[1].Text)
	require.NotNil(t, st.Conversation[1].NeedsMoreExploration)
	assert.True(t, *st.Conversation[1].NeedsMoreExploration)

	require.Len(t, st.Problems, 1)
	assert.Equal(t, "Fear of failure", st.Problems[0].Text)
	assert.Equal(t, model.StatusPending, st.Problems[0].Status)
	assert.False(t, st.Problems[0].CreatedAt.Before(start))
	assert.False(t, st.ConversationBusy)
}

func TestSubmit_UserTurnStoredBeforeGatewayCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.onCall = func(string) {
		st, err := f.store.Load(ctx, f.id)
		require.NoError(t, err)
		require.Len(t, st.Conversation, 1)
		assert.Equal(t, "hello", st.Conversation[0].Text)
		assert.True(t, st.ConversationBusy)
	}
	f.gw.push(`{"response":"hi"}`)

	_, err := f.svc.Submit(ctx, f.id, "hello")
	require.NoError(t, err)
	require.Contains(t, f.gw.prompts[0], `"content":"hello"`)
}

func TestSubmit_ScenarioProseReply(t *testing.T) {
	f := newFixture(t)
	f.gw.push("I think you should relax")

	st, err := f.svc.Submit(context.Background(), f.id, "I feel stuck")
	require.NoError(t, err)

	require.Len(t, st.Conversation, 2)
	assert.Equal(t, "I think you should relax", st.Conversation[1].Text)
	assert.Empty(t, st.Problems)
	require.NotNil(t, st.Conversation[1].NeedsMoreExploration)
	assert.False(t, *st.Conversation[1].NeedsMoreExploration)
}

func TestSubmit_FencedReply(t *testing.T) {
	f := newFixture(t)
	f.gw.push("```json\n{\"response\":\"ok\",\"identified_problems\":[\"A\",\"B\"],\"needs_more_exploration\":false}\n```")

	st, err := f.svc.Submit(context.Background(), f.id, "go")
	require.NoError(t, err)
	assert.Equal(t, "ok", st.Conversation[1].Text)
	assert.Len(t, st.Problems, 2)
}

func TestSubmit_GatewayFailureBecomesTurn(t *testing.T) {
	f := newFixture(t)
	f.gw.fail(errors.New("API Error: 503"))

	st, err := f.svc.Submit(context.Background(), f.id, "hello")
	require.NoError(t, err)
	require.Len(t, st.Conversation, 2)
	assert.Contains(t, st.Conversation[1].Text, "API Error: 503")
	assert.False(t, st.ConversationBusy)
	assert.Equal(t, 1, f.gw.calls(), "no retry")
}

func TestSubmit_BlankIsNoop(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Submit(context.Background(), f.id, "   ")
	require.NoError(t, err)
	assert.Empty(t, st.Conversation)
	assert.Equal(t, 0, f.gw.calls())
}

func TestSubmit_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSubmit_BusyRejectsSecondCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.gw.onCall = func(string) {
		close(entered)
		<-release
	}
	f.gw.push(`{"response":"first"}`)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Submit(ctx, f.id, "one")
		done <- err
	}()
	<-entered

	f.gw.onCall = nil
	_, err := f.svc.Submit(ctx, f.id, "two")
	assert.ErrorIs(t, err, session.ErrBusy)

	close(release)
	require.NoError(t, <-done)

	st, err := f.svc.Get(ctx, f.id)
	require.NoError(t, err)
	assert.Len(t, st.Conversation, 2)
	assert.False(t, st.ConversationBusy)
}

func TestSubmit_CallerCancellationDoesNotAbortCall(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.gw.onCall = func(string) { cancel() }
	f.gw.push(`{"response":"still here"}`)

	st, err := f.svc.Submit(ctx, f.id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "still here", st.Conversation[1].Text)
}

func seedProblem(t *testing.T, f *fixture, text string) session.State {
	t.Helper()
	f.gw.push(fmt.Sprintf(`{"response":"noted","identified_problems":[%q],"needs_more_exploration":false}`, text))
	st, err := f.svc.Submit(context.Background(), f.id, "something is wrong")
	require.NoError(t, err)
	return st
}

func TestSelect_ScenarioSeedsDialogue(t *testing.T) {
	f := newFixture(t)
	st := seedProblem(t, f, "Fear of failure")

	st, err := f.svc.Select(context.Background(), f.id, st.Problems[0].ID)
	require.NoError(t, err)
	require.Len(t, st.Dialogue, 1)
	assert.Contains(t, st.Dialogue[0].Text, `"Fear of failure"`)
	assert.Equal(t, model.ViewSocrate, st.View)
	assert.Equal(t, 1, f.gw.calls(), "seeding makes no model call")
}

func TestSelect_UnknownProblem(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Select(context.Background(), f.id, 99)
	assert.ErrorIs(t, err, session.ErrProblemNotFound)
}

func TestRespond_NoSelectionIsNoop(t *testing.T) {
	f := newFixture(t)
	st, err := f.svc.Respond(context.Background(), f.id, "why not")
	require.NoError(t, err)
	assert.Empty(t, st.Dialogue)
	assert.Equal(t, 0, f.gw.calls())
}

func TestRespond_DegradedReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "Fear of failure")
	_, err := f.svc.Select(ctx, f.id, st.Problems[0].ID)
	require.NoError(t, err)

	f.gw.push("Let us think together.")
	st, err = f.svc.Respond(ctx, f.id, "because I might fail")
	require.NoError(t, err)

	require.Len(t, st.Dialogue, 3)
	last := st.Dialogue[2]
	assert.Equal(t, "Let us think together.", last.Text)
	assert.Equal(t, 1, last.DialogueDepth)
	assert.False(t, *last.AskForInsight)
	assert.False(t, st.AwaitingInsight)
}

func TestRespond_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "A")
	_, err := f.svc.Select(ctx, f.id, st.Problems[0].ID)
	require.NoError(t, err)

	f.gw.fail(errors.New("connection refused"))
	st, err = f.svc.Respond(ctx, f.id, "hmm")
	require.NoError(t, err)
	assert.Contains(t, st.Dialogue[len(st.Dialogue)-1].Text, "connection refused")
	assert.False(t, st.DialogueBusy)
}

func TestDialogue_ScenarioFiveWhysToInsight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "Fear of failure")
	problemID := st.Problems[0].ID
	_, err := f.svc.Select(ctx, f.id, problemID)
	require.NoError(t, err)

	for depth := 1; depth <= 5; depth++ {
		f.gw.push(fmt.Sprintf(`{"response":"q%d","dialogue_depth":%d,"core_insight_reached":%t,"ask_for_insight":%t}`,
			depth, depth, depth == 5, depth == 5))
		st, err = f.svc.Respond(ctx, f.id, fmt.Sprintf("answer %d", depth))
		require.NoError(t, err)
		assert.Equal(t, depth == 5, st.AwaitingInsight, "depth %d", depth)
	}
	assert.Contains(t, f.gw.prompts[len(f.gw.prompts)-1], `"Fear of failure"`)

	_, err = f.svc.Respond(ctx, f.id, "one more")
	assert.ErrorIs(t, err, session.ErrAwaitingInsight)

	st, err = f.svc.SaveInsight(ctx, f.id, "   ")
	require.NoError(t, err)
	assert.Empty(t, st.Insights)
	assert.True(t, st.AwaitingInsight)

	st, err = f.svc.SaveInsight(ctx, f.id, "I am enough")
	require.NoError(t, err)
	require.Len(t, st.Insights, 1)
	assert.Equal(t, problemID, st.Insights[0].ProblemID)
	assert.Equal(t, "Fear of failure", st.Insights[0].ProblemText)
	assert.False(t, st.AwaitingInsight)
	assert.Equal(t, session.InsightDepth, st.Dialogue[len(st.Dialogue)-1].DialogueDepth)
}

func TestAbandonInsight_ReopensDialogue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "A")
	_, err := f.svc.Select(ctx, f.id, st.Problems[0].ID)
	require.NoError(t, err)

	f.gw.push(`{"response":"write it","dialogue_depth":5,"core_insight_reached":true,"ask_for_insight":true}`)
	st, err = f.svc.Respond(ctx, f.id, "x")
	require.NoError(t, err)
	require.True(t, st.AwaitingInsight)

	st, err = f.svc.AbandonInsight(ctx, f.id)
	require.NoError(t, err)
	assert.False(t, st.AwaitingInsight)
	assert.Empty(t, st.Insights)
}

func TestInsight_SurvivesProblemDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "A")
	id := st.Problems[0].ID
	_, err := f.svc.Select(ctx, f.id, id)
	require.NoError(t, err)

	_, err = f.svc.DeleteProblem(ctx, f.id, id)
	require.NoError(t, err)

	st, err = f.svc.SaveInsight(ctx, f.id, "still mine")
	require.NoError(t, err)
	require.Len(t, st.Insights, 1)
	assert.Equal(t, id, st.Insights[0].ProblemID)
	assert.Empty(t, st.Problems)
}

func TestEditProblem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "A")

	st, err := f.svc.EditProblem(ctx, f.id, st.Problems[0].ID, "A, sharper")
	require.NoError(t, err)
	assert.Equal(t, "A, sharper", st.Problems[0].Text)

	_, err = f.svc.EditProblem(ctx, f.id, 1234, "x")
	assert.ErrorIs(t, err, session.ErrProblemNotFound)
}

func TestSetView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.SetView(ctx, f.id, model.ViewProblems)
	require.NoError(t, err)
	assert.Equal(t, model.ViewProblems, st.View)

	_, err = f.svc.SetView(ctx, f.id, "nowhere")
	assert.ErrorIs(t, err, session.ErrInvalidView)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, f.id))
	_, err := f.svc.Get(ctx, f.id)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSubmit_StringBoolStillCreatesProblems(t *testing.T) {
	f := newFixture(t)
	f.gw.push(`{"response":"Tell me more","identified_problems":["Fear of failure"],"needs_more_exploration":"true"}`)

	st, err := f.svc.Submit(context.Background(), f.id, "I never finish anything")
	require.NoError(t, err)

	require.Len(t, st.Conversation, 2)
	assert.Equal(t, "Tell me more", st.Conversation[1].Text)
	require.NotNil(t, st.Conversation[1].NeedsMoreExploration)
	assert.True(t, *st.Conversation[1].NeedsMoreExploration)
	require.Len(t, st.Problems, 1)
	assert.Equal(t, "Fear of failure", st.Problems[0].Text)
}

func TestSubmit_LoneProblemString(t *testing.T) {
	f := newFixture(t)
	f.gw.push(`{"response":"I see","identified_problems":"Loneliness"}`)

	st, err := f.svc.Submit(context.Background(), f.id, "nobody calls me")
	require.NoError(t, err)
	require.Len(t, st.Problems, 1)
	assert.Equal(t, "Loneliness", st.Problems[0].Text)
}

func TestRespond_StringDepthOpensInsightGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "Fear of failure")
	_, err := f.svc.Select(ctx, f.id, st.Problems[0].ID)
	require.NoError(t, err)

	f.gw.push(`{"response":"Write down your awareness.","dialogue_depth":"5","core_insight_reached":true,"ask_for_insight":"true"}`)
	st, err = f.svc.Respond(ctx, f.id, "because I want to be loved")
	require.NoError(t, err)

	last := st.Dialogue[len(st.Dialogue)-1]
	assert.Equal(t, "Write down your awareness.", last.Text)
	assert.Equal(t, 5, last.DialogueDepth)
	require.NotNil(t, last.AskForInsight)
	assert.True(t, *last.AskForInsight)
	assert.True(t, st.AwaitingInsight)
}

func TestRespond_FloatDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := seedProblem(t, f, "A")
	_, err := f.svc.Select(ctx, f.id, st.Problems[0].ID)
	require.NoError(t, err)

	f.gw.push(`{"response":"And why?","dialogue_depth":3.0,"core_insight_reached":false,"ask_for_insight":false}`)
	st, err = f.svc.Respond(ctx, f.id, "hmm")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Dialogue[len(st.Dialogue)-1].DialogueDepth)
	assert.False(t, st.AwaitingInsight)
}

// flakyStore fails the next failSaves saves.
type flakyStore struct {
	*memory.Store
	mu        sync.Mutex
	failSaves int
}

func (s *flakyStore) Save(ctx context.Context, st session.State) error {
	s.mu.Lock()
	if s.failSaves > 0 {
		s.failSaves--
		s.mu.Unlock()
		return errors.New("disk full")
	}
	s.mu.Unlock()
	return s.Store.Save(ctx, st)
}

func (s *flakyStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

func TestSubmit_FailedReplySaveReleasesBusy(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: memory.New(0)}
	gw := &scriptedGateway{}
	svc, err := session.NewService(session.Options{
		Store:   fs,
		Gateway: gw,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	created, err := svc.Create(ctx)
	require.NoError(t, err)

	gw.onCall = func(string) { fs.failNext(1) }
	gw.push(`{"response":"lost"}`)
	_, err = svc.Submit(ctx, created.ID, "first")
	require.Error(t, err)

	st, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, st.ConversationBusy)
	require.Len(t, st.Conversation, 1)

	gw.onCall = nil
	gw.push(`{"response":"kept"}`)
	st, err = svc.Submit(ctx, created.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "kept", st.Conversation[len(st.Conversation)-1].Text)
}

func TestRespond_FailedReplySaveReleasesBusy(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: memory.New(0)}
	gw := &scriptedGateway{}
	svc, err := session.NewService(session.Options{
		Store:   fs,
		Gateway: gw,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	created, err := svc.Create(ctx)
	require.NoError(t, err)

	gw.push(`{"response":"ok","identified_problems":["A"]}`)
	st, err := svc.Submit(ctx, created.ID, "start")
	require.NoError(t, err)
	_, err = svc.Select(ctx, created.ID, st.Problems[0].ID)
	require.NoError(t, err)

	gw.onCall = func(string) { fs.failNext(1) }
	gw.push(`{"response":"lost","dialogue_depth":2}`)
	_, err = svc.Respond(ctx, created.ID, "because")
	require.Error(t, err)

	st, err = svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, st.DialogueBusy)
}
