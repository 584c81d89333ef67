package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"tandem/internal/agent"
	"tandem/internal/llm"
	"tandem/internal/store"
	"tandem/internal/types"
)

// scriptedGateway replays canned responses, one per Stream call, split into
// small deltas to exercise accumulation.
type scriptedGateway struct {
	mu        sync.Mutex
	responses []string
	failWith  error
	requests  []llm.Request
}

func (g *scriptedGateway) Stream(_ context.Context, req llm.Request) (<-chan string, <-chan error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	var resp string
	if len(g.responses) > 0 {
		resp = g.responses[0]
		g.responses = g.responses[1:]
	}
	fail := g.failWith
	g.mu.Unlock()

	out := make(chan string, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		if fail != nil {
			errc <- fail
			return
		}
		for len(resp) > 0 {
			n := min(5, len(resp))
			out <- resp[:n]
			resp = resp[n:]
		}
	}()
	return out, errc
}

const validPlanJSON = `{"steps":[
	{"step_number":1,"heading":"create config","action":"edit_file","details":{"filename":"config.yaml"}},
	{"step_number":2,"heading":"write script","action":"edit_file","details":{"filename":"run.sh"}},
	{"step_number":3,"heading":"run tests","action":"system_command","details":{"command":"go test ./..."}}
]}`

func newTestOrchestrator(t *testing.T, g llm.Gateway) (*Orchestrator, *store.PairStore) {
	t.Helper()
	pair, err := store.NewPairStore(filepath.Join(t.TempDir(), "pair.db"))
	if err != nil {
		t.Fatalf("NewPairStore failed: %v", err)
	}
	t.Cleanup(func() { pair.Close() })
	return New(pair, g, agent.NewPersonas()), pair
}

func mustPlan(t *testing.T, o *Orchestrator) *types.PairSession {
	t.Helper()
	sess, err := o.Plan(context.Background(), "u1", "s1", "set up the project")
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return sess
}

func drain(t *testing.T, out <-chan string, errc <-chan error) string {
	t.Helper()
	var b strings.Builder
	for delta := range out {
		b.WriteString(delta)
	}
	if err := <-errc; err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	return b.String()
}

func TestPlanPersistsSteps(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON}}
	o, _ := newTestOrchestrator(t, g)

	sess := mustPlan(t, o)
	if len(sess.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(sess.Steps))
	}
	if sess.Steps[2].Tool != types.ToolSystemCommand {
		t.Errorf("step 3 tool wrong: %s", sess.Steps[2].Tool)
	}
	if sess.Steps[0].Details.Filename != "config.yaml" {
		t.Errorf("details lost: %+v", sess.Steps[0].Details)
	}

	_, states, err := o.GetSteps(sess.ID)
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	for _, st := range states {
		if st.Executed {
			t.Errorf("step %d born executed", st.StepNumber)
		}
	}
}

func TestPlanRejectsEmptyTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedGateway{})
	if _, err := o.Plan(context.Background(), "u1", "s1", "   "); !errors.Is(err, ErrEmptyTask) {
		t.Errorf("expected ErrEmptyTask, got %v", err)
	}
}

func TestMalformedPlanPersistsNothing(t *testing.T) {
	cases := map[string]string{
		"not json":       "I think we should start by...",
		"bad numbering":  `{"steps":[{"step_number":2,"heading":"x","action":"edit_file","details":{}}]}`,
		"no heading":     `{"steps":[{"step_number":1,"heading":"","action":"edit_file","details":{}}]}`,
		"unknown action": `{"steps":[{"step_number":1,"heading":"x","action":"deploy_prod","details":{}}]}`,
		"empty plan":     `{"steps":[]}`,
		"trailing prose": validPlanJSON + "\nLet me know if you want me to adjust the plan!",
	}
	for name, raw := range cases {
		g := &scriptedGateway{responses: []string{raw}}
		o, _ := newTestOrchestrator(t, g)
		if _, err := o.Plan(context.Background(), "u1", "s1", "task"); err == nil {
			t.Errorf("%s: expected plan failure", name)
		}
	}
}

func TestExecuteStepMarksExecuted(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON, "generated config content"}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	out, errc, err := o.ExecuteStep(context.Background(), sess.ID, 1)
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	got := drain(t, out, errc)
	if got != "generated config content" {
		t.Errorf("streamed output wrong: %q", got)
	}
	o.Wait()

	_, states, err := o.GetSteps(sess.ID)
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if !states[0].Executed || states[0].Response != "generated config content" {
		t.Errorf("step 1 not persisted: %+v", states[0])
	}
	for _, st := range states[1:] {
		if st.Executed || st.Response != "" {
			t.Errorf("step %d must be unchanged: %+v", st.StepNumber, st)
		}
	}
}

func TestReExecutionOverwritesResponse(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON, "first attempt", "second attempt"}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	for _, want := range []string{"first attempt", "second attempt"} {
		out, errc, err := o.ExecuteStep(context.Background(), sess.ID, 1)
		if err != nil {
			t.Fatalf("ExecuteStep failed: %v", err)
		}
		if got := drain(t, out, errc); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
		o.Wait()
	}

	_, states, _ := o.GetSteps(sess.ID)
	if states[0].Response != "second attempt" {
		t.Errorf("re-execution must overwrite: %q", states[0].Response)
	}
}

func TestExecuteStepBounds(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	for _, n := range []int{0, -1, 4, 100} {
		if _, _, err := o.ExecuteStep(context.Background(), sess.ID, n); !errors.Is(err, ErrStepOutOfRange) {
			t.Errorf("step %d: expected ErrStepOutOfRange, got %v", n, err)
		}
	}
}

func TestExecuteStepRejectsChatTool(t *testing.T) {
	plan := `{"steps":[{"step_number":1,"heading":"discuss approach","action":"chat","details":{}}]}`
	g := &scriptedGateway{responses: []string{plan}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	if _, _, err := o.ExecuteStep(context.Background(), sess.ID, 1); !errors.Is(err, ErrWrongTool) {
		t.Errorf("expected ErrWrongTool, got %v", err)
	}
}

func TestChatOnStepAppendsExactlyOneEntry(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON, "sure, async it is"}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	out, errc, err := o.ChatOnStep(context.Background(), sess.ID, 2, "use async instead")
	if err != nil {
		t.Fatalf("ChatOnStep failed: %v", err)
	}
	drain(t, out, errc)
	o.Wait()

	_, states, _ := o.GetSteps(sess.ID)
	st := states[1]
	if len(st.Chat) != 1 {
		t.Fatalf("expected exactly 1 chat entry, got %d", len(st.Chat))
	}
	if st.Chat[0].Prompt != "use async instead" || st.Chat[0].Response != "sure, async it is" {
		t.Errorf("chat entry wrong: %+v", st.Chat[0])
	}
	if st.Executed {
		t.Error("chat must not flip executed")
	}
}

func TestExecuteContextIncludesCompletedSteps(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON, "config done", "script body"}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	out, errc, _ := o.ExecuteStep(context.Background(), sess.ID, 1)
	drain(t, out, errc)
	o.Wait()

	out, errc, err := o.ExecuteStep(context.Background(), sess.ID, 2)
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	drain(t, out, errc)
	o.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	last := g.requests[len(g.requests)-1]
	if !strings.Contains(last.User, "config done") {
		t.Errorf("executed step response missing from context:\n%s", last.User)
	}
	if !strings.Contains(last.User, "current step 2: write script") {
		t.Errorf("target step missing from context:\n%s", last.User)
	}
	if !strings.Contains(last.User, "3. run tests") {
		t.Errorf("full plan headings missing from context:\n%s", last.User)
	}
}

func TestRethinkDoesNotWriteBack(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON, "answer", "new heading: split the config"}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	out, errc, _ := o.ChatOnStep(context.Background(), sess.ID, 1, "is this right?")
	drain(t, out, errc)
	o.Wait()

	out, errc, err := o.RethinkStep(context.Background(), sess.ID, 1)
	if err != nil {
		t.Fatalf("RethinkStep failed: %v", err)
	}
	proposal := drain(t, out, errc)
	if proposal != "new heading: split the config" {
		t.Errorf("proposal not streamed: %q", proposal)
	}
	o.Wait()

	after, states, _ := o.GetSteps(sess.ID)
	if after.Steps[0].Heading != "create config" {
		t.Errorf("rethink must not rewrite the plan: %q", after.Steps[0].Heading)
	}
	if states[0].Response != "" || states[0].Executed {
		t.Errorf("rethink must not touch execution state: %+v", states[0])
	}

	// The rethinker saw the step's chat history.
	g.mu.Lock()
	defer g.mu.Unlock()
	last := g.requests[len(g.requests)-1]
	if !strings.Contains(last.User, "is this right?") {
		t.Errorf("chat history missing from rethink context:\n%s", last.User)
	}
}

func TestStreamErrorSurfacesAndSkipsPersistence(t *testing.T) {
	g := &scriptedGateway{responses: []string{validPlanJSON}}
	o, _ := newTestOrchestrator(t, g)
	sess := mustPlan(t, o)

	g.mu.Lock()
	g.failWith = fmt.Errorf("inference server gone")
	g.mu.Unlock()

	out, errc, err := o.ExecuteStep(context.Background(), sess.ID, 1)
	if err != nil {
		t.Fatalf("ExecuteStep failed: %v", err)
	}
	for range out {
	}
	if err := <-errc; err == nil {
		t.Fatal("expected stream error")
	}
	o.Wait()

	_, states, _ := o.GetSteps(sess.ID)
	if states[0].Executed {
		t.Error("failed stream must not mark step executed")
	}
}

func TestGetStepsUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, &scriptedGateway{})
	if _, _, err := o.GetSteps("nope"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
