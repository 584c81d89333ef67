// Package orchestrator turns a free-form task into an ordered pair-programming
// plan and drives execute, chat and rethink operations against its steps.
// Streamed agent output is forwarded to the caller while a detached
// persistence task commits the accumulated result, so a client disconnect
// never loses a completed step.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tandem/internal/agent"
	"tandem/internal/llm"
	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

var (
	// ErrEmptyTask rejects plan requests with no task text.
	ErrEmptyTask = errors.New("task must not be empty")
	// ErrStepOutOfRange rejects step numbers outside [1, len(steps)].
	ErrStepOutOfRange = errors.New("step number out of range")
	// ErrWrongTool rejects executing a step whose tool has no execute persona.
	ErrWrongTool = errors.New("step tool does not match operation")
)

// Orchestrator owns the pair-programmer state machine.
type Orchestrator struct {
	pair     *store.PairStore
	gateway  llm.Gateway
	personas *agent.Personas

	persistWG sync.WaitGroup
}

// New creates an Orchestrator.
func New(pair *store.PairStore, gateway llm.Gateway, personas *agent.Personas) *Orchestrator {
	return &Orchestrator{pair: pair, gateway: gateway, personas: personas}
}

// Wait blocks until all background persistence tasks have finished. Call at
// shutdown, and in tests before asserting on stored state.
func (o *Orchestrator) Wait() {
	o.persistWG.Wait()
}

// Plan asks the planner persona for an ordered plan and persists it together
// with one unexecuted step record per step. A malformed plan persists
// nothing and fails the request.
func (o *Orchestrator) Plan(ctx context.Context, userID, sessionID, task string) (*types.PairSession, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}

	req, err := o.personas.Request(types.ToolPlanner, task)
	if err != nil {
		return nil, err
	}

	deltas, errs := o.gateway.Stream(ctx, req)
	var raw strings.Builder
	for delta := range deltas {
		raw.WriteString(delta)
	}
	if err := <-errs; err != nil {
		return nil, fmt.Errorf("planner stream failed: %w", err)
	}

	steps, err := parsePlan(raw.String())
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Errorf("plan parse failed: %v", err)
		return nil, err
	}

	sess := &types.PairSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Task:      task,
		Steps:     steps,
	}
	if err := o.pair.CreateSession(sess); err != nil {
		return nil, err
	}
	logging.Orchestrator("planned %s: %d steps for task %q", sess.ID, len(steps), task)
	return sess, nil
}

// GetSteps returns the plan and current execution state of every step.
func (o *Orchestrator) GetSteps(ppSessionID string) (*types.PairSession, []*types.StepState, error) {
	sess, err := o.pair.GetSession(ppSessionID)
	if err != nil {
		return nil, nil, err
	}
	states, err := o.pair.GetStepStates(sess)
	if err != nil {
		return nil, nil, err
	}
	return sess, states, nil
}

// ExecuteStep dispatches a step to its tool's persona and streams the
// response. On stream completion the accumulated text is stored as the
// step's response and the step is marked executed. Re-execution is
// permitted and overwrites the previous response.
//
// Validation errors (bounds, tool) are returned immediately; stream errors
// arrive on the error channel.
func (o *Orchestrator) ExecuteStep(ctx context.Context, ppSessionID string, stepNumber int) (<-chan string, <-chan error, error) {
	sess, states, step, err := o.resolveStep(ppSessionID, stepNumber)
	if err != nil {
		return nil, nil, err
	}
	if step.Tool != types.ToolEditFile && step.Tool != types.ToolSystemCommand {
		return nil, nil, fmt.Errorf("%w: step %d carries tool %q", ErrWrongTool, stepNumber, step.Tool)
	}

	prompt := buildStepContext(sess, states, step, "")
	req, err := o.personas.Request(step.Tool, prompt)
	if err != nil {
		return nil, nil, err
	}

	out, errc := o.streamAndPersist(ctx, req, func(accumulated string) {
		if err := o.pair.MarkExecuted(ppSessionID, stepNumber, accumulated); err != nil {
			logging.Get(logging.CategoryOrchestrator).Errorf("failed to persist step %d execution: %v", stepNumber, err)
			return
		}
		logging.Orchestrator("executed %s step %d (%d bytes)", ppSessionID, stepNumber, len(accumulated))
	})
	return out, errc, nil
}

// ChatOnStep answers a question about one step and appends the exchange to
// the step's chat list. The executed flag is untouched.
func (o *Orchestrator) ChatOnStep(ctx context.Context, ppSessionID string, stepNumber int, userMessage string) (<-chan string, <-chan error, error) {
	sess, states, step, err := o.resolveStep(ppSessionID, stepNumber)
	if err != nil {
		return nil, nil, err
	}

	prompt := buildStepContext(sess, states, step, "") +
		"\n\nquestion about this step: " + userMessage
	req, err := o.personas.Request(types.ToolChat, prompt)
	if err != nil {
		return nil, nil, err
	}

	out, errc := o.streamAndPersist(ctx, req, func(accumulated string) {
		entry := types.ChatEntry{Prompt: userMessage, Response: accumulated}
		if err := o.pair.AppendStepChat(ppSessionID, stepNumber, entry); err != nil {
			logging.Get(logging.CategoryOrchestrator).Errorf("failed to append chat on step %d: %v", stepNumber, err)
			return
		}
		logging.Orchestrator("chat on %s step %d appended", ppSessionID, stepNumber)
	})
	return out, errc, nil
}

// RethinkStep asks the rethinker persona for a revised goal for one step,
// grounding it in the plan, executed work, and the step's chat history.
// The proposal is streamed and logged but not written back; the caller
// decides whether to adopt it.
func (o *Orchestrator) RethinkStep(ctx context.Context, ppSessionID string, stepNumber int) (<-chan string, <-chan error, error) {
	sess, states, step, err := o.resolveStep(ppSessionID, stepNumber)
	if err != nil {
		return nil, nil, err
	}

	state := states[stepNumber-1]
	var chat strings.Builder
	for _, entry := range state.Chat {
		fmt.Fprintf(&chat, "user: %s\nassistant: %s\n", entry.Prompt, entry.Response)
	}

	prompt := buildStepContext(sess, states, step, chat.String())
	req, err := o.personas.Request(types.ToolRethinker, prompt)
	if err != nil {
		return nil, nil, err
	}

	out, errc := o.streamAndPersist(ctx, req, func(accumulated string) {
		logging.Orchestrator("rethink proposal for %s step %d: %s", ppSessionID, stepNumber, accumulated)
	})
	return out, errc, nil
}

// resolveStep loads the session, validates bounds and returns the target
// step with all current step states.
func (o *Orchestrator) resolveStep(ppSessionID string, stepNumber int) (*types.PairSession, []*types.StepState, *types.Step, error) {
	sess, err := o.pair.GetSession(ppSessionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if stepNumber < 1 || stepNumber > len(sess.Steps) {
		return nil, nil, nil, fmt.Errorf("%w: %d not in [1, %d]", ErrStepOutOfRange, stepNumber, len(sess.Steps))
	}
	states, err := o.pair.GetStepStates(sess)
	if err != nil {
		return nil, nil, nil, err
	}
	return sess, states, &sess.Steps[stepNumber-1], nil
}

// buildStepContext renders the prompt context: every heading, what executed
// steps produced, the target step, and optionally its chat history.
func buildStepContext(sess *types.PairSession, states []*types.StepState, target *types.Step, chatHistory string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task: %s\n\nplan:\n", sess.Task)
	for _, step := range sess.Steps {
		fmt.Fprintf(&b, "%d. %s (%s)\n", step.StepNumber, step.Heading, step.Tool)
	}

	executed := false
	for i, step := range sess.Steps {
		state := states[i]
		if !state.Executed {
			continue
		}
		if !executed {
			b.WriteString("\ncompleted so far:\n")
			executed = true
		}
		fmt.Fprintf(&b, "step %d: %s\n%s\n", step.StepNumber, step.Heading, state.Response)
	}

	fmt.Fprintf(&b, "\ncurrent step %d: %s", target.StepNumber, target.Heading)
	if target.Action != "" {
		fmt.Fprintf(&b, "\naction: %s", target.Action)
	}
	if d := target.Details; d != (types.StepDetails{}) {
		if d.Filename != "" {
			fmt.Fprintf(&b, "\nfilename: %s", d.Filename)
		}
		if d.Directory != "" {
			fmt.Fprintf(&b, "\ndirectory: %s", d.Directory)
		}
		if d.PackageName != "" {
			fmt.Fprintf(&b, "\npackage: %s", d.PackageName)
		}
		if d.Command != "" {
			fmt.Fprintf(&b, "\ncommand: %s", d.Command)
		}
	}
	if chatHistory != "" {
		b.WriteString("\n\ndiscussion so far:\n")
		b.WriteString(chatHistory)
	}
	return b.String()
}

// streamAndPersist forwards gateway deltas to the caller while accumulating
// them. When the stream ends, the accumulated text goes to a detached
// persistence goroutine via a completion channel, so persistence outlives
// the caller. A transport error suppresses persistence; client
// disconnection does not.
func (o *Orchestrator) streamAndPersist(ctx context.Context, req llm.Request, persist func(accumulated string)) (<-chan string, <-chan error) {
	deltas, errs := o.gateway.Stream(ctx, req)
	out := make(chan string, 32)
	errc := make(chan error, 1)
	complete := make(chan string, 1)

	o.persistWG.Add(1)
	go func() {
		defer o.persistWG.Done()
		if accumulated, ok := <-complete; ok {
			persist(accumulated)
		}
	}()

	go func() {
		defer close(out)
		defer close(errc)
		defer close(complete)

		var accumulated strings.Builder
		forwarding := true
		for delta := range deltas {
			accumulated.WriteString(delta)
			if !forwarding {
				continue
			}
			select {
			case out <- delta:
			case <-ctx.Done():
				// Client gone; keep accumulating for persistence.
				forwarding = false
			}
		}

		err := <-errs
		if err != nil && !errors.Is(err, context.Canceled) {
			errc <- err
			return
		}
		complete <- accumulated.String()
	}()
	return out, errc
}
