package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan <task...>",
	Short: "Generate and persist a pair-programming plan for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackend(cfg)
		if err != nil {
			return err
		}
		defer b.close()

		sess, err := b.orchestrator.Plan(cmd.Context(), userID, sessionID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("plan %s:\n", sess.ID)
		for _, step := range sess.Steps {
			fmt.Printf("  %d. %s (%s)\n", step.StepNumber, step.Heading, step.Tool)
		}
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Operate on one step of a pair-programming plan",
}

var stepListCmd = &cobra.Command{
	Use:   "list <plan-id>",
	Short: "Show every step and its execution state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newBackend(cfg)
		if err != nil {
			return err
		}
		defer b.close()

		sess, states, err := b.orchestrator.GetSteps(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("task: %s\n", sess.Task)
		for i, step := range sess.Steps {
			mark := " "
			if states[i].Executed {
				mark = "x"
			}
			fmt.Printf("  [%s] %d. %s (%s)", mark, step.StepNumber, step.Heading, step.Tool)
			if n := len(states[i].Chat); n > 0 {
				fmt.Printf("  (%d chat)", n)
			}
			fmt.Println()
		}
		return nil
	},
}

var stepExecCmd = &cobra.Command{
	Use:   "exec <plan-id> <step>",
	Short: "Execute a step, streaming the agent's output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return streamStep(cmd.Context(), args[0], args[1], func(b *backend, ctx context.Context, id string, n int) (<-chan string, <-chan error, error) {
			return b.orchestrator.ExecuteStep(ctx, id, n)
		})
	},
}

var stepChatCmd = &cobra.Command{
	Use:   "chat <plan-id> <step> <message...>",
	Short: "Ask a question about a step",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args[2:], " ")
		return streamStep(cmd.Context(), args[0], args[1], func(b *backend, ctx context.Context, id string, n int) (<-chan string, <-chan error, error) {
			return b.orchestrator.ChatOnStep(ctx, id, n, message)
		})
	},
}

var stepRethinkCmd = &cobra.Command{
	Use:   "rethink <plan-id> <step>",
	Short: "Propose a revised goal for a step (not persisted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return streamStep(cmd.Context(), args[0], args[1], func(b *backend, ctx context.Context, id string, n int) (<-chan string, <-chan error, error) {
			return b.orchestrator.RethinkStep(ctx, id, n)
		})
	},
}

func streamStep(ctx context.Context, planID, stepArg string,
	op func(*backend, context.Context, string, int) (<-chan string, <-chan error, error)) error {
	stepNumber, err := strconv.Atoi(stepArg)
	if err != nil {
		return fmt.Errorf("step must be a number: %q", stepArg)
	}
	b, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	out, errc, err := op(b, ctx, planID, stepNumber)
	if err != nil {
		return err
	}
	for delta := range out {
		fmt.Print(delta)
	}
	fmt.Println()
	return <-errc
}

func init() {
	stepCmd.AddCommand(stepListCmd)
	stepCmd.AddCommand(stepExecCmd)
	stepCmd.AddCommand(stepChatCmd)
	stepCmd.AddCommand(stepRethinkCmd)
}
