package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/orchestrator"
	"github.com/lucasnoah/casepilot/internal/task"
)

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Classify a request, run its workflow and print the envelope",
	Long: `Handle one request in-process. The task is classified from the message
unless --task names it. Workflow parameters are given with --params as inline
JSON or @file (JSON or YAML).

Stage progress is written to stderr in text mode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		conversation, _ := cmd.Flags().GetString("conversation")
		taskName, _ := cmd.Flags().GetString("task")
		paramsFlag, _ := cmd.Flags().GetString("params")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		save, _ := cmd.Flags().GetBool("save")
		format, _ := cmd.Flags().GetString("format")

		if err := checkFormat(format); err != nil {
			return err
		}
		variant, err := parseTask(taskName)
		if err != nil {
			return err
		}
		params, err := parseParams(paramsFlag)
		if err != nil {
			return err
		}

		a, err := openApp(cmd, app.Options{EventLog: true, Runs: true, Cases: save})
		if err != nil {
			return err
		}
		defer a.Close()

		statePath := conversationsPath()
		if conversation != "" {
			if err := loadConversations(a.Conversations, statePath); err != nil {
				return err
			}
		}
		if format == "text" {
			a.SetProgress(cmd.ErrOrStderr())
		}

		resp := a.Dispatcher.Handle(cmd.Context(), orchestrator.Request{
			Message:        strings.Join(args, " "),
			ProjectID:      project,
			ConversationID: conversation,
			Task:           variant,
			Timeout:        timeout,
			Params:         params,
		})

		if conversation != "" {
			if err := saveConversations(a.Conversations, statePath); err != nil {
				return err
			}
		}

		if format == "json" {
			if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
		} else {
			printEnvelope(cmd.OutOrStdout(), resp)
		}

		if !resp.OK {
			return fmt.Errorf("request failed (%s): %s", resp.Reason(), resp.Error)
		}
		if save {
			saved, err := a.SaveCases(cmd.Context(), project, resp)
			switch {
			case errors.Is(err, app.ErrNothingToSave):
				fmt.Fprintln(cmd.ErrOrStderr(), "nothing to save: the response has no test cases")
			case err != nil:
				return fmt.Errorf("save cases: %w", err)
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %d test case(s)\n", len(saved))
			}
		}
		return nil
	},
}

// parseTask maps a --task value to a known variant. Empty means classify.
func parseTask(name string) (task.Variant, error) {
	if name == "" {
		return "", nil
	}
	v, ok := task.Parse(name)
	if !ok || v == task.Unknown {
		names := make([]string, 0, len(task.Variants()))
		for _, v := range task.Variants() {
			if v != task.Unknown {
				names = append(names, string(v))
			}
		}
		return "", fmt.Errorf("unknown task %q: use one of %s", name, strings.Join(names, ", "))
	}
	return v, nil
}

func printEnvelope(w io.Writer, resp *orchestrator.Response) {
	status := "ok"
	if !resp.OK {
		status = "failed"
	}
	fmt.Fprintf(w, "Task:     %s\n", resp.Task)
	fmt.Fprintf(w, "Status:   %s\n", status)
	if id, ok := resp.Metadata["request_id"].(string); ok {
		fmt.Fprintf(w, "Request:  %s\n", id)
	}
	if d, ok := resp.Metadata["duration"].(float64); ok {
		fmt.Fprintf(w, "Duration: %.2fs\n", d)
	}
	if !resp.OK {
		fmt.Fprintf(w, "Reason:   %s (%v)\n", resp.Reason(), resp.Metadata["stage"])
		fmt.Fprintf(w, "Error:    %s\n", resp.Error)
		return
	}
	if warnings := resp.Warnings(); len(warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, msg := range warnings {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
	fmt.Fprintln(w)
	_ = writeJSON(w, resp.Data)
}

func init() {
	askCmd.Flags().StringP("project", "p", "", "project id (required)")
	askCmd.Flags().String("conversation", "", "conversation id; history is kept in the conversation state file")
	askCmd.Flags().String("task", "", "skip classification and run this task")
	askCmd.Flags().String("params", "", "workflow parameters as JSON or @file")
	askCmd.Flags().Duration("timeout", 0, "request deadline (default dispatcher.timeout)")
	askCmd.Flags().Bool("save", false, "persist generated or supplementary cases to the case store")
	askCmd.Flags().String("format", "text", "Output format: text or json")
}
