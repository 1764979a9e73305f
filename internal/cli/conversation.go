package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/convo"
)

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Inspect and manage CLI conversation history",
}

// openConversations loads the conversation state file into a fresh store.
func openConversations() (*convo.Store, string, error) {
	path := conversationsPath()
	store := convo.NewStore(nil)
	if err := loadConversations(store, path); err != nil {
		return nil, "", err
	}
	return store, path, nil
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		store, _, err := openConversations()
		if err != nil {
			return err
		}
		summaries := store.List(project)

		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), summaries)
		}
		if len(summaries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROJECT\tMESSAGES\tUPDATED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.ProjectID, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		store, _, err := openConversations()
		if err != nil {
			return err
		}
		c, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), c)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Conversation %s (project %s)\n\n", c.ID, c.ProjectID)
		for _, m := range c.Messages {
			fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
		}
		return nil
	},
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, path, err := openConversations()
		if err != nil {
			return err
		}
		if !store.Delete(args[0]) {
			return fmt.Errorf("%w: %s", convo.ErrNotFound, args[0])
		}
		if err := saveConversations(store, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation %s\n", args[0])
		return nil
	},
}

var conversationExportCmd = &cobra.Command{
	Use:   "export <file> [id...]",
	Short: "Export conversations to a JSON or YAML file",
	Long:  `Export the named conversations, or all of them, to <file>. The format follows the file extension (.yaml/.yml or JSON).`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")

		store, _, err := openConversations()
		if err != nil {
			return err
		}
		var convs []convo.Conversation
		if len(args) > 1 {
			for _, id := range args[1:] {
				c, err := store.Export(id)
				if err != nil {
					return err
				}
				convs = append(convs, c)
			}
		} else {
			convs = exportAll(store, project)
		}

		file := args[0]
		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("create %s: %w", file, err)
		}
		if err := convo.Encode(f, convs, convo.FormatForPath(file)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d conversation(s) to %s\n", len(convs), file)
		return nil
	},
}

var conversationImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import conversations from a JSON or YAML file",
	Long:  `Import conversations written by export. A conversation with an existing id is replaced.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, path, err := openConversations()
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		convs, err := convo.Decode(f, convo.FormatForPath(args[0]))
		if err != nil {
			return err
		}
		for _, c := range convs {
			if err := store.Import(c); err != nil {
				return err
			}
		}
		if err := saveConversations(store, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d conversation(s)\n", len(convs))
		return nil
	},
}

func init() {
	conversationListCmd.Flags().String("project", "", "only this project")
	conversationListCmd.Flags().String("format", "text", "Output format: text or json")
	conversationShowCmd.Flags().String("format", "text", "Output format: text or json")
	conversationExportCmd.Flags().String("project", "", "only this project when no ids are given")

	conversationCmd.AddCommand(conversationListCmd)
	conversationCmd.AddCommand(conversationShowCmd)
	conversationCmd.AddCommand(conversationDeleteCmd)
	conversationCmd.AddCommand(conversationExportCmd)
	conversationCmd.AddCommand(conversationImportCmd)
}
