package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/casepilot/internal/app"
	"github.com/lucasnoah/casepilot/internal/prompt"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List registered workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		a, err := openApp(cmd, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		infos := a.Dispatcher.Workflows()
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), infos)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%s\n", info.Name, info.Description)
		}
		return w.Flush()
	},
}

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt templates",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in prompt template names",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range prompt.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}

var promptsInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Write the built-in templates to the override directory for editing",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		if dir == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dir = cfg.Prompts.Dir
		}
		if dir == "" {
			return fmt.Errorf("no directory: pass --dir or set prompts.dir")
		}

		written, err := prompt.Install(dir, overwrite)
		if err != nil {
			return err
		}
		for _, name := range written {
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %d template(s) in %s\n", len(written), dir)
		return nil
	},
}

func init() {
	workflowsCmd.Flags().String("format", "text", "Output format: text or json")
	promptsInstallCmd.Flags().String("dir", "", "target directory (default prompts.dir)")
	promptsInstallCmd.Flags().Bool("overwrite", false, "replace existing files")

	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsInstallCmd)
}
