package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var casefileCmd = &cobra.Command{
	Use:   "casefile",
	Short: "Inspect, export, and erase case files",
}

var casefileGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Print the full case file for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if CaseFiles == nil {
			return fmt.Errorf("case file store not initialized")
		}
		cf, ok := CaseFiles.Get(args[0])
		if !ok {
			return fmt.Errorf("no case file for session %q", args[0])
		}
		out, err := yaml.Marshal(cf)
		if err != nil {
			return fmt.Errorf("rendering case file: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var casefileExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Print the redacted case file for sharing outside the engine",
	Long: `Print the redacted export of a case file: contact phone digits are
masked and coordinates are coarsened to roughly a kilometer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if CaseFiles == nil {
			return fmt.Errorf("case file store not initialized")
		}
		redacted, ok := CaseFiles.Export(args[0])
		if !ok {
			return fmt.Errorf("no case file for session %q", args[0])
		}
		out, err := yaml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("rendering export: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var casefileDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Erase the case file for a session (privacy operation)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Controller == nil {
			return fmt.Errorf("controller not initialized")
		}
		if !Controller.DeleteCaseFile(args[0]) {
			return fmt.Errorf("no case file for session %q", args[0])
		}
		fmt.Printf("case file for session %s erased\n", args[0])
		return nil
	},
}

var casefileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live case files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if CaseFiles == nil {
			return fmt.Errorf("case file store not initialized")
		}
		files := CaseFiles.List()
		if len(files) == 0 {
			fmt.Println("No live case files.")
			return nil
		}
		for _, cf := range files {
			fmt.Printf("  %-24s %-10s %-10s %d actions, %d timeline events\n",
				cf.SessionID, cf.RiskLevel, cf.State, len(cf.ActionsTaken), len(cf.Timeline))
		}
		return nil
	},
}

func init() {
	casefileCmd.AddCommand(casefileGetCmd)
	casefileCmd.AddCommand(casefileExportCmd)
	casefileCmd.AddCommand(casefileDeleteCmd)
	casefileCmd.AddCommand(casefileListCmd)
	rootCmd.AddCommand(casefileCmd)
}
