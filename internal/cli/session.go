package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect live interaction handles",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live interaction handles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Registry == nil {
			return fmt.Errorf("session registry not initialized")
		}
		handles := Registry.List()
		if len(handles) == 0 {
			fmt.Println("No live interaction handles.")
			return nil
		}
		for _, h := range handles {
			loc := "no location"
			if h.Location != nil {
				loc = fmt.Sprintf("%.4f,%.4f", h.Location.Lat, h.Location.Lng)
			}
			fmt.Printf("  %-24s session=%-24s %s  last update %s\n",
				h.HandleID, h.SessionID, loc, h.LastUpdatedAt.Format("15:04:05"))
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <handle-id>",
	Short: "Remove an interaction handle from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Registry == nil {
			return fmt.Errorf("session registry not initialized")
		}
		Registry.Clear(args[0])
		fmt.Printf("handle %s cleared\n", args[0])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}
