package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/haven/internal/core"
	"github.com/valter-silva-au/haven/pkg/models"
)

var (
	eventSession   string
	eventChannel   string
	eventLat       float64
	eventLng       float64
	eventStandDown bool
)

var eventCmd = &cobra.Command{
	Use:   "event [text]",
	Short: "Feed one inbound event to the engine",
	Long: `Feed a message to the conversation controller as if it arrived from a
front end, and print the reply directive and resulting risk state.

Useful for manual testing of classification and dispatch policy:

  haven event --session demo "there is someone following me"
  haven event --session demo "yes"
  haven event --session demo --stand-down ""`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if Controller == nil {
			return fmt.Errorf("controller not initialized")
		}
		if eventSession == "" {
			return fmt.Errorf("--session is required")
		}

		ev := core.InboundEvent{
			SessionID: eventSession,
			Channel:   eventChannel,
			StandDown: eventStandDown,
		}
		if len(args) > 0 {
			ev.Text = args[0]
		}
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
			ev.Location = &models.Location{Lat: eventLat, Lng: eventLng}
		}

		outcome, err := Controller.HandleEvent(cmd.Context(), ev)
		if err != nil {
			return fmt.Errorf("handling event: %w", err)
		}

		cf := outcome.CaseFile
		fmt.Printf("risk:  %s (state %s)\n", cf.RiskLevel, cf.State)
		fmt.Printf("reply: [%s] %s\n", outcome.Reply.Kind, outcome.Reply.Message)
		if len(outcome.Reply.Places) > 0 {
			names := make([]string, len(outcome.Reply.Places))
			for i, p := range outcome.Reply.Places {
				names[i] = fmt.Sprintf("%s (%s, %.0fm)", p.Name, p.Type, p.DistanceMeters)
			}
			fmt.Printf("places: %s\n", strings.Join(names, "; "))
		}
		return nil
	},
}

func init() {
	eventCmd.Flags().StringVarP(&eventSession, "session", "s", "", "session identifier (required)")
	eventCmd.Flags().StringVar(&eventChannel, "channel", "text", "event channel (voice, text, push)")
	eventCmd.Flags().Float64Var(&eventLat, "lat", 0, "current latitude")
	eventCmd.Flags().Float64Var(&eventLng, "lng", 0, "current longitude")
	eventCmd.Flags().BoolVar(&eventStandDown, "stand-down", false, "send an explicit stand-down signal")
	rootCmd.AddCommand(eventCmd)
}
