package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/query"
)

var (
	listAPIURL   string
	listStrategy string
	listActive   bool
	listJSON     bool
)

// ListCmd lists registered agents.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	Long:  `List the agents registered on the node's chain.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		if listStrategy != "" {
			params.Set("strategy", listStrategy)
		}
		if listActive {
			params.Set("active", "true")
		}
		target := listAPIURL + "/api/agents"
		if len(params) > 0 {
			target += "?" + params.Encode()
		}

		var agents []query.AgentInfo
		if err := do(http.MethodGet, target, nil, &agents); err != nil {
			return err
		}
		if listJSON {
			return printJSON(cmd, agents)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Found %d agents:\n", len(agents))
		for _, a := range agents {
			state := "active"
			if !a.IsActive {
				state = "inactive"
			}
			fmt.Fprintf(out, "- %s (ID: %s, %s)\n", a.Name, a.ID, state)
			fmt.Fprintf(out, "  Strategy: %s  Balance: %s  Reputation: %d\n", a.StrategyType, a.Balance, a.Reputation)
		}
		return nil
	},
}

func init() {
	addAPIFlag(ListCmd, &listAPIURL)
	ListCmd.Flags().StringVar(&listStrategy, "strategy", "", "Only agents with this strategy type")
	ListCmd.Flags().BoolVar(&listActive, "active", false, "Only active agents")
	ListCmd.Flags().BoolVar(&listJSON, "json", false, "Print raw JSON")
}
