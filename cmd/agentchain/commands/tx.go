package commands

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/cmd/agentchain/templates"
	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/marketplace"
)

var (
	txAPIURL string
	txKey    string
	txNonce  uint64

	createName        string
	createDescription string
	createBalance     string
	createTemplate    string
	createTemplateDir string
	createStrategy    strategyFlags

	requestParams        string
	requestProviderChain string

	completeFailed bool

	updateStrategy strategyFlags

	listingAgent       string
	listingServiceType string
	listingPrice       string
	listingCapacity    uint32
	listingAvgTime     uint64
	listingSuccessRate float64
)

// TxCmd groups the signed marketplace operations.
var TxCmd = &cobra.Command{
	Use:   "tx",
	Short: "Sign and submit marketplace operations",
	Long: `Sign a marketplace operation with --key (or AGENTCHAIN_KEY) and submit it
through the node API. The printed hash identifies the transaction.`,
}

var createAgentCmd = &cobra.Command{
	Use:   "create-agent",
	Short: "Register a new agent owned by the signer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		op := &marketplace.CreateAgent{Name: createName, Description: createDescription}
		if createTemplate != "" {
			registry, err := openRegistry(createTemplateDir)
			if err != nil {
				return err
			}
			t, err := registry.GetTemplate(createTemplate)
			if err != nil {
				return fmt.Errorf("error loading template: %w", err)
			}
			op.Strategy = t.Strategy
			op.InitialBalance = t.InitialBalance
			if op.Name == "" {
				op.Name = t.Name
			}
			if op.Description == "" {
				op.Description = t.Description
			}
		} else {
			strategy, err := createStrategy.build()
			if err != nil {
				return err
			}
			op.Strategy = strategy
		}
		if cmd.Flags().Changed("balance") || createTemplate == "" {
			balance, err := core.ParseAmount(createBalance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}
			op.InitialBalance = balance
		}
		if op.Name == "" {
			return fmt.Errorf("--name is required")
		}
		return submit(cmd, marketplace.Operation{CreateAgent: op})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer TO_AGENT AMOUNT",
	Short: "Transfer tokens from the signer's agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := core.ParseAmount(args[1])
		if err != nil {
			return err
		}
		return submit(cmd, marketplace.Operation{
			TransferTokens: &marketplace.TransferTokens{ToAgent: args[0], Amount: amount},
		})
	},
}

var requestCmd = &cobra.Command{
	Use:   "request PROVIDER_AGENT SERVICE_TYPE PAYMENT",
	Short: "Request a service and escrow the payment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		payment, err := core.ParseAmount(args[2])
		if err != nil {
			return err
		}
		return submit(cmd, marketplace.Operation{RequestService: &marketplace.RequestService{
			ProviderAgent: args[0],
			ServiceType:   args[1],
			Parameters:    requestParams,
			Payment:       payment,
			ProviderChain: requestProviderChain,
		}})
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept REQUEST_ID",
	Short: "Accept a pending service request as its provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, marketplace.Operation{AcceptService: &marketplace.AcceptService{RequestID: args[0]}})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete REQUEST_ID",
	Short: "Settle an accepted service request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, marketplace.Operation{CompleteService: &marketplace.CompleteService{
			RequestID: args[0],
			Success:   !completeFailed,
		}})
	},
}

var updateStrategyCmd = &cobra.Command{
	Use:   "update-strategy AGENT_ID",
	Short: "Replace an agent's strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := updateStrategy.build()
		if err != nil {
			return err
		}
		return submit(cmd, marketplace.Operation{UpdateStrategy: &marketplace.UpdateStrategy{
			AgentID:     args[0],
			NewStrategy: strategy,
		}})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate AGENT_ID",
	Short: "Deactivate an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, marketplace.Operation{DeactivateAgent: &marketplace.DeactivateAgent{AgentID: args[0]}})
	},
}

var listingCmd = &cobra.Command{
	Use:   "listing",
	Short: "Publish or replace a market listing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := core.ParseAmount(listingPrice)
		if err != nil {
			return fmt.Errorf("invalid --price: %w", err)
		}
		listing := &core.MarketListing{
			AgentID:               listingAgent,
			ServiceType:           listingServiceType,
			Price:                 price,
			Capacity:              listingCapacity,
			AverageCompletionTime: listingAvgTime,
			SuccessRate:           listingSuccessRate,
		}
		if err := listing.Validate(); err != nil {
			return err
		}
		return submit(cmd, marketplace.Operation{UpdateMarketListing: listing})
	},
}

var disputeCmd = &cobra.Command{
	Use:   "dispute REQUEST_ID",
	Short: "Open a dispute on a service request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submit(cmd, marketplace.Operation{OpenDispute: &marketplace.OpenDispute{RequestID: args[0]}})
	},
}

// signOperation wraps op in a tx signed with the configured key.
func signOperation(op marketplace.Operation) ([]byte, error) {
	if txKey == "" {
		return nil, fmt.Errorf("a signing key is required (--key or AGENTCHAIN_KEY)")
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	nonce := txNonce
	if nonce == 0 {
		nonce = uint64(time.Now().UnixNano())
	}
	tx := marketplace.NewOperationTx(op, nonce)
	if err := tx.Sign(txKey); err != nil {
		return nil, err
	}
	return marketplace.EncodeTx(tx)
}

func submit(cmd *cobra.Command, op marketplace.Operation) error {
	raw, err := signOperation(op)
	if err != nil {
		return err
	}
	var resp struct {
		Hash string `json:"hash"`
	}
	if err := do(http.MethodPost, txAPIURL+"/api/tx", raw, &resp); err != nil {
		return fmt.Errorf("%s rejected: %w", op.Name(), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s submitted: %s\n", op.Name(), resp.Hash)
	return nil
}

func init() {
	pf := TxCmd.PersistentFlags()
	pf.StringVar(&txAPIURL, "api-url", envOr("AGENTCHAIN_API_URL", defaultAPIURL), "Node API URL")
	pf.StringVar(&txKey, "key", envOr("AGENTCHAIN_KEY", ""), "Hex ed25519 private key")
	pf.Uint64Var(&txNonce, "nonce", 0, "Tx nonce (default: current time)")

	TxCmd.AddCommand(createAgentCmd, transferCmd, requestCmd, acceptCmd, completeCmd,
		updateStrategyCmd, deactivateCmd, listingCmd, disputeCmd)

	createAgentCmd.Flags().StringVar(&createName, "name", "", "Agent name")
	createAgentCmd.Flags().StringVar(&createDescription, "description", "", "Agent description")
	createAgentCmd.Flags().StringVar(&createBalance, "balance", "0", "Initial balance")
	createAgentCmd.Flags().StringVar(&createTemplate, "template", "", "Template name to use")
	createAgentCmd.Flags().StringVar(&createTemplateDir, "template-dir", templates.DefaultDir(), "Template directory")
	createStrategy.bind(createAgentCmd)

	requestCmd.Flags().StringVar(&requestParams, "params", "", "Request parameters")
	requestCmd.Flags().StringVar(&requestProviderChain, "provider-chain", "", "Chain the provider lives on (default: this chain)")

	completeCmd.Flags().BoolVar(&completeFailed, "failed", false, "Settle as failed and refund the requester")

	updateStrategy.bind(updateStrategyCmd)
	_ = updateStrategyCmd.MarkFlagRequired("strategy")

	listingCmd.Flags().StringVar(&listingAgent, "agent", "", "Agent offering the service")
	listingCmd.Flags().StringVar(&listingServiceType, "service-type", "", "Service type")
	listingCmd.Flags().StringVar(&listingPrice, "price", "0", "Price")
	listingCmd.Flags().Uint32Var(&listingCapacity, "capacity", 1, "Concurrent capacity")
	listingCmd.Flags().Uint64Var(&listingAvgTime, "avg-time", 0, "Average completion time in seconds")
	listingCmd.Flags().Float64Var(&listingSuccessRate, "success-rate", 100, "Advertised success rate, 0 to 100")
}
