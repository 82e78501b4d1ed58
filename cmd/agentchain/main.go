package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/cmd/agentchain/commands"
)

var rootCmd = &cobra.Command{
	Use:           "agentchain",
	Short:         "Agent marketplace chain",
	Long:          `Run marketplace nodes and manage agents, service requests and listings.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(commands.NodeCmd)
	rootCmd.AddCommand(commands.KeygenCmd)
	rootCmd.AddCommand(commands.TxCmd)
	rootCmd.AddCommand(commands.ListCmd)
	rootCmd.AddCommand(commands.TemplateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
