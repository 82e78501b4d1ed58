package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/core"
	"github.com/NethermindEth/agentchain/crypto"
)

// KeygenCmd prints a fresh signing key.
var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 key pair",
	Long:  `Generate a signing key. The public key is the caller identity and determines the primary agent ID.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		priv, pub := crypto.GenerateKey()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Public Key: ", pub)
		fmt.Fprintln(out, "Private Key:", priv)
		fmt.Fprintln(out, "Agent ID:   ", core.CallerAgentID(pub))
	},
}
