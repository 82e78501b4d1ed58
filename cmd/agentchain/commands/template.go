package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/agentchain/cmd/agentchain/templates"
	"github.com/NethermindEth/agentchain/core"
)

var (
	templateDir         string
	templateName        string
	templateDescription string
	templateBalance     string
	templateStrategy    strategyFlags
)

// TemplateCmd manages reusable agent definitions.
var TemplateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage agent templates",
	Long:  `Create, list, and show agent templates used by "tx create-agent --template".`,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new agent template",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := templateStrategy.build()
		if err != nil {
			return err
		}
		balance, err := core.ParseAmount(templateBalance)
		if err != nil {
			return fmt.Errorf("invalid --balance: %w", err)
		}
		registry, err := openRegistry(templateDir)
		if err != nil {
			return err
		}
		template := &templates.AgentTemplate{
			Name:           templateName,
			Description:    templateDescription,
			Strategy:       strategy,
			InitialBalance: balance,
		}
		if err := registry.SaveTemplate(templateName, template); err != nil {
			return fmt.Errorf("error saving template: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Template '%s' created successfully!\n", templateName)
		return nil
	},
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry(templateDir)
		if err != nil {
			return err
		}
		names, err := registry.ListTemplates()
		if err != nil {
			return fmt.Errorf("error listing templates: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "No templates found.")
			return nil
		}
		fmt.Fprintln(out, "Available templates:")
		for _, name := range names {
			t, err := registry.GetTemplate(name)
			if err != nil {
				fmt.Fprintf(out, "- %s (error: %v)\n", name, err)
				continue
			}
			fmt.Fprintf(out, "- %s: %s [%s]\n", name, t.Description, t.Strategy.Type())
		}
		return nil
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry(templateDir)
		if err != nil {
			return err
		}
		t, err := registry.GetTemplate(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, t)
	},
}

// openRegistry opens the template directory, seeding the defaults when it
// is empty.
func openRegistry(dir string) (*templates.TemplateRegistry, error) {
	registry, err := templates.NewTemplateRegistry(dir)
	if err != nil {
		return nil, err
	}
	if err := registry.CreateDefaultTemplates(); err != nil {
		return nil, fmt.Errorf("error creating default templates: %w", err)
	}
	return registry, nil
}

func init() {
	TemplateCmd.PersistentFlags().StringVar(&templateDir, "dir", templates.DefaultDir(), "Template directory")
	TemplateCmd.AddCommand(templateCreateCmd, templateListCmd, templateShowCmd)

	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Name for the template")
	templateCreateCmd.Flags().StringVar(&templateDescription, "description", "", "Template description")
	templateCreateCmd.Flags().StringVar(&templateBalance, "balance", "0", "Initial balance")
	templateStrategy.bind(templateCreateCmd)
	_ = templateCreateCmd.MarkFlagRequired("name")
}
