package cmd

import (
	"agentplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Manage organizations",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new organization",
	Long: `Register a new tenant organization and print its API key.

The API key is shown exactly once. Store it somewhere safe; it cannot be
retrieved again.

Example:
  agentctl org create --name "acme" --tier pro`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		tier, _ := flags.GetString("tier")

		url := viper.GetString("url")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		client := NewAgentClient(url, "")
		result, err := client.CreateOrganization(api.CreateOrganizationRequest{
			Name: name,
			Tier: tier,
		})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Organization created!\nID: %s\nName: %s\nTier: %s\n", result.ID, result.Name, result.Tier)
		cmd.Printf("\nAPI Key (shown once, store it now):\n%s\n", result.ApiKey)
	},
}

func init() {
	flags := orgCreateCmd.Flags()
	flags.StringP("name", "n", "", "Name of the organization (required)")
	flags.String("tier", "", "Subscription tier: starter, pro, or enterprise (default starter)")

	orgCmd.AddCommand(orgCreateCmd)
	rootCmd.AddCommand(orgCmd)
}
