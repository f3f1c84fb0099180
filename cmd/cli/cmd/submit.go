package cmd

import (
	"agentplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Create and immediately run an agent",
	Long: `Publish a new agent definition and immediately trigger an execution.

This is a convenience command that combines 'create' and 'run' into a single step.

Example:
  agentctl submit --name "quick-check" --image "alpine" --command "echo,hello"
  agentctl submit --name "report-gen" --type advanced --image "python:3.11" --command "python,report.py" --timeout 300`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		agentType, _ := flags.GetString("type")
		image, _ := flags.GetString("image")
		command, _ := flags.GetStringSlice("command")
		timeout, _ := flags.GetInt("timeout")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}

		if image == "" {
			cmd.Println("Error: --image is required")
			return
		}

		client := NewAgentClient(url, token)

		// Step 1: Create the agent
		createReq := api.CreateAgentRequest{
			Name:           name,
			Type:           agentType,
			Image:          image,
			Command:        command,
			DefaultTimeout: timeout,
		}

		createResult, err := client.CreateAgent(createReq)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Create failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Create failed: %v\n", err)
			}
			return
		}

		// Step 2: Run the agent
		// Empty request since submit triggers execution immediately
		runResult, err := client.RunAgent(createResult.AgentID, api.RunAgentRequest{})
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Agent created (ID: %s) but run failed (%d): %s\n", createResult.AgentID, apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Agent created (ID: %s) but run failed: %v\n", createResult.AgentID, err)
			}
			return
		}

		cmd.Printf("✓ Agent submitted!\nAgent ID: %s\nExecution ID: %s\n", createResult.AgentID, runResult.ExecutionID)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("name", "n", "", "Name of the agent (required)")
	flags.String("type", "simple", "Agent type: simple, advanced, or enterprise")
	flags.StringP("image", "i", "", "Container image or 'ignored' for exec runtime (required)")
	flags.StringSliceP("command", "c", []string{}, "Command to execute (optional)")
	flags.Int("timeout", 0, "Default timeout in seconds (optional)")

	rootCmd.AddCommand(submitCmd)
}
