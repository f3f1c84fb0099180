package cmd

import (
	"encoding/json"

	"agentplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [agent_id]",
	Short: "Trigger a new execution for an agent",
	Long: `Trigger a new execution for a published agent.

With --wait the command blocks until the execution finishes and prints the
result. If the execution outlives the server wait window the execution ID
is printed for later polling with 'agentctl status'.

Example:
  agentctl run 4f1c... --input '{"period":"weekly"}'
  agentctl run 4f1c... --wait`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]

		flags := cmd.Flags()
		input, _ := flags.GetString("input")
		wait, _ := flags.GetBool("wait")
		priority, _ := flags.GetInt("priority")
		maxRetries, _ := flags.GetInt("retries")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		req := api.RunAgentRequest{
			Priority:   priority,
			MaxRetries: maxRetries,
			Wait:       wait,
		}
		if input != "" {
			if !json.Valid([]byte(input)) {
				cmd.Println("Error: --input must be valid JSON")
				return
			}
			req.Input = json.RawMessage(input)
		}

		client := NewAgentClient(url, token)
		result, err := client.RunAgent(agentID, req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		if !wait {
			cmd.Printf("🚀 Execution started!\nID: %s\n", result.ExecutionID)
			return
		}

		switch result.Status {
		case "completed":
			cmd.Printf("✓ Execution completed!\nID: %s\n", result.ExecutionID)
			if len(result.Result) > 0 {
				cmd.Printf("Result: %s\n", string(result.Result))
			}
		case "failed":
			cmd.Printf("✗ Execution failed!\nID: %s\n", result.ExecutionID)
			if result.Error != "" {
				cmd.Printf("Error: %s\n", result.Error)
			}
		default:
			cmd.Printf("⏳ Execution still running.\nID: %s\nPoll it with: agentctl status %s\n", result.ExecutionID, result.ExecutionID)
		}
	},
}

func init() {
	flags := runCmd.Flags()
	flags.String("input", "", "JSON input passed to the agent")
	flags.BoolP("wait", "w", false, "Block until the execution finishes")
	flags.Int("priority", 0, "Execution priority, lower runs first (default 1)")
	flags.Int("retries", 0, "Maximum retries on failure")

	rootCmd.AddCommand(runCmd)
}
