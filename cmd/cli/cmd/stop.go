package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var stopCmd = &cobra.Command{
	Use:   "stop [agent_id]",
	Short: "Stop an agent and cancel its pending executions",
	Long: `Stop an agent. In-flight executions finish; pending ones are
cancelled and new runs are rejected until the agent is reactivated.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		client := NewAgentClient(url, token)
		result, err := client.StopAgent(agentID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Agent stopped.\nID: %s\nCancelled pending executions: %d\n", result.AgentID, result.Cancelled)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
