package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [agent_id]",
	Short: "Show an agent's definition status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		client := NewAgentClient(url, token)
		result, err := client.GetAgentStatus(agentID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("Agent %s\n", result.AgentID)
		cmd.Printf("Name:    %s\n", result.Name)
		cmd.Printf("Type:    %s\n", result.Type)
		cmd.Printf("Status:  %s\n", result.Status)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
