package cmd

import (
	"agentplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish a new agent definition",
	Long: `Publish a new agent definition that can be run later.

The agent type selects the isolation tier: simple agents share the basic
pool, advanced agents get per-organization resource tracking, enterprise
agents run in strict isolation.

Example:
  agentctl create --name "report-gen" --type simple --image "python:3.11" --command "python,report.py"
  agentctl create --name "billing-sync" --type enterprise --image "billing:v2" --timeout 300 --memory 512`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		agentType, _ := flags.GetString("type")
		image, _ := flags.GetString("image")
		command, _ := flags.GetStringSlice("command")
		timeout, _ := flags.GetInt("timeout")
		memory, _ := flags.GetInt("memory")

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
		req := api.CreateAgentRequest{
			Name:           name,
			Type:           agentType,
			Image:          image,
			Command:        command,
			DefaultTimeout: timeout,
			MemoryLimitMB:  memory,
		}

		result, err := client.CreateAgent(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Agent created!\nID: %s\nName: %s\n", result.AgentID, name)
	},
}

func init() {
	flags := createCmd.Flags()
	flags.StringP("name", "n", "", "Name of the agent (required)")
	flags.String("type", "simple", "Agent type: simple, advanced, or enterprise")
	flags.StringP("image", "i", "", "Container image or 'ignored' for exec runtime (required)")
	flags.StringSliceP("command", "c", []string{}, "Command to execute (optional, defaults to the image entrypoint)")
	flags.Int("timeout", 0, "Default timeout in seconds (optional)")
	flags.Int("memory", 0, "Memory limit in MB (optional)")

	rootCmd.AddCommand(createCmd)
}
