package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Agentctl is a command line tool for interacting with the agentplane platform",
	Long: `agentctl is the command-line interface for the AgentPlane execution platform.

AgentPlane runs marketplace agents for tenant organizations in isolated
runtime environments. The architecture follows a clear control plane /
data plane separation:

  - Control Plane: Stateless HTTP API for agents, schedules, and execution lifecycle
  - Data Plane: Workers that pull executions from the queue and run them

Common workflows:

  Register an organization (prints the API key once):
    agentctl org create --name "acme" --tier pro

  Publish an agent:
    agentctl create --name "report-gen" --type simple --image "python:3.11" --command "python,report.py"

  Run an agent and wait for the result:
    agentctl run <agent-id> --input '{"period":"weekly"}' --wait

  Put an agent on a schedule:
    agentctl schedule create --agent <agent-id> --interval 60

  Check execution status:
    agentctl status <execution-id>

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    AGENTPLANE_API_URL    API endpoint (default: http://localhost:6161)
    AGENTPLANE_TOKEN      Organization API key for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".agentctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".agentctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "AGENTPLANE_VARNAME"
	viper.SetEnvPrefix("AGENTPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.agentctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "AgentPlane Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Organization API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
