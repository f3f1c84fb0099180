package cmd

import (
	"agentplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage agent schedules",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Put an agent on a schedule",
	Long: `Create a schedule for an agent. Exactly one of --interval, --cron,
or --webhook must be given.

Example:
  agentctl schedule create --agent 4f1c... --interval 60
  agentctl schedule create --agent 4f1c... --cron "0 9 * * MON-FRI" --timezone "Europe/Istanbul"
  agentctl schedule create --agent 4f1c... --webhook "/hooks/orders"`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		agentID, _ := flags.GetString("agent")
		interval, _ := flags.GetInt("interval")
		cron, _ := flags.GetString("cron")
		webhook, _ := flags.GetString("webhook")
		timezone, _ := flags.GetString("timezone")
		maxPerDay, _ := flags.GetInt("max-per-day")
		retry, _ := flags.GetBool("retry")

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		if agentID == "" {
			cmd.Println("Error: --agent is required")
			return
		}

		req := api.CreateScheduleRequest{
			AgentID:             agentID,
			Timezone:            timezone,
			MaxExecutionsPerDay: maxPerDay,
			RetryOnFailure:      retry,
		}

		switch {
		case interval > 0:
			req.ScheduleType = "interval"
			req.IntervalMinutes = &interval
		case cron != "":
			req.ScheduleType = "cron"
			req.CronExpression = &cron
		case webhook != "":
			req.ScheduleType = "webhook_trigger"
			req.WebhookEndpoint = &webhook
		default:
			cmd.Println("Error: one of --interval, --cron, or --webhook is required")
			return
		}

		client := NewAgentClient(url, token)
		result, err := client.CreateSchedule(req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Schedule created!\nID: %s\nMaterialized executions: %d\n", result.ScheduleID, result.Materialized)
	},
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update [schedule_id]",
	Short: "Update a schedule",
	Long: `Update schedule fields. Only the flags you pass are changed.

Example:
  agentctl schedule update 7a2e... --enable=false
  agentctl schedule update 7a2e... --interval 120`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scheduleID := args[0]
		flags := cmd.Flags()

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		var req api.UpdateScheduleRequest
		if flags.Changed("enable") {
			enabled, _ := flags.GetBool("enable")
			req.Enabled = &enabled
		}
		if flags.Changed("interval") {
			interval, _ := flags.GetInt("interval")
			req.IntervalMinutes = &interval
		}
		if flags.Changed("cron") {
			cron, _ := flags.GetString("cron")
			req.CronExpression = &cron
		}
		if flags.Changed("timezone") {
			timezone, _ := flags.GetString("timezone")
			req.Timezone = &timezone
		}
		if flags.Changed("max-per-day") {
			maxPerDay, _ := flags.GetInt("max-per-day")
			req.MaxExecutionsPerDay = &maxPerDay
		}

		client := NewAgentClient(url, token)
		result, err := client.UpdateSchedule(scheduleID, req)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Schedule updated.\nID: %s\nEnabled: %t\n", result.ID, result.Enabled)
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status [schedule_id]",
	Short: "Get status of a schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scheduleID := args[0]

		url := viper.GetString("url")
		token := viper.GetString("token")

		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the AGENTPLANE_TOKEN environment variable")
			return
		}

		client := NewAgentClient(url, token)
		result, err := client.GetScheduleStatus(scheduleID)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("Schedule %s\n", result.ID)
		cmd.Printf("Agent:        %s\n", result.AgentID)
		cmd.Printf("Type:         %s\n", result.ScheduleType)
		cmd.Printf("Enabled:      %t\n", result.Enabled)
		cmd.Printf("Max per day:  %d\n", result.MaxExecutionsPerDay)
	},
}

func init() {
	createFlags := scheduleCreateCmd.Flags()
	createFlags.StringP("agent", "a", "", "Agent ID to schedule (required)")
	createFlags.Int("interval", 0, "Interval in minutes (min 5)")
	createFlags.String("cron", "", "Cron expression (5 fields)")
	createFlags.String("webhook", "", "Webhook endpoint path")
	createFlags.String("timezone", "", "IANA timezone for cron schedules (default UTC)")
	createFlags.Int("max-per-day", 0, "Daily execution cap (1-1440)")
	createFlags.Bool("retry", false, "Retry failed scheduled executions")

	updateFlags := scheduleUpdateCmd.Flags()
	updateFlags.Bool("enable", true, "Enable or disable the schedule")
	updateFlags.Int("interval", 0, "Interval in minutes (min 5)")
	updateFlags.String("cron", "", "Cron expression (5 fields)")
	updateFlags.String("timezone", "", "IANA timezone for cron schedules")
	updateFlags.Int("max-per-day", 0, "Daily execution cap (1-1440)")

	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleUpdateCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}
