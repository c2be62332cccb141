package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	stationURL string
	vehicleURL string
	username   string
	timeout    time.Duration
	limit      int
)

var rootCmd = &cobra.Command{
	Use:   "agvctl",
	Short: "Operator console for the line-tracking station",
	Long: `agvctl talks to a running agvstation over its HTTP API.

Read commands (status, health, transitions) need no login. Operator actions
(go, pause, resume, estop, stop, ack) log in first. The password is read from
the LINETRACK_PASSWORD environment variable, or prompted for without echo.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&stationURL, "url", "u", "http://localhost:8090", "station base URL")
	rootCmd.PersistentFlags().StringVar(&vehicleURL, "vehicle-url", "http://localhost:5000", "vehicle health server URL")
	rootCmd.PersistentFlags().StringVar(&username, "username", "admin", "operator account")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
