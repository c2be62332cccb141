package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"linetrack/protocol"
	"linetrack/station"
	"linetrack/store"
	"linetrack/syncchan"
)

type stateView struct {
	station.Snapshot
	Warning *station.Warning `json:"warning"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the station state and the latest vehicle report",
	RunE: func(cmd *cobra.Command, args []string) error {
		var s stateView
		if err := newStationClient(stationURL, timeout).get("/api/state", &s); err != nil {
			return err
		}
		printState(cmd.OutOrStdout(), s)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the station's last health verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		var h map[string]any
		if err := newStationClient(stationURL, timeout).get("/api/health", &h); err != nil {
			return err
		}
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %v\n", k, h[k])
		}
		return nil
	},
}

var transitionsCmd = &cobra.Command{
	Use:   "transitions",
	Short: "List recent state transitions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var trs []store.Transition
		if err := newStationClient(stationURL, timeout).get(fmt.Sprintf("/api/transitions?limit=%d", limit), &trs); err != nil {
			return err
		}
		for _, t := range trs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-15s -> %-15s %s\n",
				t.CreatedAt.Format("15:04:05"), t.Machine, t.From, t.To, t.Reason)
		}
		return nil
	},
}

var vehicleCmd = &cobra.Command{
	Use:   "vehicle",
	Short: "Query the vehicle's own health server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := syncchan.NewClient(vehicleURL, timeout)
		ctx := context.Background()
		h, err := c.FetchHealth(ctx)
		if err != nil {
			return err
		}
		r, err := c.FetchStatus(ctx)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "vehicle   %s (%s)\n", r.VehicleID, r.State)
		fmt.Fprintf(w, "ready     %v (hardware %v, data %v, battery %d%%)\n",
			h.Ready, h.HardwareConnected, h.DataUpdating, h.BatterySOC)
		fmt.Fprintf(w, "station   communication %v\n", h.CommunicationOK)
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:       "command <action>",
	Short:     "Send an operator action: go, pause, resume, estop, stop or acknowledge",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{station.ActionGo, station.ActionPause, station.ActionResume, station.ActionEStop, station.ActionStop, station.ActionAcknowledge},
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendAction(cmd.OutOrStdout(), args[0])
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the operator password",
	Long:  "Change the operator password. LINETRACK_NEW_PASSWORD skips the prompt for the new one.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		current, err := getPassword()
		if err != nil {
			return err
		}
		next, err := readSecret("LINETRACK_NEW_PASSWORD", "New password: ")
		if err != nil {
			return err
		}
		c := newStationClient(stationURL, timeout)
		if err := c.login(username, current); err != nil {
			return err
		}
		if err := c.postForm("/api/password", url.Values{"current": {current}, "new": {next}}, nil); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "password changed for %s\n", username)
		return nil
	},
}

func shortcut(use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAction(cmd.OutOrStdout(), action)
		},
	}
}

func init() {
	transitionsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transitions")
	rootCmd.AddCommand(statusCmd, healthCmd, transitionsCmd, vehicleCmd, commandCmd, passwdCmd,
		shortcut("go", station.ActionGo, "Start the vehicle from Ready"),
		shortcut("pause", station.ActionPause, "Pause a running vehicle"),
		shortcut("resume", station.ActionResume, "Resume from Paused"),
		shortcut("estop", station.ActionEStop, "Server emergency stop"),
		shortcut("stop", station.ActionStop, "Return the station to Ready"),
		shortcut("ack", station.ActionAcknowledge, "Acknowledge an Abnormal station"),
	)
}

func sendAction(w io.Writer, action string) error {
	if !station.ValidAction(action) {
		return fmt.Errorf("unknown action %q", action)
	}
	password, err := getPassword()
	if err != nil {
		return err
	}
	c := newStationClient(stationURL, timeout)
	if err := c.login(username, password); err != nil {
		return err
	}
	var resp struct {
		State   string `json:"state"`
		Command string `json:"command"`
	}
	if err := c.post("/api/command", map[string]string{"command": action}, &resp); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s accepted: station %s, vehicle command %s\n", action, resp.State, resp.Command)
	return nil
}

func printState(w io.Writer, s stateView) {
	fmt.Fprintf(w, "station   %s\n", s.State)
	fmt.Fprintf(w, "command   %s (alive %d)\n", s.Command, s.Alive)
	if s.HealthFailures > 0 || len(s.Health.Failed) > 0 {
		fmt.Fprintf(w, "health    %d failed rounds: %s\n", s.HealthFailures, strings.Join(s.Health.Failed, ", "))
	}
	if s.Warning != nil {
		fmt.Fprintf(w, "warning   [%s] %s\n", s.Warning.Type, s.Warning.Message)
	}
	if !s.HaveReport {
		fmt.Fprintln(w, "vehicle   no report yet")
		return
	}
	r := s.Report
	status := r.Status
	if status == protocol.StatusNone {
		status = "-"
	}
	fmt.Fprintf(w, "vehicle   %s %s status %s line %v\n", r.VehicleID, r.State, status, r.LineFollowing)
	fmt.Fprintf(w, "telemetry soc %d%% pos %d obstacle %dmm speed %d tag %d\n",
		r.Telemetry.SOC, r.Telemetry.LinePosition, r.Telemetry.ObstacleMm, r.Telemetry.Speed, r.Tag.ID)
}

