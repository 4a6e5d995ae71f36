package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"navext/internal/app"
	"navext/internal/history"
	"navext/internal/inventory"
	"navext/internal/monitor"
	"navext/internal/risk"
)

type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ex ExitCoder
		if errors.As(err, &ex) {
			os.Exit(ex.ExitCode())
		}
		if inventory.IsMissingPermission(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

type serviceFactory func() (*app.Service, error)

func newRootCmd() *cobra.Command {
	var configPath string
	var jsonOutput bool

	newSvc := func() (*app.Service, error) {
		return app.New(context.Background(), app.Options{ConfigPath: configPath})
	}

	cmd := &cobra.Command{
		Use:           "navext",
		Short:         "Audit installed browser extensions for risky permissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(newInitCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newScanCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newCheckCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newWatchCmd(newSvc))
	cmd.AddCommand(newServeCmd(newSvc))
	cmd.AddCommand(newStatesCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newCommsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newMessageCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newAccessCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newHistoryCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newAlertsCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newSourceCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newScheduleCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newDoctorCmd(newSvc, &jsonOutput))
	cmd.AddCommand(newVersionCmd(&jsonOutput))

	return cmd
}

func newInitCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var kind, path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config and record the current extensions as the baseline",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			if path != "" {
				if _, err := svc.SetSource(kind, path); err != nil {
					return err
				}
				_ = svc.Close()
				// Reopen so the new source is wired in.
				if svc, err = newSvc(); err != nil {
					return err
				}
				defer svc.Close()
			}
			res, err := svc.Initialize(context.Background())
			if err != nil {
				return err
			}
			return print(*jsonOutput, res, fmt.Sprintf("baseline recorded for %d extensions (config %s)", res.Stored, svc.ConfigPath))
		},
	}
	cmd.Flags().StringVar(&kind, "source-kind", "inventory", "source kind: inventory|profile")
	cmd.Flags().StringVar(&path, "source", "", "inventory file or browser profile directory")
	return cmd
}

func newScanCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var details bool
	var failOn string
	cmd := &cobra.Command{
		Use:     "scan",
		Aliases: []string{"audit", "ls"},
		Short:   "Score every installed extension",
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold := risk.LevelUnknown
			if failOn != "" {
				if threshold = risk.ParseLevel(failOn); threshold == risk.LevelUnknown {
					return fmt.Errorf("SCAN_FAIL_ON: unknown level %q", failOn)
				}
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			report, err := svc.Scan(context.Background())
			if err != nil {
				return err
			}
			if *jsonOutput {
				if err := print(true, report, ""); err != nil {
					return err
				}
			} else {
				printReport(report, details)
			}
			if threshold != risk.LevelUnknown {
				for _, a := range report.Extensions {
					if a.RiskLevel >= threshold {
						return &exitError{code: 2, msg: fmt.Sprintf("extensions at or above %s risk found", threshold)}
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "explain each dangerous permission")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit 2 when any extension reaches this level (low|medium|high)")
	return cmd
}

func printReport(report inventory.Report, details bool) {
	s := report.Summary
	fmt.Printf("%d extensions: %d high, %d medium, %d low", s.Total, s.High, s.Medium, s.Low)
	if s.Unknown > 0 {
		fmt.Printf(", %d failed", s.Unknown)
	}
	fmt.Println()
	for _, a := range report.Extensions {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		fmt.Printf("[%s] %3d %s (%s) %s\n", strings.ToUpper(a.RiskLevel.String()), a.RiskScore, name, a.ID, a.Version)
		for _, f := range a.RiskFactors {
			fmt.Printf("      - %s\n", f)
		}
		if details && a.Analysis != nil {
			for _, p := range a.Analysis.Permissions.Dangerous {
				fmt.Printf("      %s: %s\n", p, risk.PermissionDescription(p))
			}
		}
	}
}

func newCheckCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the installed extensions against the stored baseline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			res, err := svc.Check(context.Background())
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, res, "")
			}
			printResult(res)
			return nil
		},
	}
}

func printResult(res monitor.Result) {
	if res.Kind == monitor.KindInitialize {
		fmt.Printf("baseline recorded for %d extensions\n", res.Stored)
		return
	}
	if res.Changes == nil || res.Changes.Empty() {
		fmt.Println("no changes")
		return
	}
	c := res.Changes
	fmt.Printf("%d new, %d escalated, %d updated, %d removed\n", len(c.NewInstalls), len(c.Escalations), len(c.Updates), len(c.Removed))
	for _, n := range res.Notifications {
		fmt.Printf("[%s] %s: %s\n", n.Priority, n.Title, n.Body)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newWatchCmd(newSvc serviceFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the monitor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, stop := signalContext()
			defer stop()
			return svc.Watch(ctx)
		},
	}
}

func newServeCmd(newSvc serviceFactory) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, stop := signalContext()
			defer stop()
			return svc.Serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (defaults to [server].listen)")
	return cmd
}

func newStatesCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "states",
		Aliases: []string{"baseline"},
		Short:   "List the stored extension records",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			states := svc.States()
			if *jsonOutput {
				return print(true, states, "")
			}
			if len(states) == 0 {
				fmt.Println("no stored extensions")
				return nil
			}
			for _, s := range states {
				status := "enabled"
				if !s.Record.Enabled {
					status = "disabled"
				}
				fmt.Printf("- %s %s %s (%s) checked=%s\n", s.ID, s.Record.Version, s.Record.Name, status, s.Record.LastChecked.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newCommsCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:     "comms",
		Aliases: []string{"communications", "messages"},
		Short:   "Show messages received from other extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			entries := svc.Communications(sender)
			if *jsonOutput {
				return print(true, entries, "")
			}
			if len(entries) == 0 {
				fmt.Println("no communications logged")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s %s %s\n", e.Timestamp.Format(time.RFC3339), e.SenderID, string(e.Message))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "only show messages from this extension id")
	return cmd
}

func newMessageCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "message <sender-id> <payload>",
		Short: "Record a message received from another extension",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage(args[1])
			if !json.Valid(payload) {
				quoted, err := json.Marshal(args[1])
				if err != nil {
					return err
				}
				payload = quoted
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			entry, err := svc.RecordMessage(context.Background(), args[0], payload)
			if err != nil {
				return err
			}
			return print(*jsonOutput, entry, "recorded message "+entry.ID+" from "+entry.SenderID)
		},
	}
}

func newAccessCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "access <url>",
		Short: "List stored extensions whose host permissions reach a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			matches := svc.Access(args[0])
			if *jsonOutput {
				return print(true, matches, "")
			}
			if len(matches) == 0 {
				fmt.Println("no extension can access " + args[0])
				return nil
			}
			for _, m := range matches {
				fmt.Printf("- %s (%s): %s\n", m.Name, m.ID, strings.Join(m.Patterns, ", "))
			}
			return nil
		},
	}
}

func newHistoryCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var since time.Duration
	var extID, kind string
	var limit int
	var summary bool
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded extension changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if summary && (extID != "" || kind != "") {
				return fmt.Errorf("HIST_QUERY: --summary cannot be combined with --ext or --kind")
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			if summary {
				return printSummaries(svc, from, limit, *jsonOutput)
			}
			f := history.Filter{Since: from, ExtensionID: extID, Kind: history.Kind(kind), Limit: limit}
			events, err := svc.HistoryQuery(f)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, events, "")
			}
			if len(events) == 0 {
				fmt.Println("no changes recorded")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s %-11s %s", e.Timestamp.Format(time.RFC3339), e.Kind, e.ExtensionID)
				if e.FromVersion != "" || e.ToVersion != "" {
					line += fmt.Sprintf(" %s -> %s", e.FromVersion, e.ToVersion)
				}
				if len(e.Added) > 0 {
					line += " +" + strings.Join(e.Added, ",")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	historyCmd.Flags().DurationVar(&since, "since", 0, "only show changes newer than this (e.g. 24h)")
	historyCmd.Flags().StringVar(&extID, "ext", "", "filter by extension id")
	historyCmd.Flags().StringVar(&kind, "kind", "", "filter by change kind")
	historyCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events")
	historyCmd.Flags().BoolVar(&summary, "summary", false, "aggregate changes per extension")

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop changes older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("HIST_TRUNCATE: --older-than is required")
			}
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			n, err := svc.PruneHistory(time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			return print(*jsonOutput, map[string]int{"removed": n}, fmt.Sprintf("removed %d events", n))
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff (e.g. 720h)")
	historyCmd.AddCommand(pruneCmd)
	return historyCmd
}

func printSummaries(svc *app.Service, since time.Time, limit int, jsonOutput bool) error {
	sums, err := svc.HistorySummary(since, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return print(true, sums, "")
	}
	if len(sums) == 0 {
		fmt.Println("no changes recorded")
		return nil
	}
	for _, s := range sums {
		name := s.Name
		if name == "" {
			name = s.ExtensionID
		}
		fmt.Printf("%s %-32s %3d changes %3d updates  %s\n", s.LastChange.Format(time.RFC3339), s.ExtensionID, s.Changes, s.Updates, name)
	}
	return nil
}

func newAlertsCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alerts from the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			alerts, err := svc.Alerts(limit)
			if err != nil {
				return err
			}
			if *jsonOutput {
				return print(true, alerts, "")
			}
			if len(alerts) == 0 {
				fmt.Println("no alerts")
				return nil
			}
			for _, a := range alerts {
				fmt.Printf("%s [%s] %s: %s\n", a.Timestamp, a.Priority, a.Title, a.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of alerts")
	return cmd
}

func newSourceCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	sourceCmd := &cobra.Command{Use: "source", Aliases: []string{"src"}, Short: "Show or change the extension source"}
	sourceCmd.RunE = func(cmd *cobra.Command, args []string) error {
		svc, err := newSvc()
		if err != nil {
			return err
		}
		defer svc.Close()
		src := svc.Config.Source
		return print(*jsonOutput, src, fmt.Sprintf("source kind=%s path=%s", src.Kind, src.Path))
	}
	setCmd := &cobra.Command{
		Use:   "set <inventory|profile> <path>",
		Short: "Point navext at an inventory file or browser profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			src, err := svc.SetSource(args[0], args[1])
			if err != nil {
				return err
			}
			return print(*jsonOutput, src, fmt.Sprintf("source set to %s %s", src.Kind, src.Path))
		},
	}
	sourceCmd.AddCommand(setCmd)
	return sourceCmd
}

func newScheduleCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	run := func(action, interval string) error {
		svc, err := newSvc()
		if err != nil {
			return err
		}
		defer svc.Close()
		scanCfg, res, err := svc.Schedule(context.Background(), action, interval)
		if err != nil {
			return err
		}
		payload := map[string]any{"scan": scanCfg, "scheduler": res}
		msg := fmt.Sprintf("schedule mode=%s interval=%s backend=%s installed=%t", scanCfg.Mode, scanCfg.Interval, res.Backend, res.Installed)
		if err := print(*jsonOutput, payload, msg); err != nil {
			return err
		}
		if !*jsonOutput {
			for _, n := range res.Notes {
				fmt.Println("note: " + n)
			}
		}
		return nil
	}

	scheduleCmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sched", "timer"},
		Short:   "Manage the periodic check timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run("list", "")
		},
	}
	var interval string
	installCmd := &cobra.Command{
		Use:     "install [interval]",
		Aliases: []string{"enable", "on"},
		Short:   "Install a system timer that runs navext check",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iv := interval
			if len(args) == 1 {
				if iv != "" && iv != args[0] {
					return fmt.Errorf("SCAN_SCHEDULE_INTERVAL: use either positional interval or --interval")
				}
				iv = args[0]
			}
			return run("install", iv)
		},
	}
	installCmd.Flags().StringVar(&interval, "interval", "", "check interval (e.g. 60m)")
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "status"},
		Short:   "Show the timer state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run("list", "")
		},
	}
	removeCmd := &cobra.Command{
		Use:     "remove",
		Aliases: []string{"rm", "off", "disable"},
		Short:   "Remove the system timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run("remove", "")
		},
	}
	scheduleCmd.AddCommand(installCmd, listCmd, removeCmd)
	return scheduleCmd
}

func newDoctorCmd(newSvc serviceFactory, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag", "checkup"},
		Short:   "Run diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSvc()
			if err != nil {
				return err
			}
			defer svc.Close()
			report := svc.DoctorRun(context.Background())
			if *jsonOutput {
				return print(true, report, "")
			}
			if len(report.Findings) == 0 {
				fmt.Printf("healthy (%d extensions)\n", report.Extensions)
				return nil
			}
			if report.Healthy {
				fmt.Printf("healthy (%d extensions) with notes:\n", report.Extensions)
			} else {
				fmt.Println("issues found:")
			}
			for _, f := range report.Findings {
				fmt.Printf("- [%s] %s: %s\n", f.Level, f.Code, f.Message)
			}
			return nil
		},
	}
}

func print(jsonOutput bool, payload any, message string) error {
	if jsonOutput {
		blob, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	}
	if message != "" {
		fmt.Println(message)
	}
	return nil
}
