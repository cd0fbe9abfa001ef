package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"socialpulse/internal/analytics"
	"socialpulse/internal/api"
	"socialpulse/internal/cmdlog"
	"socialpulse/internal/config"
	"socialpulse/internal/logging"
	"socialpulse/internal/model"
	"socialpulse/internal/orchestrator"
	"socialpulse/internal/theme"
)

const defaultConfigPath = "./socialpulse.yaml"

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	var err error
	switch cmd {
	case "init":
		err = cmdlog.Run(cmd, func() error { return cmdInit(os.Args[2:]) })
	case "run":
		err = cmdlog.Run(cmd, func() error { return cmdRun(os.Args[2:]) })
	case "scan":
		err = cmdlog.Run(cmd, func() error { return cmdScan(os.Args[2:]) })
	case "latest":
		err = cmdlog.Run(cmd, func() error { return cmdLatest(os.Args[2:]) })
	case "history":
		err = cmdlog.Run(cmd, func() error { return cmdHistory(os.Args[2:]) })
	default:
		printHelp()
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printHelp() {
	theme.PrintBanner(os.Stdout)
	fmt.Println("Usage: socialpulse <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init        Create a config file at ./socialpulse.yaml")
	fmt.Println("  run         Poll every target until interrupted, serving the read API")
	fmt.Println("  scan        Poll every target once and exit")
	fmt.Println("  latest      Show the latest snapshot of one account")
	fmt.Println("  history     Show snapshot history and daily growth of one account")
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "path to write config")
	_ = fs.Parse(args)
	if err := config.Save(*path, config.Default()); err != nil {
		return err
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner(os.Stdout)
	fmt.Println("Config written to:", abs)
	return nil
}

// targetsFrom returns the -target flags if any, otherwise the configured targets.
func targetsFrom(cfg config.Config, extra []string) ([]model.Target, error) {
	if len(extra) == 0 {
		return cfg.ModelTargets(), nil
	}
	out := make([]model.Target, 0, len(extra))
	for _, s := range extra {
		t, ok := model.ParseTarget(s)
		if !ok {
			return nil, fmt.Errorf("bad target %q, want platform:handle", s)
		}
		t.Interval = cfg.Polling.Interval
		out = append(out, t)
	}
	return out, nil
}

type multiFlag []string

func (m *multiFlag) String() string     { return fmt.Sprint(*m) }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	addr := fs.String("addr", "", "read API listen address (overrides server.addr; \"off\" disables)")
	var extra multiFlag
	fs.Var(&extra, "target", "platform:handle to poll instead of the configured targets (repeatable)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	targets, err := targetsFrom(cfg, extra)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	eng, err := buildEngine(ctx, cfg, targets)
	if err != nil {
		return err
	}
	defer eng.close()

	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	var srv *api.Server
	if listen != "" && listen != "off" {
		srv = api.NewServer(listen, eng.store)
		go func() {
			if err := srv.Start(); err != nil {
				logging.Error("api_failed", map[string]any{"error": err.Error()})
			}
		}()
	}

	theme.PrintBanner(os.Stderr)
	eng.orch.OnFailure = func(f orchestrator.Failure) {
		fmt.Fprintf(os.Stderr, "stopped %s: %v\n", f.Target, f.Err)
	}
	rep := eng.orch.Run(ctx, targets)

	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logging.Warn("api_shutdown_failed", map[string]any{"error": err.Error()})
		}
	}
	if n := len(rep.Failures); n > 0 {
		fmt.Fprintf(os.Stderr, "%d target(s) stopped early\n", n)
	}
	// Failed targets do not fail the process; an interrupted run is a clean exit.
	return nil
}

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", defaultConfigPath, "config path")
	concurrency := fs.Int("concurrency", 0, "max targets scanned at once (0 = all)")
	var extra multiFlag
	fs.Var(&extra, "target", "platform:handle to scan instead of the configured targets (repeatable)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	targets, err := targetsFrom(cfg, extra)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	eng, err := buildEngine(ctx, cfg, targets)
	if err != nil {
		return err
	}
	defer eng.close()
	eng.orch.Concurrency = *concurrency

	rep := eng.orch.ScanOnce(ctx, targets)
	for _, t := range targets {
		if snap, ok := rep.Snapshots[t.Key()]; ok {
			fmt.Printf("%-24s followers=%d growth=%+d engagement=%.2f%% impressions=%d\n",
				t.String(), snap.FollowerCount, snap.FollowerGrowth, snap.EngagementRate, snap.Impressions)
		}
	}
	for _, f := range rep.Failures {
		fmt.Printf("%-24s FAILED: %v\n", f.Target, f.Err)
	}
	return rep.Err()
}

// accountArgs parses the flags shared by latest and history.
func accountArgs(name string, args []string, withLimit bool) (cfgPath string, target model.Target, limit int, err error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPathF := fs.String("config", defaultConfigPath, "config path")
	targetF := fs.String("target", "", "platform:handle or platform:external_id")
	var limitF *int
	if withLimit {
		limitF = fs.Int("limit", 30, "snapshots to show (0 = all)")
	}
	_ = fs.Parse(args)
	if *targetF == "" && fs.NArg() > 0 {
		*targetF = fs.Arg(0)
	}
	t, ok := model.ParseTarget(*targetF)
	if !ok {
		return "", model.Target{}, 0, errors.New("usage: socialpulse " + name + " -target platform:handle")
	}
	if limitF != nil {
		limit = *limitF
	}
	return *cfgPathF, t, limit, nil
}

func cmdLatest(args []string) error {
	cfgPath, t, _, err := accountArgs("latest", args, false)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	acct, found, err := st.FindAccount(ctx, t.Platform, t.Handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s is not tracked yet", t)
	}
	snap, found, err := st.LatestSnapshot(ctx, acct.ID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s has no snapshots yet", t)
	}
	fmt.Printf("%s:%s (id %s)\n", acct.Platform, acct.Handle, acct.ExternalID)
	fmt.Printf("  at          %s\n", snap.Timestamp.Format(time.RFC3339))
	fmt.Printf("  followers   %d (%+d)\n", snap.FollowerCount, snap.FollowerGrowth)
	fmt.Printf("  impressions %d\n", snap.Impressions)
	fmt.Printf("  engagement  %.2f%%\n", snap.EngagementRate)
	fmt.Printf("  reposts     %d  mentions %d  link clicks %d  profile visits %d\n",
		snap.Reposts, snap.Mentions, snap.LinkClicks, snap.ProfileVisits)
	return nil
}

func cmdHistory(args []string) error {
	cfgPath, t, limit, err := accountArgs("history", args, true)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	acct, found, err := st.FindAccount(ctx, t.Platform, t.Handle)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s is not tracked yet", t)
	}
	snaps, err := st.Snapshots(ctx, acct.ID, limit)
	if err != nil {
		return err
	}
	for _, s := range snaps {
		fmt.Printf("%s followers=%d growth=%+d engagement=%.2f%%\n",
			s.Timestamp.Format(time.RFC3339), s.FollowerCount, s.FollowerGrowth, s.EngagementRate)
	}
	if sum, ok := analytics.Summarize(snaps); ok {
		fmt.Printf("net %+d followers from %s to %s, avg engagement %.2f%%, peak %.2f%%\n",
			sum.NetGrowth, sum.From.Format(time.DateOnly), sum.To.Format(time.DateOnly),
			sum.AvgEngagementRate, sum.PeakEngagementRate)
	}
	buckets := analytics.DailyGrowth(snaps)
	for _, day := range analytics.SortedBucketKeys(buckets) {
		fmt.Printf("  %s %+d\n", day.Format(time.DateOnly), buckets[day])
	}
	return nil
}
