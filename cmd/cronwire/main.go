package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"cronwire/internal/app"
	"cronwire/internal/config"
)

func main() {
	var (
		cfgPath  string
		validate bool
		previewN int
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")
	flag.BoolVar(&validate, "validate", false, "validate config, print upcoming fire times and exit")
	flag.IntVar(&previewN, "n", 3, "fire times per job printed by -validate")
	flag.Parse()

	if validate {
		if err := runValidate(cfgPath, previewN); err != nil {
			fmt.Fprintln(os.Stderr, "invalid config:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	if err := a.Stop(context.Background(), reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
		os.Exit(1)
	}
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runValidate(path string, n int) error {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return err
	}
	previews, warnings, err := app.Preview(cfg, time.Now(), n)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tTRIGGER\tCRON\tZONE\tNEXT")
	for _, p := range previews {
		next := "never"
		if len(p.Next) > 0 {
			next = p.Next[0].Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Job, p.Trigger, p.Cron, p.Location, next)
		for _, t := range p.Next[min(1, len(p.Next)):] {
			fmt.Fprintf(tw, "\t\t\t\t%s\n", t.Format(time.RFC3339))
		}
	}
	return tw.Flush()
}
