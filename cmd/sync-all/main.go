package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	service "github.com/okian/badgeboard/internal/app"
	"github.com/okian/badgeboard/internal/bootstrap"
	"github.com/okian/badgeboard/internal/config"
	"github.com/okian/badgeboard/pkg/logger"
)

const defaultRunTimeout = 30 * time.Minute

// Exit codes.
const (
	exitOK       = 0
	exitSetup    = 1
	exitFailures = 2
)

type failureLine struct {
	Username string `json:"username"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

type reportLine struct {
	RunID    string        `json:"run_id"`
	Synced   []string      `json:"synced"`
	NoScore  []string      `json:"no_score"`
	Failures []failureLine `json:"failures"`
	Duration string        `json:"duration"`
}

func main() {
	var (
		username = flag.String("user", "", "Sync a single user instead of every stored credential")
		timeout  = flag.Duration("timeout", defaultRunTimeout, "Upper bound for the whole run")
		strict   = flag.Bool("strict", false, "Exit non-zero when any user fails to sync")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(exitSetup)
	}
	if err := logger.Init(logger.WithJSON(cfg.LogJSON), logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(exitSetup)
	}
	_ = logger.SetLevelString(cfg.LogLevel)

	os.Exit(run(ctx, cfg, *username, *strict, os.Stdout))
}

// run executes one sync pass and writes the JSON report to out.
func run(ctx context.Context, cfg *config.Config, username string, strict bool, out io.Writer) int {
	log := logger.Get().Named("sync-all")

	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return exitSetup
	}
	defer func() { _ = app.Close() }()

	var report service.BatchReport
	if username != "" {
		report, err = syncOne(ctx, app.Service, username)
	} else {
		report, err = app.Service.SyncAllUsers(ctx)
	}
	if err != nil {
		log.Error(ctx, "sync run failed", logger.Error(err))
		return exitSetup
	}

	if err := json.NewEncoder(out).Encode(toReportLine(report)); err != nil {
		log.Error(ctx, "write report failed", logger.Error(err))
		return exitSetup
	}
	if strict && len(report.Failures) > 0 {
		return exitFailures
	}
	return exitOK
}

func syncOne(ctx context.Context, svc *service.Service, username string) (service.BatchReport, error) {
	report := service.BatchReport{StartedAt: time.Now().UTC()}
	res, err := svc.SyncUser(ctx, username)
	switch {
	case err != nil:
		report.Failures = append(report.Failures, service.SyncFailure{Username: username, Err: err})
	case res.Outcome == service.OutcomeNoScore:
		report.NoScore = append(report.NoScore, username)
	default:
		report.Synced = append(report.Synced, res)
	}
	report.Duration = time.Since(report.StartedAt)
	return report, nil
}

func toReportLine(r service.BatchReport) reportLine {
	line := reportLine{
		RunID:    r.RunID,
		Synced:   make([]string, 0, len(r.Synced)),
		NoScore:  append([]string{}, r.NoScore...),
		Failures: make([]failureLine, 0, len(r.Failures)),
		Duration: r.Duration.String(),
	}
	for _, s := range r.Synced {
		line.Synced = append(line.Synced, s.Username)
	}
	for _, f := range r.Failures {
		line.Failures = append(line.Failures, failureLine{
			Username: f.Username,
			Kind:     service.ErrorKind(f.Err),
			Error:    f.Err.Error(),
		})
	}
	return line
}
