package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"navext/internal/api"
	"navext/internal/audit"
	"navext/internal/changes"
	"navext/internal/config"
	"navext/internal/doctor"
	"navext/internal/history"
	"navext/internal/inventory"
	"navext/internal/kv"
	"navext/internal/monitor"
	"navext/internal/notify"
	"navext/internal/risk"
	"navext/internal/scheduler"
	"navext/internal/source"
	storepkg "navext/internal/store"
)

type Options struct {
	ConfigPath string
	// LogOutput receives structured logs; nil means stderr.
	LogOutput io.Writer
	// Sink overrides the configured notification sinks.
	Sink notify.Sink
}

type Service struct {
	ConfigPath string
	// Config is the document on disk; environment overrides are applied
	// only to the wiring built in New.
	Config     config.Config
	StateRoot  string
	Logger     *slog.Logger

	Backend   kv.Backend
	Store     *storepkg.Store
	History   *history.Log
	Audit     *audit.Logger
	Engine    *risk.Engine
	Scanner   *inventory.Scanner
	Detector  *changes.Detector
	Signals   *monitor.Signals
	Sink      notify.Sink
	Monitor   *monitor.Service
	Doctor    *doctor.Service
	Scheduler *scheduler.Manager

	listen string
}

func New(ctx context.Context, opts Options) (*Service, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	fileCfg, err := config.Ensure(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.ApplyEnv(fileCfg)
	if err != nil {
		return nil, err
	}
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := NewLogger(cfg.Logging, out)

	stateRoot, err := config.ResolveStorageRoot(cfg)
	if err != nil {
		return nil, err
	}
	if err := storepkg.EnsureLayout(stateRoot); err != nil {
		return nil, err
	}
	backend, err := kv.Open(cfg.Storage.Backend, storepkg.BackendPath(cfg.Storage.Backend, stateRoot))
	if err != nil {
		return nil, err
	}
	st := storepkg.New(backend, logger)
	if err := st.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	trail := audit.New(storepkg.AuditPath(stateRoot))
	hist := history.New(storepkg.HistoryPath(stateRoot))

	sink := opts.Sink
	if sink == nil {
		sink, err = notify.Build(cfg.Notify.Sinks, cfg.Notify.Command, logger, trail)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}

	sourcePath, err := config.ResolveSourcePath(cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	src, err := source.Open(cfg.Source.Kind, sourcePath, source.Options{TrustedUpdateDomain: cfg.Scan.TrustedUpdateDomain})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	engine := risk.NewEngine(risk.Options{
		TrustedUpdateDomain:   cfg.Scan.TrustedUpdateDomain,
		RecentUpdateWeight:    cfg.Scoring.RecentUpdateWeight,
		ExternalMessageWeight: cfg.Scoring.ExternalMessageWeight,
	})
	signals := &monitor.Signals{History: hist, Store: st, Window: config.RecentWindow(cfg)}
	scanner := &inventory.Scanner{
		Source:          src,
		Engine:          engine,
		SelfID:          cfg.Self.ID,
		SelfPermissions: cfg.Self.Permissions,
		BatchSignals:    signals.Batch,
	}
	detector := changes.NewDetector(engine)
	detector.Signals = signals.For

	mon := monitor.New(monitor.Options{
		Store:     st,
		Scanner:   scanner,
		Detector:  detector,
		Engine:    engine,
		Signals:   signals,
		History:   hist,
		Audit:     trail,
		Sink:      sink,
		Logger:    logger,
		SelfID:    cfg.Self.ID,
		Interval:  config.ScanInterval(cfg),
		WatchPath: source.WatchPath(cfg.Source.Kind, sourcePath),
	})

	return &Service{
		ConfigPath: configPath,
		Config:     fileCfg,
		StateRoot:  stateRoot,
		Logger:     logger,
		Backend:    backend,
		Store:      st,
		History:    hist,
		Audit:      trail,
		Engine:     engine,
		Scanner:    scanner,
		Detector:   detector,
		Signals:    signals,
		Sink:       sink,
		Monitor:    mon,
		Doctor:     &doctor.Service{ConfigPath: configPath},
		Scheduler:  scheduler.New(configPath),
		listen:     cfg.Server.Listen,
	}, nil
}

// NewLogger builds the process logger from the [logging] table.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func (s *Service) Close() error {
	if s.Backend == nil {
		return nil
	}
	flushErr := s.Store.Flush(context.Background())
	closeErr := s.Backend.Close()
	s.Backend = nil
	return errors.Join(flushErr, closeErr)
}

func (s *Service) SaveConfig() error {
	return config.Save(s.ConfigPath, s.Config)
}

// SetSource repoints the enumerator. It takes effect on the next start.
func (s *Service) SetSource(kind, path string) (config.SourceConfig, error) {
	if err := config.SetSource(&s.Config, kind, path); err != nil {
		return config.SourceConfig{}, err
	}
	if err := s.SaveConfig(); err != nil {
		return config.SourceConfig{}, err
	}
	return s.Config.Source, nil
}

// Initialize records every enumerated extension as the new baseline.
func (s *Service) Initialize(ctx context.Context) (monitor.Result, error) {
	return s.Monitor.Handle(ctx, monitor.Event{Kind: monitor.KindInitialize, Origin: "cli"})
}

func (s *Service) Scan(ctx context.Context) (inventory.Report, error) {
	res, err := s.Monitor.Handle(ctx, monitor.Event{Kind: monitor.KindScan, Origin: "cli"})
	if err != nil {
		return inventory.Report{}, err
	}
	return *res.Scan, nil
}

// Check runs one periodic comparison. With no stored baseline it seeds one
// instead, so the first run does not report everything as new.
func (s *Service) Check(ctx context.Context) (monitor.Result, error) {
	s.refresh(ctx)
	if len(s.Store.ListAll()) == 0 {
		return s.Initialize(ctx)
	}
	return s.Monitor.Handle(ctx, monitor.Event{Kind: monitor.KindAlarm, Origin: "check"})
}

// Watch runs the monitor loop until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	s.refresh(ctx)
	if len(s.Store.ListAll()) == 0 {
		if _, err := s.Initialize(ctx); err != nil {
			return err
		}
	}
	return s.Monitor.Run(ctx)
}

// Serve runs the monitor loop and the HTTP API until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, listen string) error {
	if listen == "" {
		listen = s.listen
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monErr := make(chan error, 1)
	go func() { monErr <- s.Watch(ctx) }()

	srv := &http.Server{
		Addr:              listen,
		Handler:           api.New(s.Monitor, s.Store, s.Audit, s.Logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		s.Logger.Info("api listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("API_SERVE: %w", err)
			return
		}
		srvErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		cancel()
		<-monErr
		return err
	case err := <-monErr:
		cancel()
		_ = srv.Close()
		return err
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	err := srv.Shutdown(shutdownCtx)
	return errors.Join(err, <-monErr)
}

// refresh reloads state another navext process may have written since this
// one started.
func (s *Service) refresh(ctx context.Context) {
	if err := s.Store.Refresh(ctx); err != nil {
		s.Logger.Warn("state refresh failed; using in-memory copy", "err", err)
	}
}

func (s *Service) States() []storepkg.StateEntry {
	s.refresh(context.Background())
	return s.Store.ListAll()
}

func (s *Service) Communications(sender string) []storepkg.CommunicationEntry {
	s.refresh(context.Background())
	return s.Store.ListCommunications(sender)
}

// RecordMessage logs a message received from another extension.
func (s *Service) RecordMessage(ctx context.Context, sender string, message json.RawMessage) (storepkg.CommunicationEntry, error) {
	res, err := s.Monitor.Handle(ctx, monitor.Event{Kind: monitor.KindMessage, Sender: sender, Message: message, Origin: "cli"})
	if err != nil {
		return storepkg.CommunicationEntry{}, err
	}
	return *res.Entry, nil
}

func (s *Service) Access(target string) []api.AccessMatch {
	s.refresh(context.Background())
	return api.MatchAccess(s.Store.ListAll(), target)
}

func (s *Service) HistoryQuery(f history.Filter) ([]history.Event, error) {
	return s.History.Query(f)
}

// HistorySummary aggregates changes since the given time per extension,
// most recently changed first. limit <= 0 returns every extension.
func (s *Service) HistorySummary(since time.Time, limit int) ([]history.Summary, error) {
	out, err := s.History.Summaries(since)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneHistory drops change events older than before.
func (s *Service) PruneHistory(before time.Time) (int, error) {
	return s.History.Truncate(before)
}

func (s *Service) Alerts(n int) ([]audit.Event, error) {
	return s.Audit.Alerts(n)
}

func (s *Service) Schedule(ctx context.Context, action, interval string) (config.ScanConfig, scheduler.Result, error) {
	var (
		res     scheduler.Result
		err     error
		persist bool
	)
	switch action {
	case "install":
		if interval == "" {
			interval = s.Config.Scan.Interval
		}
		if res, err = s.Scheduler.Install(ctx, interval); err != nil {
			return config.ScanConfig{}, res, err
		}
		err = config.SetScanSchedule(&s.Config, config.DefaultScanModeSystem, res.Interval)
		persist = true
	case "remove":
		if res, err = s.Scheduler.Remove(ctx); err != nil {
			return config.ScanConfig{}, res, err
		}
		err = config.SetScanSchedule(&s.Config, config.DefaultScanModeOff, "")
		persist = true
	case "list", "":
		res, err = s.Scheduler.List()
	default:
		err = fmt.Errorf("SCAN_SCHEDULE: unsupported action %q", action)
	}
	if err != nil {
		return config.ScanConfig{}, res, err
	}
	if persist {
		if err := s.SaveConfig(); err != nil {
			return config.ScanConfig{}, res, err
		}
	}
	return s.Config.Scan, res, nil
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(ctx)
}
