// Package monitor owns the single-consumer event queue that serializes
// every state-changing operation.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"navext/internal/audit"
	"navext/internal/changes"
	"navext/internal/history"
	"navext/internal/inventory"
	"navext/internal/notify"
	"navext/internal/risk"
	"navext/internal/store"
)

const (
	DefaultInterval = 60 * time.Minute
	DefaultDebounce = 2 * time.Second
	queueSize       = 64
)

type Options struct {
	Store    *store.Store
	Scanner  *inventory.Scanner
	Detector *changes.Detector
	Engine   *risk.Engine
	Signals  *Signals
	History  *history.Log
	Audit    *audit.Logger
	Sink     notify.Sink
	Logger   *slog.Logger
	SelfID   string

	// Interval is the periodic alarm period; zero means DefaultInterval.
	Interval time.Duration
	// WatchPath, when set, triggers a rescan on filesystem changes.
	WatchPath string
	Debounce  time.Duration
}

type request struct {
	ctx   context.Context
	event Event
	reply chan reply
}

type reply struct {
	result Result
	err    error
}

type Service struct {
	opts   Options
	logger *slog.Logger
	queue  chan request

	// handleMu serializes Handle between the queue consumer and direct
	// one-shot callers.
	handleMu sync.Mutex
	running  sync.Mutex
}

func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Engine == nil {
		opts.Engine = risk.NewEngine(risk.Options{})
	}
	if opts.Detector == nil {
		opts.Detector = changes.NewDetector(opts.Engine)
	}
	return &Service{opts: opts, logger: opts.Logger, queue: make(chan request, queueSize)}
}

// Submit enqueues ev and waits for its result. It blocks until Run picks the
// event up or ctx is done.
func (s *Service) Submit(ctx context.Context, ev Event) (Result, error) {
	req := request{ctx: ctx, event: ev, reply: make(chan reply, 1)}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run consumes the queue, fires the periodic alarm and, when configured,
// watches the source path. It returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.TryLock() {
		return fmt.Errorf("MON_RUN: already running")
	}
	defer s.running.Unlock()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	var rescans <-chan struct{}
	if s.opts.WatchPath != "" {
		w, err := newWatcher(s.opts.WatchPath, s.opts.Debounce, s.logger)
		if err != nil {
			s.logger.Warn("source watcher disabled", "path", s.opts.WatchPath, "err", err)
		} else {
			defer w.Close()
			go w.run(ctx)
			rescans = w.triggers
		}
	}

	s.logger.Info("monitor started", "interval", s.opts.Interval.String(), "watch", s.opts.WatchPath)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor stopped")
			return nil
		case req := <-s.queue:
			if err := req.ctx.Err(); err != nil {
				req.reply <- reply{err: err}
				continue
			}
			res, err := s.Handle(req.ctx, req.event)
			req.reply <- reply{result: res, err: err}
		case <-ticker.C:
			s.handleBackground(ctx, Event{Kind: KindAlarm, Origin: "timer"})
		case <-rescans:
			s.handleBackground(ctx, Event{Kind: KindRescan, Origin: "watcher"})
		}
	}
}

func (s *Service) handleBackground(ctx context.Context, ev Event) {
	if _, err := s.Handle(ctx, ev); err != nil {
		s.logger.Error("background event failed", "kind", ev.Kind, "err", err)
	}
}

// Handle processes one event to completion. Panics are recovered and
// returned as errors.
func (s *Service) Handle(ctx context.Context, ev Event) (res Result, err error) {
	s.handleMu.Lock()
	defer s.handleMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("MON_HANDLER_PANIC: %s: %v", ev.Kind, r)
		}
		s.record(ev, err)
	}()

	res = Result{Kind: ev.Kind, Notifications: []notify.Notification{}}
	switch ev.Kind {
	case KindInitialize:
		err = s.initialize(ctx, &res)
	case KindInstalled:
		err = s.installed(ctx, ev, &res)
	case KindUninstalled:
		err = s.uninstalled(ctx, ev, &res)
	case KindEnabled:
		err = s.enabled(ctx, ev, &res)
	case KindAlarm, KindRescan:
		err = s.reconcile(ctx, ev, &res)
	case KindMessage:
		err = s.message(ctx, ev, &res)
	case KindScan:
		err = s.scan(ctx, &res)
	default:
		err = fmt.Errorf("MON_EVENT: unknown event kind %q", ev.Kind)
	}
	if err != nil {
		return res, err
	}
	notify.Send(ctx, s.opts.Sink, s.logger, res.Notifications...)
	return res, nil
}

func (s *Service) record(ev Event, err error) {
	entry := audit.Event{Operation: string(ev.Kind), Status: "ok", ExtensionID: ev.ExtensionID}
	if ev.Record.ID != "" {
		entry.ExtensionID = ev.Record.ID
	}
	if ev.Origin != "" {
		entry.Fields = map[string]string{"origin": ev.Origin}
	}
	if err != nil {
		entry.Status = "error"
		entry.Message = err.Error()
		s.logger.Warn("event failed", "kind", ev.Kind, "err", err)
	} else {
		s.logger.Debug("event handled", "kind", ev.Kind, "extension", entry.ExtensionID)
	}
	if logErr := s.opts.Audit.Log(entry); logErr != nil {
		s.logger.Warn("audit write failed", "err", logErr)
	}
}

// tolerate logs storage failures and swallows them; memory stays
// authoritative and a later write reconciles. Other errors pass through.
func (s *Service) tolerate(err error) error {
	var sf *store.StorageFailure
	if errors.As(err, &sf) {
		s.logger.Warn("state not persisted", "key", sf.Key, "err", sf.Err)
		return nil
	}
	return err
}

func (s *Service) signals(id string) risk.BehaviorSignals {
	return s.opts.Signals.For(id)
}

func (s *Service) appendHistory(events ...history.Event) {
	if err := s.opts.History.Append(events...); err != nil {
		s.logger.Warn("history append failed", "err", err)
	}
}
