// Package service assembles the herald server: a hub of named controllers,
// the debug HTTP API, the deferred-task loop, the watched-file source and the
// notification journal, all running under one supervisor.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thejerf/suture/v4"

	"github.com/vango-dev/herald/internal/config"
	herrors "github.com/vango-dev/herald/internal/errors"
	"github.com/vango-dev/herald/internal/supervise"
	"github.com/vango-dev/herald/pkg/debugapi"
	"github.com/vango-dev/herald/pkg/filesource"
	"github.com/vango-dev/herald/pkg/journal"
	"github.com/vango-dev/herald/pkg/notify"
	"github.com/vango-dev/herald/pkg/telemetry"
	"github.com/vango-dev/herald/pkg/watch"
)

// FilesController is the name of the controller publishing file changes.
const FilesController = "files"

// Options configures a Server.
type Options struct {
	// Config is the loaded configuration.
	Config *config.Config

	// Version is reported by the API document.
	Version string

	// Logger is the root logger. Default: slog.Default().
	Logger *slog.Logger

	// Registry receives the Prometheus collectors. Default: a fresh registry
	// with the Go and process collectors.
	Registry *prometheus.Registry

	// JournalSink overrides the sink chosen from Config.Journal.
	JournalSink journal.Sink

	// JournalOutput receives journal lines when neither S3 nor a file is
	// configured. Default: os.Stdout.
	JournalOutput io.Writer

	// Listener, when set, is used instead of listening on Config.Server.Addr.
	Listener net.Listener
}

// Server is an assembled herald service.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	observer notify.Observer

	hub     *debugapi.Hub
	watches *watch.Registry
	api     *debugapi.Server
	loop    *notify.Loop
	files   *filesource.Source
	journal *journal.Journal

	// sinkCloser closes a journal sink opened by the server.
	sinkCloser io.Closer

	listener net.Listener
	http     *http.Server

	mu       sync.Mutex
	attached map[string]func()
}

// New builds the server without starting anything.
func New(options Options) (_ *Server, err error) {
	cfg := options.Config
	if cfg == nil {
		cfg = config.New()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := options.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	metricsOpts := []telemetry.MetricsOption{
		telemetry.WithNamespace(cfg.Metrics.Namespace),
		telemetry.WithRegistry(registry),
	}
	if cfg.Metrics.Subsystem != "" {
		metricsOpts = append(metricsOpts, telemetry.WithSubsystem(cfg.Metrics.Subsystem))
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		registry: registry,
		observer: notify.Observers(telemetry.NewMetrics(metricsOpts...), telemetry.NewTracer()),
		hub:      debugapi.NewHub(),
		watches:  watch.NewRegistry(),
		loop:     notify.NewLoop(logger.With("component", "loop")),
		listener: options.Listener,
		attached: make(map[string]func()),
	}

	if cfg.Journal.Enabled {
		sink := options.JournalSink
		if sink == nil {
			sink, err = newJournalSink(cfg.Journal, options.JournalOutput)
			if err != nil {
				return nil, err
			}
			if c, ok := sink.(io.Closer); ok {
				s.sinkCloser = c
				defer func() {
					if err != nil {
						c.Close()
					}
				}()
			}
		}
		s.journal = journal.New(sink,
			journal.WithCapacity(cfg.Journal.Capacity),
			journal.WithInterval(cfg.Journal.Interval),
			journal.WithLogger(logger.With("component", "journal")),
		)
	}

	for _, ctrl := range cfg.Controllers {
		if _, err := s.AddController(ctrl.Name, ctrl.Description); err != nil {
			return nil, err
		}
	}

	if paths := s.watchPaths(); len(paths) > 0 {
		files, err := filesource.New(
			filesource.WithName(FilesController),
			filesource.WithDebounce(cfg.Watch.Debounce),
			filesource.WithLogger(logger.With("component", "files")),
			filesource.WithNotifyOptions(notify.WithObserver(s.observer), notify.WithScheduler(s.loop)),
		)
		if err != nil {
			return nil, herrors.New("H401").Wrap(err)
		}
		for _, p := range paths {
			if err := files.Add(p); err != nil {
				files.Close()
				return nil, herrors.New("H401").Wrap(err)
			}
		}
		if err := s.register(files.Controller, "watched files"); err != nil {
			files.Close()
			return nil, err
		}
		if path := cfg.Path(); path != "" {
			files.AddListener(notify.Func(s.reloadConfig), notify.Key(files.Key(path)))
		}
		s.files = files
	}

	s.api = debugapi.New(s.hub, debugapi.Config{
		Title:          "Herald",
		Version:        options.Version,
		Gatherer:       registry,
		Registry:       s.watches,
		Logger:         logger.With("component", "http"),
		AllowAnyOrigin: cfg.Server.AllowAnyOrigin,
	})
	s.http = &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: s.api,
	}
	return s, nil
}

// AddController creates a controller observed by the server's metrics and
// tracer, registers it in the hub and attaches the journal.
func (s *Server) AddController(name, description string) (*notify.Controller, error) {
	ctrl := notify.New(
		notify.WithName(name),
		notify.WithLogger(s.logger),
		notify.WithObserver(s.observer),
		notify.WithScheduler(s.loop),
	)
	if err := s.register(ctrl, description); err != nil {
		ctrl.Dispose()
		return nil, err
	}
	return ctrl, nil
}

func (s *Server) register(ctrl *notify.Controller, description string) error {
	if err := s.hub.Register(ctrl, description); err != nil {
		if errors.Is(err, debugapi.ErrDuplicateName) {
			return herrors.New("H200").WithDetail(fmt.Sprintf("Controller %q is already registered.", ctrl.Name()))
		}
		return err
	}
	if s.journal != nil {
		detach := s.journal.Attach(ctrl)
		s.mu.Lock()
		s.attached[ctrl.Name()] = detach
		s.mu.Unlock()
		ctrl.OnDispose(func() {
			s.mu.Lock()
			delete(s.attached, ctrl.Name())
			s.mu.Unlock()
		})
	}
	s.logger.Debug("Controller registered", slog.String("controller", ctrl.Name()))
	return nil
}

func (s *Server) watchPaths() []string {
	paths := s.config.WatchPaths()
	if path := s.config.Path(); path != "" {
		for _, p := range paths {
			if p == path {
				return paths
			}
		}
		paths = append(paths, path)
	}
	return paths
}

// reloadConfig registers controllers newly declared in the config file.
// Removed declarations are left running.
func (s *Server) reloadConfig() {
	cfg, err := config.LoadFile(s.config.Path())
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.logger.Warn("Ignoring invalid configuration change", slog.Any("error", err))
		return
	}
	added := 0
	for _, ctrl := range cfg.Controllers {
		if _, ok := s.hub.Get(ctrl.Name); ok {
			continue
		}
		if _, err := s.AddController(ctrl.Name, ctrl.Description); err != nil {
			s.logger.Warn("Cannot add controller", slog.String("controller", ctrl.Name), slog.Any("error", err))
			continue
		}
		added++
	}
	s.logger.Info("Configuration reloaded", slog.Int("added", added))
}

// Hub returns the controller hub.
func (s *Server) Hub() *debugapi.Hub {
	return s.hub
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.api
}

// Loop returns the deferred-task loop shared by all controllers.
func (s *Server) Loop() *notify.Loop {
	return s.loop
}

// Journal returns the journal, or nil when disabled.
func (s *Server) Journal() *journal.Journal {
	return s.journal
}

// Files returns the watched-file source, or nil when nothing is watched.
func (s *Server) Files() *filesource.Source {
	return s.files
}

// Supervisor returns a supervisor with every service added.
func (s *Server) Supervisor() *suture.Supervisor {
	super := supervise.New("herald", s.logger.With("component", "supervisor"))
	supervise.Add(super, supervise.NewFunc("http", s.serveHTTP))
	supervise.Add(super, supervise.NewFunc("loop", s.loop.Run))
	if s.files != nil {
		supervise.Add(super, s.files)
	}
	if s.journal != nil {
		supervise.Add(super, s.journal)
	}
	return super
}

// Run serves until ctx is done, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Herald starting",
		slog.String("addr", s.config.Server.Addr),
		slog.Int("controllers", s.hub.Len()),
		slog.Bool("journal", s.journal != nil),
	)
	err := s.Supervisor().Serve(ctx)
	s.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) serveHTTP(ctx context.Context) error {
	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.Server.Addr)
		if err != nil {
			return errors.Join(herrors.New("H400").Wrap(err), suture.ErrTerminateSupervisorTree)
		}
	} else {
		// A supplied listener is only usable once.
		s.listener = nil
	}
	s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))

	errC := make(chan error, 1)
	go func() { errC <- s.http.Serve(ln) }()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
		defer cancel()
		s.api.Close()
		if err := s.http.Shutdown(shutdown); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", slog.Any("error", err))
		}
		<-errC
		return ctx.Err()
	}
}

func (s *Server) close() {
	s.mu.Lock()
	detach := make([]func(), 0, len(s.attached))
	for _, fn := range s.attached {
		detach = append(detach, fn)
	}
	s.attached = make(map[string]func())
	s.mu.Unlock()
	for _, fn := range detach {
		fn()
	}

	if s.files != nil {
		s.files.Close()
	}
	s.watches.Close()
	s.loop.Close()
	if s.sinkCloser != nil {
		if err := s.sinkCloser.Close(); err != nil {
			s.logger.Warn("Journal sink close failed", slog.Any("error", err))
		}
	}
	s.logger.Info("Herald stopped")
}

// Shutdown releases resources of a server that was never run.
func (s *Server) Shutdown() {
	s.close()
}

func newJournalSink(cfg config.JournalConfig, out io.Writer) (journal.Sink, error) {
	if cfg.S3.Bucket != "" {
		return journal.NewS3Sink(newS3Client(cfg.S3), cfg.S3.Bucket, cfg.S3.Prefix), nil
	}
	if cfg.File != "" {
		sink, err := journal.OpenFileSink(cfg.File)
		if err != nil {
			return nil, herrors.New("H500").WithDetail("Cannot open journal file " + cfg.File + ".").Wrap(err)
		}
		return sink, nil
	}
	if out == nil {
		out = os.Stdout
	}
	return journal.NewWriterSink(out), nil
}
