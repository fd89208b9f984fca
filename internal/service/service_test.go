package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/herald/internal/config"
	herrors "github.com/vango-dev/herald/internal/errors"
	"github.com/vango-dev/herald/pkg/journal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(names ...string) *config.Config {
	cfg := config.New()
	for _, n := range names {
		cfg.Controllers = append(cfg.Controllers, config.ControllerConfig{Name: n})
	}
	return cfg
}

func TestNewRegistersControllers(t *testing.T) {
	s, err := New(Options{
		Config:   testConfig("cart", "stock"),
		Logger:   quietLogger(),
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown()

	if s.Hub().Len() != 2 {
		t.Errorf("hub has %d controllers, want 2", s.Hub().Len())
	}
	if s.Journal() != nil {
		t.Error("journal enabled without config")
	}
	if s.Files() != nil {
		t.Error("file source created with nothing to watch")
	}

	if _, err := s.AddController("cart", ""); herrors.Code(err) != "H200" {
		t.Errorf("duplicate AddController err = %v, want H200", err)
	}
}

func TestRunServesAndJournals(t *testing.T) {
	cfg := testConfig("cart")
	cfg.Journal.Enabled = true
	cfg.Journal.Interval = time.Hour

	var out bytes.Buffer
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(Options{
		Config:      cfg,
		Logger:      quietLogger(),
		Registry:    prometheus.NewRegistry(),
		JournalSink: journal.NewWriterSink(&out),
		Listener:    ln,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	url := "http://" + ln.Addr().String()
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Post(url+"/api/controllers/cart/notify", "application/json", strings.NewReader(`{"keys":["total"],"value":3}`))
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("POST notify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notify status = %d", resp.StatusCode)
	}

	resp, err = http.Get(url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metrics), `herald_notifications_total{controller="cart",scope="keyed"} 1`) {
		t.Errorf("metrics missing keyed notification:\n%s", metrics)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return")
	}

	if !strings.Contains(out.String(), `"controller":"cart","key":"total","value":3`) {
		t.Errorf("journal output = %q", out.String())
	}
}

func TestConfigReloadAddsControllers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(path, []byte("controllers:\n  - name: cart\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	s, err := New(Options{Config: cfg, Logger: quietLogger(), Registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown()

	if s.Files() == nil {
		t.Fatal("config file not watched")
	}
	if _, ok := s.Hub().Get(FilesController); !ok {
		t.Error("files controller not registered")
	}

	if err := os.WriteFile(path, []byte("controllers:\n  - name: cart\n  - name: stock\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s.reloadConfig()
	if _, ok := s.Hub().Get("stock"); !ok {
		t.Error("stock not added on reload")
	}

	if err := os.WriteFile(path, []byte("controllers:\n  - name: files\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	before := s.Hub().Len()
	s.reloadConfig()
	if s.Hub().Len() != before {
		t.Errorf("invalid config changed hub: %d -> %d", before, s.Hub().Len())
	}
}

func TestNewJournalSink(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.JournalConfig
		want string
	}{
		{"s3", config.JournalConfig{S3: config.S3Config{Bucket: "b", Region: "eu-west-1"}}, "*journal.S3Sink"},
		{"file", config.JournalConfig{File: filepath.Join(dir, "j.jsonl")}, "*journal.WriterSink"},
		{"stdout", config.JournalConfig{}, "*journal.WriterSink"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := newJournalSink(tt.cfg, nil)
			if err != nil {
				t.Fatalf("newJournalSink: %v", err)
			}
			if c, ok := sink.(io.Closer); ok {
				defer c.Close()
			}
			if got := typeName(sink); got != tt.want {
				t.Errorf("sink = %s, want %s", got, tt.want)
			}
		})
	}

	_, err := newJournalSink(config.JournalConfig{File: filepath.Join(dir, "missing", "j.jsonl")}, nil)
	if herrors.Code(err) != "H500" {
		t.Errorf("bad file err = %v, want H500", err)
	}
}

func TestShutdownClosesJournalFile(t *testing.T) {
	cfg := testConfig("cart")
	cfg.Journal.Enabled = true
	cfg.Journal.File = filepath.Join(t.TempDir(), "journal.jsonl")

	s, err := New(Options{
		Config:   cfg,
		Logger:   quietLogger(),
		Registry: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink, ok := s.sinkCloser.(*journal.WriterSink)
	if !ok {
		t.Fatalf("sinkCloser = %T, want *journal.WriterSink", s.sinkCloser)
	}

	s.Shutdown()
	if err := sink.Write(context.Background(), []journal.Record{{Seq: 1, Controller: "cart"}}); err == nil {
		t.Error("journal file still open after Shutdown")
	}
}

func TestCallerSinkNotClosed(t *testing.T) {
	cfg := testConfig("cart")
	cfg.Journal.Enabled = true

	s, err := New(Options{
		Config:      cfg,
		Logger:      quietLogger(),
		Registry:    prometheus.NewRegistry(),
		JournalSink: journal.NewWriterSink(io.Discard),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.sinkCloser != nil {
		t.Errorf("sinkCloser = %T, want nil for a caller-supplied sink", s.sinkCloser)
	}
	s.Shutdown()
}

func typeName(v any) string {
	switch v.(type) {
	case *journal.S3Sink:
		return "*journal.S3Sink"
	case *journal.WriterSink:
		return "*journal.WriterSink"
	}
	return "unknown"
}
