package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/chenv/internal/fakeserver"
	"github.com/giantswarm/chenv/internal/netutil"
	"github.com/giantswarm/chenv/internal/process"
)

func testConfig(tb testing.TB, registry *netutil.PortRegistry, mode string) Config {
	tb.Helper()
	return Config{
		Binary:       os.Args[0],
		DataDir:      tb.TempDir(),
		StartTimeout: 10 * time.Second,
		PortRegistry: registry,
		Settings:     map[string]string{fakeserver.SettingKey: mode},
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Settings: map[string]string{"tcp_port": "1"}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"binary path", "data dir", "start timeout", "port registry"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
	if !errors.Is(err, ErrReservedSetting) {
		t.Errorf("error = %v, want ErrReservedSetting joined", err)
	}
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	registry := netutil.NewPortRegistry(nil)
	srv, err := New(testConfig(t, registry, fakeserver.ModeOK))
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start(): %v", err)
	}

	ports := srv.Ports()
	for _, p := range ports.Slice() {
		if p == 0 || !registry.Claimed(p) {
			t.Errorf("port %d not claimed while running", p)
		}
	}
	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(ports.HTTP) + "/ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ping status = %d", resp.StatusCode)
	}
	exited := srv.Exited()

	if err := srv.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop(): %v", err)
	}
	select {
	case <-exited:
	default:
		t.Error("process still running after Stop")
	}
	if n := registry.Len(); n != 0 {
		t.Errorf("registry holds %d ports after Stop", n)
	}
	if err := srv.Stop(5 * time.Second); err != nil {
		t.Errorf("second Stop(): %v", err)
	}
	if srv.Pid() != 0 {
		t.Error("Pid() non-zero after Stop")
	}
}

func TestServer_StartFailures(t *testing.T) {
	t.Parallel()

	type testCase struct {
		mode       string
		timeout    time.Duration
		earlyExit  time.Duration
		wantErr    error
		wantSubstr string
	}

	tests := map[string]testCase{
		"exit inside early window": {
			mode:       fakeserver.ModeExit,
			earlyExit:  5 * time.Second,
			wantErr:    process.ErrLaunch,
			wantSubstr: "boom",
		},
		"exit during readiness": {
			mode:       fakeserver.ModeExitLate,
			wantErr:    process.ErrProcessExited,
			wantSubstr: "late failure",
		},
		"never listens": {
			mode:    fakeserver.ModeHang,
			timeout: 300 * time.Millisecond,
			wantErr: process.ErrReadinessTimeout,
		},
		"ping not ok": {
			mode:       fakeserver.ModePing500,
			timeout:    500 * time.Millisecond,
			wantErr:    process.ErrReadinessTimeout,
			wantSubstr: "ping returned 500",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			registry := netutil.NewPortRegistry(nil)
			cfg := testConfig(t, registry, tc.mode)
			if tc.timeout > 0 {
				cfg.StartTimeout = tc.timeout
			}
			cfg.EarlyExitWindow = tc.earlyExit

			srv, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			err = srv.Start(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tc.wantErr)
			}
			if tc.wantSubstr != "" && !strings.Contains(err.Error(), tc.wantSubstr) {
				t.Errorf("error %q does not contain %q", err, tc.wantSubstr)
			}
			var attemptErr *AttemptError
			if !errors.As(err, &attemptErr) || attemptErr.Ports.TCP == 0 {
				t.Errorf("error %v does not carry the attempted ports", err)
			}
			if n := registry.Len(); n != 0 {
				t.Errorf("registry holds %d ports after failed Start", n)
			}
			if srv.Pid() != 0 {
				t.Error("process handle kept after failed Start")
			}
		})
	}
}

func TestStartWithRetry_PortConflict(t *testing.T) {
	t.Parallel()

	registry := netutil.NewPortRegistry(nil)
	srv, err := StartWithRetry(context.Background(), testConfig(t, registry, fakeserver.ModeConflictOnce), DefaultMaxPortRetries)
	if err != nil {
		t.Fatalf("StartWithRetry(): %v", err)
	}
	defer func() { _ = srv.Stop(5 * time.Second) }()

	if n := registry.Len(); n != 3 {
		t.Errorf("registry holds %d ports, want 3 (first attempt's ports released)", n)
	}
}

func TestStartWithRetry_ConflictExhausted(t *testing.T) {
	t.Parallel()

	registry := netutil.NewPortRegistry(nil)
	// One attempt: the conflict is never retried.
	_, err := StartWithRetry(context.Background(), testConfig(t, registry, fakeserver.ModeConflictOnce), 1)
	if !errors.Is(err, ErrPortConflict) {
		t.Fatalf("error = %v, want ErrPortConflict", err)
	}
	if n := registry.Len(); n != 0 {
		t.Errorf("registry holds %d ports after failure", n)
	}
}

func TestStartWithRetry_OtherErrorsNotRetried(t *testing.T) {
	t.Parallel()

	registry := netutil.NewPortRegistry(nil)
	cfg := testConfig(t, registry, fakeserver.ModeExit)
	cfg.EarlyExitWindow = 5 * time.Second

	_, err := StartWithRetry(context.Background(), cfg, DefaultMaxPortRetries)
	if !errors.Is(err, process.ErrLaunch) {
		t.Fatalf("error = %v, want ErrLaunch", err)
	}
	if strings.Contains(err.Error(), "attempts") {
		t.Errorf("launch failure was retried: %v", err)
	}
}

func TestStartWithRetry_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := StartWithRetry(ctx, testConfig(t, netutil.NewPortRegistry(nil), fakeserver.ModeOK), 3)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
