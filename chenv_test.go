package chenv_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/giantswarm/chenv"
	"github.com/giantswarm/chenv/internal/fakeserver"
)

// newSingleton resets the process-level manager and creates one that
// downloads from a fake distribution. Tests using it must not run in
// parallel with each other.
func newSingleton(t *testing.T) (chenv.Manager, *fakeserver.Distribution) {
	t.Helper()

	dist, err := fakeserver.NewDistribution(os.Args[0])
	if err != nil {
		t.Fatalf("NewDistribution(): %v", err)
	}
	t.Cleanup(dist.Close)

	chenv.ResetForTesting()
	mgr := chenv.NewManager(
		chenv.WithCacheDir(t.TempDir()),
		chenv.WithBaseDataDir(t.TempDir()),
		chenv.WithBaseURL(dist.URL()),
		chenv.WithPlatform("linux/amd64"),
		chenv.WithStartTimeout(10*time.Second),
		chenv.WithStopTimeout(5*time.Second),
		chenv.WithFetchRetry(1, 10*time.Millisecond),
		chenv.WithSettings(map[string]string{fakeserver.SettingKey: fakeserver.ModeOK}),
	)
	t.Cleanup(func() {
		if err := mgr.Shutdown(); err != nil {
			t.Errorf("Shutdown(): %v", err)
		}
		chenv.ResetForTesting()
	})
	return mgr, dist
}

func TestNewManager_Singleton(t *testing.T) {
	mgr, _ := newSingleton(t)

	again := chenv.NewManager(chenv.WithCacheDir(t.TempDir()))
	if again != mgr {
		t.Error("second NewManager() returned a different manager")
	}
	if again.CacheDir() != mgr.CacheDir() {
		t.Errorf("CacheDir() = %q, options of second call applied", again.CacheDir())
	}
}

func TestManager_StartStop(t *testing.T) {
	mgr, dist := newSingleton(t)
	ctx := context.Background()

	inst, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start(): %v", err)
	}
	if inst.State() != chenv.StateReady {
		t.Errorf("State() = %v, want ready", inst.State())
	}
	if inst.Version() != chenv.DefaultVersion {
		t.Errorf("Version() = %q, want %q", inst.Version(), chenv.DefaultVersion)
	}
	if want := "clickhouse://127.0.0.1:" + strconv.Itoa(inst.Port()) + "/default"; inst.DSN() != want {
		t.Errorf("DSN() = %q, want %q", inst.DSN(), want)
	}

	resp, err := http.Get(inst.HTTPURL() + "/ping")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ping status = %d", resp.StatusCode)
	}

	dataDir := inst.DataDir()
	if err := inst.Stop(); err != nil {
		t.Fatalf("Stop(): %v", err)
	}
	if err := inst.Stop(); err != nil {
		t.Errorf("second Stop(): %v", err)
	}
	if inst.State() != chenv.StateStopped {
		t.Errorf("State() after Stop = %v, want stopped", inst.State())
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Errorf("data dir %s still exists after Stop", dataDir)
	}

	// The second start is served from the cache.
	inst, err = chenv.Start(ctx)
	if err != nil {
		t.Fatalf("package-level Start(): %v", err)
	}
	defer func() { _ = inst.Stop() }()
	if n := dist.Downloads(); n != 1 {
		t.Errorf("Downloads() = %d, want 1", n)
	}

	entries, err := mgr.ListCache(ctx)
	if err != nil {
		t.Fatalf("ListCache(): %v", err)
	}
	if len(entries) != 1 || entries[0].Version != chenv.DefaultVersion {
		t.Errorf("ListCache() = %+v, want one entry for %s", entries, chenv.DefaultVersion)
	}
}

func TestManager_StartErrorStage(t *testing.T) {
	mgr, _ := newSingleton(t)

	_, err := mgr.Start(context.Background(), chenv.WithVersion("1.2.3.4"))
	var startErr *chenv.StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("Start() error = %v, want *StartError", err)
	}
	if startErr.Stage != chenv.StageResolve {
		t.Errorf("Stage = %q, want %q", startErr.Stage, chenv.StageResolve)
	}
	if !errors.Is(err, chenv.ErrUnresolvableVersion) {
		t.Errorf("error = %v, want ErrUnresolvableVersion", err)
	}
}

func TestManager_StartAfterShutdown(t *testing.T) {
	mgr, _ := newSingleton(t)
	ctx := context.Background()

	inst, err := mgr.Start(ctx)
	if err != nil {
		t.Fatalf("Start(): %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}
	if inst.State() != chenv.StateStopped {
		t.Errorf("State() after Shutdown = %v, want stopped", inst.State())
	}
	if _, err := mgr.Start(ctx); !errors.Is(err, chenv.ErrShuttingDown) {
		t.Errorf("Start() after Shutdown error = %v, want ErrShuttingDown", err)
	}
}
