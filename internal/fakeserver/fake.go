package fakeserver

import (
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Modes selected with the fake_mode setting.
const (
	// ModeOK serves until SIGTERM.
	ModeOK = "ok"
	// ModeHang never listens and ignores SIGTERM.
	ModeHang = "hang"
	// ModeExit writes to stderr and exits at once.
	ModeExit = "exit"
	// ModeExitLate exits after the early-exit window without listening.
	ModeExitLate = "exit_late"
	// ModeConflictOnce fails with "Address already in use" the first time
	// it runs in a data directory, then behaves like ModeOK.
	ModeConflictOnce = "conflict_once"
	// ModePing500 accepts TCP but answers /ping with 500.
	ModePing500 = "ping_500"
)

// SettingKey is the config element selecting the mode.
const SettingKey = "fake_mode"

type config struct {
	ListenHost string `xml:"listen_host"`
	TCPPort    int    `xml:"tcp_port"`
	HTTPPort   int    `xml:"http_port"`
	Path       string `xml:"path"`
	Mode       string `xml:"fake_mode"`
}

// Invoked reports whether args are a server invocation.
func Invoked(args []string) bool {
	return len(args) >= 3 && args[1] == "server" && strings.HasPrefix(args[2], "--config-file=")
}

// Run acts as the server and returns the exit code.
func Run(args []string) int {
	path := strings.TrimPrefix(args[2], "--config-file=")
	data, err := os.ReadFile(path) //nolint:gosec // path from our own argv
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake clickhouse: read config: %v\n", err)
		return 1
	}
	var cfg config
	if err := xml.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fake clickhouse: parse config: %v\n", err)
		return 1
	}
	if os.Getenv("CLICKHOUSE_WATCHDOG_ENABLE") != "0" {
		fmt.Fprintln(os.Stderr, "fake clickhouse: watchdog not disabled")
		return 1
	}

	switch cfg.Mode {
	case ModeHang:
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Hour)
		return 1
	case ModeExit:
		fmt.Fprintln(os.Stderr, "fake clickhouse: fatal: boom")
		return 2
	case ModeExitLate:
		time.Sleep(200 * time.Millisecond)
		fmt.Fprintln(os.Stderr, "fake clickhouse: late failure")
		return 3
	case ModeConflictOnce:
		flag := filepath.Join(filepath.Dir(filepath.Clean(cfg.Path)), "conflicted")
		if _, err := os.Stat(flag); os.IsNotExist(err) {
			_ = os.WriteFile(flag, nil, 0o600)
			fmt.Fprintf(os.Stderr, "Listen [%s]:%d failed: Address already in use\n", cfg.ListenHost, cfg.TCPPort)
			return 1
		}
	}
	return serve(cfg)
}

func serve(cfg config) int {
	host := cfg.ListenHost
	if host == "" {
		host = "127.0.0.1"
	}
	tcp, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(cfg.TCPPort)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake clickhouse: %v\n", err)
		return 1
	}
	go func() {
		for {
			conn, err := tcp.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	status := http.StatusOK
	if cfg.Mode == ModePing500 {
		status = http.StatusInternalServerError
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("Ok.\n"))
	})
	httpLn, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(cfg.HTTPPort)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake clickhouse: %v\n", err)
		return 1
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(httpLn) }()

	fmt.Println("fake clickhouse: ready")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
	<-sigs
	_ = srv.Close()
	_ = tcp.Close()
	return 0
}
