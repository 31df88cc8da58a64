package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/state"
)

// abortRequest is the machine-readable record left next to a crash dump
// so operators and supervisors can see why the process exited.
type abortRequest struct {
	Time      string            `json:"time"`
	Reason    string            `json:"reason"`
	Cmd       string            `json:"cmd"`
	CrashPath string            `json:"crash_path,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Abort logs a fatal condition, writes diagnostics and exits with code 2.
// The optional delay (seconds, default 10) gives log sinks time to flush.
func Abort(contextMsg string, err error, dbPath string, delaySeconds ...int) {
	delay := 10
	if len(delaySeconds) > 0 && delaySeconds[0] >= 0 {
		delay = delaySeconds[0]
	}
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	dumpPath, reqPath, derr := AbortWithDiagnostics(dbPath, contextMsg, err)
	if derr != nil {
		logger.Error("abort_diagnostics_failed", "error", derr)
		fmt.Fprintf(os.Stderr, "FAILED TO WRITE CRASH DUMP: %v\n", derr)
	} else {
		logger.Error("startup_fatal_crashdump", "path", dumpPath, "request", reqPath)
		fmt.Fprintf(os.Stderr, "CRASH DUMP WRITTEN: %s\n", dumpPath)
	}
	for i := delay; i > 0; i-- {
		logger.Info("exiting_in_seconds", "seconds", i)
		time.Sleep(1 * time.Second)
	}
	os.Exit(2)
}

// AbortWithDiagnostics writes a human-readable crash dump (environment and
// goroutine stacks) under <db>/state/crash and an abort request
// referencing it under <db>/state/abort. Returns both paths.
func AbortWithDiagnostics(dbPath, reason string, err error) (string, string, error) {
	crashDir := "./crash"
	abortDir := "./abort"
	if dbPath != "" {
		p := state.PathsFor(dbPath)
		crashDir = filepath.Join(p.State, "crash")
		abortDir = filepath.Join(p.State, "abort")
	}
	for _, dir := range []string{crashDir, abortDir} {
		if e := os.MkdirAll(dir, 0o700); e != nil {
			return "", "", fmt.Errorf("failed to create %s: %w", dir, e)
		}
	}

	ts := time.Now().UnixNano()
	dumpPath := filepath.Join(crashDir, fmt.Sprintf("crash-%d.log", ts))
	dump := func(f *os.File) error {
		fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
		fmt.Fprintf(f, "reason: %s\n", reason)
		fmt.Fprintf(f, "error: %v\n", err)
		fmt.Fprintf(f, "\n--- environ ---\n")
		for _, e := range os.Environ() {
			fmt.Fprintln(f, e)
		}
		fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		_, werr := f.Write(buf[:n])
		return werr
	}
	if werr := writeAtomic(crashDir, dumpPath, dump); werr != nil {
		return "", "", fmt.Errorf("failed to write crash dump: %w", werr)
	}

	req := abortRequest{
		Time:      time.Now().UTC().Format(time.RFC3339),
		Reason:    reason,
		Cmd:       "crash",
		CrashPath: dumpPath,
		Meta:      map[string]string{"pid": fmt.Sprintf("%d", os.Getpid())},
	}
	reqPath := filepath.Join(abortDir, fmt.Sprintf("req-%d.json", ts))
	encode := func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	}
	if werr := writeAtomic(abortDir, reqPath, encode); werr != nil {
		return dumpPath, "", fmt.Errorf("failed to write abort request: %w", werr)
	}
	return dumpPath, reqPath, nil
}

// writeAtomic fills a temp file in dir via fill, then renames it to path.
func writeAtomic(dir, path string, fill func(*os.File) error) error {
	f, err := os.CreateTemp(dir, ".partial-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	f.Sync()
	f.Close()
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a context cancelled when any watched signal arrives.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
		cancel()
	}()

	// SIGPIPE usually means a broken downstream; dump stacks for diagnosis
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		s := <-sigpipe
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		logger.Info("signal_received", "signal", s.String(), "msg", "dumping goroutine stacks")
		logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
		cancel()
	}()

	return ctx, cancel
}
