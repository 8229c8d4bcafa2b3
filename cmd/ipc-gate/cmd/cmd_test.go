package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/ipcgate/internal/config"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
	"github.com/Sentinel-Gate/ipcgate/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connectWorker serves a worker.Impl over an in-memory pipe and returns the
// client stub for it.
func connectWorker(t *testing.T) worker.Init {
	t.Helper()
	reg, err := worker.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	clientSide, serverSide := net.Pipe()

	served := make(chan error, 1)
	go func() {
		served <- service.Serve(context.Background(), serverSide, worker.NewImpl(),
			service.WithRegistry(reg), service.WithLogger(discardLogger()))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	root, err := service.Connect[worker.Init](ctx, clientSide,
		service.WithRegistry(reg), service.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() {
		proxy.Release(root)
		select {
		case <-served:
		case <-time.After(5 * time.Second):
			t.Error("worker did not stop after release")
		}
	})
	return root
}

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"start": false, "call": false, "describe": false, "config": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestInvoke(t *testing.T) {
	root := connectWorker(t)
	ctx := context.Background()

	tests := []struct {
		method string
		args   []string
		want   string
	}{
		{"ping", nil, "42\n"},
		{"add", []string{"2", "3"}, "5\n"},
		{"ADD", []string{"-4", "4"}, "0\n"},
		{"mapsize", []string{"a=1", "b=2", "c="}, "3\n"},
		{"append", []string{"first"}, ""},
		{"append", []string{"second"}, ""},
		{"history", nil, "first\nsecond\n"},
		{"version", nil, worker.ImplVersion.String() + "\n"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if err := invoke(ctx, root, &out, tt.method, tt.args); err != nil {
			t.Fatalf("invoke(%s %v) error: %v", tt.method, tt.args, err)
		}
		if out.String() != tt.want {
			t.Errorf("invoke(%s %v) printed %q, want %q", tt.method, tt.args, out.String(), tt.want)
		}
	}
}

func TestInvoke_BadArguments(t *testing.T) {
	root := connectWorker(t)
	ctx := context.Background()

	tests := []struct {
		method string
		args   []string
		want   string
	}{
		{"add", []string{"1"}, "add takes 2 arguments, got 1"},
		{"add", []string{"one", "2"}, "add: strconv.Atoi"},
		{"mapsize", []string{"novalue"}, `"novalue" is not key=value`},
		{"ping", []string{"extra"}, "ping takes 0 arguments"},
		{"explode", nil, `unknown method "explode"`},
	}
	for _, tt := range tests {
		err := invoke(ctx, root, io.Discard, tt.method, tt.args)
		if err == nil {
			t.Fatalf("invoke(%s %v) error = nil, want %q", tt.method, tt.args, tt.want)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("invoke(%s %v) error = %q, want to contain %q", tt.method, tt.args, err.Error(), tt.want)
		}
	}
}

func TestRenderInterfaces(t *testing.T) {
	reg, err := worker.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}

	out := renderInterfaces(reg, false)
	for _, want := range []string{"Init", "StreamSink", "Ping(context.Context) (int, error)", "override"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderInterfaces() missing %q:\n%s", want, out)
		}
	}

	md := renderInterfaces(reg, true)
	// Header case depends on the table style.
	if !strings.HasPrefix(strings.ToLower(md), "| interface") {
		t.Errorf("markdown output starts with %q", md[:min(len(md), 20)])
	}
}

// pingFunc is a worker.Init whose Ping is scripted. Other methods are not
// used by heartbeat.
type pingFunc struct {
	worker.Init
	ping func(ctx context.Context) (int, error)
}

func (p pingFunc) Ping(ctx context.Context) (int, error) { return p.ping(ctx) }

func TestHeartbeat_StopsOnDisconnect(t *testing.T) {
	t.Parallel()

	root := pingFunc{ping: func(context.Context) (int, error) {
		return 0, &proxy.TransportError{Op: "read", Err: io.EOF}
	}}
	peer := &peerHealth{}
	err := heartbeat(context.Background(), root, time.Millisecond, time.Second, peer, discardLogger())
	if !errors.Is(err, proxy.ErrDisconnected) {
		t.Fatalf("heartbeat() error = %v, want ErrDisconnected", err)
	}
	if peer.Check(context.Background()) == nil {
		t.Error("peer health ok after disconnect")
	}
}

func TestHeartbeat_RecordsBadReplyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	root := pingFunc{ping: func(context.Context) (int, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return 7, nil
	}}
	peer := &peerHealth{}
	if err := heartbeat(ctx, root, time.Millisecond, time.Second, peer, discardLogger()); err != nil {
		t.Fatalf("heartbeat() error = %v, want nil on cancel", err)
	}
	err := peer.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unexpected ping reply 7") {
		t.Errorf("peer health = %v, want unexpected reply", err)
	}
}

func TestHeartbeat_Healthy(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	root := pingFunc{ping: func(context.Context) (int, error) {
		cancel()
		return worker.PingReply, nil
	}}
	peer := &peerHealth{}
	peer.set(errors.New("stale"))
	if err := heartbeat(ctx, root, time.Millisecond, time.Second, peer, discardLogger()); err != nil {
		t.Fatalf("heartbeat() error = %v", err)
	}
	if err := peer.Check(context.Background()); err != nil {
		t.Errorf("peer health = %v, want ok", err)
	}
}

func TestEventLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := &eventLogger{logger: slog.New(slog.NewTextHandler(&buf, nil))}
	if err := l.Notify(context.Background(), "subscribed"); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if !strings.Contains(buf.String(), "event=subscribed") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute(version) error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "ipc-gate "+Version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestOpenCallLog(t *testing.T) {
	t.Parallel()

	mem, err := openCallLog(config.AuditConfig{BufferSize: 2})
	if err != nil {
		t.Fatalf("openCallLog(memory) error: %v", err)
	}
	mem.RecordCall(proxy.CallRecord{Method: "Ping"})
	if len(mem.Recent(0)) != 1 {
		t.Error("memory call log did not buffer the record")
	}

	path := filepath.Join(t.TempDir(), "calls.log")
	file, err := openCallLog(config.AuditConfig{Output: "file://" + path, BufferSize: 2})
	if err != nil {
		t.Fatalf("openCallLog(file) error: %v", err)
	}
	file.RecordCall(proxy.CallRecord{Interface: "Init", Method: "Add"})
	if err := file.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"method":"Add"`) {
		t.Errorf("audit file = %q", data)
	}

	if _, err := openCallLog(config.AuditConfig{Output: "file://" + filepath.Join(path, "nested", "x.log")}); err == nil {
		t.Error("openCallLog(unwritable) error = nil")
	}
}
