package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gophpeek/procd/internal/audit"
	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/process"
)

func testDaemon(t *testing.T) *process.Daemon {
	t.Helper()
	cfg := &config.Config{
		Processes: map[string]*config.ProcessConfig{
			"web": {
				Cmd:         "/bin/true",
				Umask:       "0022",
				Processes:   1,
				Autostart:   false,
				Autorestart: config.AutorestartNever,
				ExitCodes:   []int{0},
				StopSignals: []string{"SIGTERM"},
				StopTimeS:   1,
				BackoffS:    1,
			},
		},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return process.NewDaemon(cfg, "", logger)
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	auditLogger := audit.NewLogger(logger)
	daemon := testDaemon(t)

	sockPath := filepath.Join(t.TempDir(), "procd.sock")
	loadConfig := func() (*config.Config, error) {
		return &config.Config{Processes: map[string]*config.ProcessConfig{}}, nil
	}

	srv := New(daemon, logger, auditLogger, sockPath, "root", loadConfig)
	if err := srv.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	return srv, sockPath
}

func roundTrip(t *testing.T, sockPath, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	if err != nil && resp == "" {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(resp, "\n")
}

// TestSocketPermissions verifies the control socket ends up mode 0660 with
// its group set to authgroup.
func TestSocketPermissions(t *testing.T) {
	_, sockPath := startTestServer(t)

	fi, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if fi.Mode().Perm() != 0660 {
		t.Errorf("socket mode = %o, want 0660", fi.Mode().Perm())
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		t.Fatal("socket stat carries no *syscall.Stat_t")
	}
	if st.Gid != 0 {
		t.Errorf("socket gid = %d, want 0 (group root)", st.Gid)
	}
}

// TestRPCRoundTrip verifies every method's response echoes the request id
// and jsonrpc = "2.0".
func TestRPCRoundTrip(t *testing.T) {
	_, sockPath := startTestServer(t)

	tests := []struct {
		name string
		req  string
	}{
		{"status", `{"jsonrpc":"2.0","id":1,"method":"status"}`},
		{"status_single_known", `{"jsonrpc":"2.0","id":2,"method":"status_single","params":{"name":"web"}}`},
		{"status_single_unknown", `{"jsonrpc":"2.0","id":3,"method":"status_single","params":{"name":"nope"}}`},
		{"start", `{"jsonrpc":"2.0","id":4,"method":"start","params":{"name":"web"}}`},
		{"stop", `{"jsonrpc":"2.0","id":5,"method":"stop","params":{"name":"web"}}`},
		{"restart", `{"jsonrpc":"2.0","id":6,"method":"restart","params":{"name":"web"}}`},
		{"reload", `{"jsonrpc":"2.0","id":7,"method":"reload"}`},
		{"halt", `{"jsonrpc":"2.0","id":8,"method":"halt"}`},
		{"unknown_method", `{"jsonrpc":"2.0","id":9,"method":"bogus"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, sockPath, tt.req)

			var parsed Response
			if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
				t.Fatalf("unmarshal response %q: %v", resp, err)
			}
			if parsed.JSONRPC != "2.0" {
				t.Errorf("jsonrpc = %q, want 2.0", parsed.JSONRPC)
			}

			var req Request
			if err := json.Unmarshal([]byte(tt.req), &req); err != nil {
				t.Fatalf("unmarshal request: %v", err)
			}
			if parsed.ID == nil || *parsed.ID != *req.ID {
				t.Errorf("id = %v, want %v", parsed.ID, *req.ID)
			}
		})
	}
}

// TestMalformedRequestThenServerContinues verifies a malformed line gets a
// ParseError response, and the server keeps serving afterward.
func TestMalformedRequestThenServerContinues(t *testing.T) {
	_, sockPath := startTestServer(t)

	resp := roundTrip(t, sockPath, "{not json")
	var parsed Response
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		t.Fatalf("unmarshal response %q: %v", resp, err)
	}
	if parsed.Error == nil || parsed.Error.Code != CodeParseError {
		t.Fatalf("error = %v, want code %d", parsed.Error, CodeParseError)
	}

	// The server must still accept subsequent connections.
	resp2 := roundTrip(t, sockPath, `{"jsonrpc":"2.0","id":1,"method":"status"}`)
	var parsed2 Response
	if err := json.Unmarshal([]byte(resp2), &parsed2); err != nil {
		t.Fatalf("unmarshal second response %q: %v", resp2, err)
	}
	if parsed2.Error != nil {
		t.Fatalf("expected second connection to succeed, got error %v", parsed2.Error)
	}
}

// TestInvalidRequestWrongJSONRPCVersion covers the wire protocol's
// jsonrpc="2.0" requirement.
func TestInvalidRequestWrongJSONRPCVersion(t *testing.T) {
	_, sockPath := startTestServer(t)

	resp := roundTrip(t, sockPath, `{"jsonrpc":"1.0","id":1,"method":"status"}`)
	var parsed Response
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		t.Fatalf("unmarshal response %q: %v", resp, err)
	}
	if parsed.Error == nil || parsed.Error.Code != CodeInvalidRequest {
		t.Fatalf("error = %v, want code %d", parsed.Error, CodeInvalidRequest)
	}
}
