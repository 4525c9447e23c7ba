package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/gophpeek/procd/internal/audit"
	"github.com/gophpeek/procd/internal/config"
	"github.com/gophpeek/procd/internal/process"
)

// Server is the control-plane listener: one Unix-domain socket, one
// goroutine per accepted connection, everything else delegated to Daemon's
// own locking.
type Server struct {
	daemon     *process.Daemon
	logger     *slog.Logger
	audit      *audit.Logger
	socketPath string
	authGroup  string

	// loadConfig re-parses the on-disk config for the reload method.
	loadConfig func() (*config.Config, error)

	listener net.Listener
}

// New builds a Server bound to the given daemon. loadConfig is called once
// per `reload` request.
func New(daemon *process.Daemon, logger *slog.Logger, auditLogger *audit.Logger, socketPath, authGroup string, loadConfig func() (*config.Config, error)) *Server {
	return &Server{
		daemon:     daemon,
		logger:     logger,
		audit:      auditLogger,
		socketPath: socketPath,
		authGroup:  authGroup,
		loadConfig: loadConfig,
	}
}

// Bind creates and locks down the control socket: remove any stale path,
// listen (which creates the socket file), then chown it to authgroup's gid
// and chmod it 0660.
func (s *Server) Bind() error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	grp, err := user.LookupGroup(s.authGroup)
	if err != nil {
		listener.Close()
		return fmt.Errorf("lookup group %s: %w", s.authGroup, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		listener.Close()
		return fmt.Errorf("parse gid %s: %w", grp.Gid, err)
	}
	if err := syscall.Chown(s.socketPath, -1, gid); err != nil {
		listener.Close()
		return fmt.Errorf("chown %s to group %s: %w", s.socketPath, s.authGroup, err)
	}
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("chmod %s: %w", s.socketPath, err)
	}

	s.listener = listener
	return nil
}

// Serve accepts connections until ctx is cancelled, handling each on its own
// goroutine. Bind must be called first.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) {
				continue
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn reads exactly one request line, dispatches it, writes exactly
// one response line, then shuts down the write half and closes.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, MaxLineBytes+1)
	line, err := reader.ReadSlice('\n')
	if err != nil && len(line) == 0 {
		return
	}
	if len(line) > MaxLineBytes {
		s.writeResponse(conn, errorResponse(nil, CodeParseError, "request line too large"))
		return
	}

	var req Request
	if jsonErr := json.Unmarshal(line, &req); jsonErr != nil {
		s.writeResponse(conn, errorResponse(nil, CodeParseError, "malformed JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.ID == nil || req.Method == "" {
		s.writeResponse(conn, errorResponse(req.ID, CodeInvalidRequest, "invalid JSON-RPC request"))
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	conn.Write(data)
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
}
