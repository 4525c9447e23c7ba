// Command procctl is a thin one-shot JSON-RPC client for procd's control
// socket: it writes a single request line, reads a single response line,
// prints it, and exits. It is deliberately not an interactive shell or
// dashboard — those remain out of scope per spec.md §1.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

const defaultSocket = "/run/procd/procd.sock"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "procctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	socketPath := os.Getenv("PROCD_SOCKET")
	if socketPath == "" {
		socketPath = defaultSocket
	}

	if len(args) == 0 {
		return fmt.Errorf("usage: procctl <status|status_single|start|stop|restart|reload|halt> [name]")
	}

	method := args[0]
	var params interface{}
	switch method {
	case "status", "reload", "halt":
		// no params
	case "status_single", "start", "stop", "restart":
		if len(args) < 2 {
			return fmt.Errorf("usage: procctl %s <name>", method)
		}
		params = map[string]string{"name": args[1]}
	default:
		return fmt.Errorf("unknown method %q", method)
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()

	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := reader.ReadString('\n')
	if err != nil && resp == "" {
		return fmt.Errorf("read response: %w", err)
	}

	fmt.Print(resp)
	return nil
}
