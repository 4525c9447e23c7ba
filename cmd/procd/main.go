// Command procd is the process supervisor daemon: it launches, observes,
// restarts, and stops a declared set of child processes per a TOML
// configuration file and exposes a JSON-RPC control channel over a
// Unix-domain socket.
package main

func main() {
	Execute()
}
