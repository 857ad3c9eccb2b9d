package mcp

import (
	"context"
	"os"
	"time"

	"ratchet/internal/logging"
)

// WatchParent cancels the server when the parent process dies (the MCP
// client disconnected without closing the transport), so stdio servers
// do not accumulate as zombies.
//
// It must NOT read from stdin: the SDK's StdioTransport owns stdin
// exclusively, and stealing bytes there corrupts the JSON-RPC stream.
func WatchParent(ctx context.Context, cancel context.CancelFunc) {
	ppid := os.Getppid()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
				if os.Getppid() != ppid {
					logging.New("mcp").Warn("parent process died, shutting down", "was_pid", ppid)
					cancel()
					return
				}
			}
		}
	}()
}
