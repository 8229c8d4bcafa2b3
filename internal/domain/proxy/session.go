package proxy

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Sentinel-Gate/ipcgate/internal/ctxkey"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/eventloop"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/schema"
)

// Session is the connection a proxy is bound to. It is implemented by
// service.Connection.
type Session interface {
	// ID identifies the session in logs.
	ID() string
	Loop() *eventloop.Loop
	Registry() *Registry
	Logger() *slog.Logger

	// Call sends a capability call to the peer and waits for the encoded
	// result values.
	Call(ctx context.Context, capID uint64, iface, method string, args []json.RawMessage) ([]json.RawMessage, error)

	// Export publishes srv to the peer and returns its capability id.
	Export(srv *Server) uint64

	// Import returns the client for a capability exported by the peer.
	Import(capID uint64, iface *schema.Interface) *Client

	// Release forgets an imported client. With notify set the peer is told
	// to drop the export behind it.
	Release(c *Client, notify bool)

	// Disconnected reports whether the peer is gone.
	Disconnected() bool
}

// LoggerFromContext returns the logger a connection attached to ctx for the
// current frame, or fallback when there is none.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return fallback
}
