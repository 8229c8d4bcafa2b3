package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/eventloop"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

func resolveLogger(opts []Option) *slog.Logger {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		return slog.Default()
	}
	return o.logger
}

// Bootstrap asks the peer of conn for its root object as interface I and
// returns the typed stub together with the client behind it.
func Bootstrap[I any](ctx context.Context, conn *Connection) (I, *proxy.Client, error) {
	var zero I
	t := reflect.TypeFor[I]()
	iface, ok := conn.Registry().LookupType(t)
	if !ok {
		return zero, nil, fmt.Errorf("bootstrap: %s is not registered", t)
	}
	client, err := conn.Bootstrap(ctx, iface)
	if err != nil {
		return zero, nil, err
	}
	stub, err := conn.Registry().NewStub(client)
	if err != nil {
		client.Close(false)
		return zero, nil, err
	}
	root, ok := stub.(I)
	if !ok {
		client.Close(false)
		return zero, nil, fmt.Errorf("bootstrap: stub %T does not implement %s", stub, t)
	}
	return root, client, nil
}

// Connect runs a client-role connection over rwc on a new loop goroutine and
// bootstraps the peer's root object as I. The returned stub owns the
// connection and the loop: releasing it locally closes both. When the peer
// goes away the loop stops on its own.
func Connect[I any](ctx context.Context, rwc io.ReadWriteCloser, opts ...Option) (I, error) {
	root, _, err := connect[I](ctx, rwc, opts)
	return root, err
}

func connect[I any](ctx context.Context, rwc io.ReadWriteCloser, opts []Option) (I, *Connection, error) {
	var zero I
	loop := eventloop.New("client", resolveLogger(opts))
	loop.Start(context.Background())
	conn := NewConnection(loop, rwc, RoleClient, opts...)

	root, client, err := Bootstrap[I](ctx, conn)
	if err != nil {
		_ = conn.Close()
		_ = loop.Close()
		return zero, nil, err
	}
	// Must not be released from the loop goroutine: closing joins it.
	client.AddCloseHook(lifecycle.NewCloseHook("client connection", func(remote bool) {
		if remote {
			return
		}
		_ = conn.Close()
		_ = loop.Close()
	}))
	return root, conn, nil
}

// Serve runs a server-role connection over rwc, serving impl as the root
// object, with the loop on the calling goroutine. It returns when the peer
// disconnects or ctx is cancelled; a disconnect is not an error.
func Serve(ctx context.Context, rwc io.ReadWriteCloser, impl any, opts ...Option) error {
	loop := eventloop.New("server", resolveLogger(opts))
	conn := NewConnection(loop, rwc, RoleServer, append(append([]Option{}, opts...), WithBootstrap(impl))...)

	err := loop.Run(ctx)
	_ = conn.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
