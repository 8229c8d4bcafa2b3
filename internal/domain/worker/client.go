package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/serializer"
)

// Register adds the worker interfaces, and the Stream override, to reg.
func Register(reg *proxy.Registry) error {
	if err := proxy.Register(reg, InitName, func(c *proxy.Client) Init { return &initClient{c} }); err != nil {
		return err
	}
	if err := proxy.Register(reg, CounterName, func(c *proxy.Client) Counter { return &counterClient{c} }); err != nil {
		return err
	}
	if err := proxy.Register(reg, ListenerName, func(c *proxy.Client) Listener { return &listenerClient{c} }); err != nil {
		return err
	}
	if err := proxy.Register(reg, SinkName, func(c *proxy.Client) Sink { return &sinkClient{c} }); err != nil {
		return err
	}
	return reg.Override(proxy.MethodKey{Interface: InitName, Method: "Stream"}, proxy.Override{
		BuildArgs: buildStreamArgs,
		ReadArgs:  readStreamArgs,
	})
}

// NewRegistry returns a registry with the worker interfaces registered.
func NewRegistry() (*proxy.Registry, error) {
	reg := proxy.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// sinkFunc exports a Stream callback as a Sink.
type sinkFunc func(ctx context.Context, i int) error

func (f sinkFunc) Put(ctx context.Context, i int) error { return f(ctx, i) }

func buildStreamArgs(ctx context.Context, c *proxy.Client, args []any) ([]json.RawMessage, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("stream takes 2 arguments, got %d", len(args))
	}
	n, ok := args[0].(int)
	if !ok {
		return nil, fmt.Errorf("stream count is %T, want int", args[0])
	}
	fn, ok := args[1].(func(ctx context.Context, i int) error)
	if !ok || fn == nil {
		return nil, fmt.Errorf("stream callback is %T, want func(context.Context, int) error", args[1])
	}
	count, err := proxy.BuildArg(ctx, c, n)
	if err != nil {
		return nil, err
	}
	sink, err := proxy.BuildArg[Sink](ctx, c, sinkFunc(fn))
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{count, sink}, nil
}

func readStreamArgs(ctx context.Context, s *proxy.Server, args []json.RawMessage) ([]reflect.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("stream takes 2 arguments, got %d", len(args))
	}
	count, err := s.ReadArg(ctx, args[0], reflect.TypeFor[int]())
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	v, err := s.ReadArg(ctx, args[1], reflect.TypeFor[Sink]())
	if err != nil {
		return nil, fmt.Errorf("callback: %w", err)
	}
	sink, _ := v.Interface().(Sink)
	if sink == nil {
		return nil, errors.New("callback: missing")
	}
	fn := func(ctx context.Context, i int) error { return sink.Put(ctx, i) }
	return []reflect.Value{count, reflect.ValueOf(fn)}, nil
}

type initClient struct{ *proxy.Client }

func (s *initClient) Ping(ctx context.Context) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "Ping")
}

func (s *initClient) Add(ctx context.Context, a, b int) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "Add", a, b)
}

func (s *initClient) MapSize(ctx context.Context, m map[string]string) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "MapSize", m)
}

func (s *initClient) Pass(ctx context.Context, r Record) (Record, error) {
	return proxy.Call1[Record](ctx, s.Client, "Pass", r)
}

func (s *initClient) Append(ctx context.Context, item string) error {
	return proxy.Call0(ctx, s.Client, "Append", item)
}

func (s *initClient) History(ctx context.Context) ([]string, error) {
	return proxy.Call1[[]string](ctx, s.Client, "History")
}

func (s *initClient) Fail(ctx context.Context, msg string) error {
	return proxy.Call0(ctx, s.Client, "Fail", msg)
}

func (s *initClient) Unlock(ctx context.Context, secret serializer.Secret) (bool, error) {
	return proxy.Call1[bool](ctx, s.Client, "Unlock", secret)
}

func (s *initClient) MakeCounter(ctx context.Context, start int) (Counter, error) {
	return proxy.Call1[Counter](ctx, s.Client, "MakeCounter", start)
}

func (s *initClient) Subscribe(ctx context.Context, l Listener) error {
	return proxy.Call0(ctx, s.Client, "Subscribe", l)
}

func (s *initClient) Stream(ctx context.Context, n int, fn func(ctx context.Context, i int) error) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "Stream", n, fn)
}

func (s *initClient) Version(ctx context.Context) (Version, error) {
	return proxy.Call1[Version](ctx, s.Client, "Version")
}

func (s *initClient) Block(ctx context.Context) error {
	return proxy.Call0(ctx, s.Client, "Block")
}

type counterClient struct{ *proxy.Client }

func (s *counterClient) Inc(ctx context.Context) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "Inc")
}

func (s *counterClient) Value(ctx context.Context) (int, error) {
	return proxy.Call1[int](ctx, s.Client, "Value")
}

type listenerClient struct{ *proxy.Client }

func (s *listenerClient) Notify(ctx context.Context, event string) error {
	return proxy.Call0(ctx, s.Client, "Notify", event)
}

type sinkClient struct{ *proxy.Client }

func (s *sinkClient) Put(ctx context.Context, i int) error {
	return proxy.Call0(ctx, s.Client, "Put", i)
}

var (
	_ Init     = (*initClient)(nil)
	_ Counter  = (*counterClient)(nil)
	_ Listener = (*listenerClient)(nil)
	_ Sink     = (*sinkClient)(nil)
)
