package lifecycle

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestBase_CloseRunsHooksLIFO(t *testing.T) {
	t.Parallel()

	var b Base
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		b.AddCloseHook(NewCloseHook(name, func(remote bool) {
			order = append(order, name)
		}))
	}

	b.Close(false)

	want := []string{"third", "second", "first"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("hook order = %v, want %v", order, want)
	}
}

func TestBase_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	var b Base
	calls := 0
	b.AddCloseHook(NewCloseHook("count", func(remote bool) { calls++ }))

	b.Close(false)
	b.Close(false)
	b.Close(true)

	if calls != 1 {
		t.Errorf("hook calls = %d, want 1", calls)
	}
	if b.ClosedRemotely() {
		t.Error("ClosedRemotely() = true after a local close")
	}
}

func TestBase_RemoteTriggerIsPassedToHooks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote bool
	}{
		{name: "local", remote: false},
		{name: "remote", remote: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var b Base
			var got []bool
			b.AddCloseHook(NewCloseHook("a", func(remote bool) { got = append(got, remote) }))
			b.AddCloseHook(NewCloseHook("b", func(remote bool) { got = append(got, remote) }))

			b.Close(tt.remote)

			if len(got) != 2 || got[0] != tt.remote || got[1] != tt.remote {
				t.Errorf("remote flags = %v, want two of %v", got, tt.remote)
			}
			if b.ClosedRemotely() != tt.remote {
				t.Errorf("ClosedRemotely() = %v, want %v", b.ClosedRemotely(), tt.remote)
			}
		})
	}
}

func TestBase_DoubleRegistrationPanics(t *testing.T) {
	t.Parallel()

	var b Base
	h := NewCloseHook("dup", func(bool) {})
	b.AddCloseHook(h)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on double registration")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value = %T, want error", r)
		}
		var lerr *LifecycleError
		if !errors.As(err, &lerr) {
			t.Fatalf("panic = %v, want *LifecycleError", err)
		}
	}()
	b.AddCloseHook(h)
}

func TestBase_HookMovedToOtherBasePanics(t *testing.T) {
	t.Parallel()

	var a, b Base
	h := NewCloseHook("shared", func(bool) {})
	a.AddCloseHook(h)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when chaining a hook on a second base")
		}
	}()
	b.AddCloseHook(h)
}

func TestBase_AddAfterCloseRunsImmediately(t *testing.T) {
	t.Parallel()

	var b Base
	b.Close(true)

	var got *bool
	b.AddCloseHook(NewCloseHook("late", func(remote bool) { got = &remote }))

	if got == nil {
		t.Fatal("late hook did not run")
	}
	if !*got {
		t.Error("late hook remote = false, want true")
	}
}

func TestBase_HookCanCloseNestedBase(t *testing.T) {
	t.Parallel()

	var parent, child Base
	childClosed := false
	child.AddCloseHook(NewCloseHook("child", func(bool) { childClosed = true }))
	parent.AddCloseHook(NewCloseHook("teardown-child", func(remote bool) { child.Close(remote) }))

	parent.Close(false)

	if !childClosed {
		t.Error("child hooks did not run when parent closed")
	}
	if !child.Closed() {
		t.Error("child.Closed() = false")
	}
}

func TestBase_ConcurrentCloseRunsOnce(t *testing.T) {
	t.Parallel()

	var b Base
	var mu sync.Mutex
	calls := 0
	b.AddCloseHook(NewCloseHook("once", func(bool) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(remote bool) {
			defer wg.Done()
			b.Close(remote)
		}(i%2 == 0)
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("hook calls = %d, want 1", calls)
	}
}
