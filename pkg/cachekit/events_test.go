package cachekit

import (
	"testing"
	"time"
)

func TestDecision_PreventDefault(t *testing.T) {
	d := newDecision()
	if d.Prevented() {
		t.Error("expected not prevented initially")
	}
	d.PreventDefault()
	if !d.Prevented() {
		t.Error("expected prevented after PreventDefault")
	}
}

func TestDecision_ResolvesImmediatelyWithoutWaitForDecision(t *testing.T) {
	d := newDecision()
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Wait to be unblocked without explicit Resolve")
	}
}

func TestDecision_WaitForDecision_BlocksUntilResolve(t *testing.T) {
	d := newDecision()
	ch := d.WaitForDecision()

	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("decision resolved before Resolve was called")
	case <-time.After(20 * time.Millisecond):
	}

	d.Resolve()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected decision channel to close after Resolve")
	}
}

func TestDecision_ResolveIsIdempotent(t *testing.T) {
	d := newDecision()
	d.WaitForDecision()
	d.Resolve()
	d.Resolve()
}

func TestEmitter_OnChange_FiresAllHandlersInOrder(t *testing.T) {
	e := newEmitter()
	var order []int
	e.OnChange(func() { order = append(order, 1) })
	e.OnChange(func() { order = append(order, 2) })

	e.notifyChange()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected handlers called in registration order, got %v", order)
	}
}

func TestEmitter_FireAuthentication_ResolvesImmediatelyByDefault(t *testing.T) {
	e := newEmitter()
	var gotURL string
	e.OnAuthentication(func(ev *AuthenticationEvent) {
		gotURL = ev.URL
	})

	ev := e.fireAuthentication("https://example.com/widgets/1/")
	if gotURL != "https://example.com/widgets/1/" {
		t.Errorf("unexpected URL delivered to handler: %q", gotURL)
	}

	done := make(chan struct{})
	go func() {
		ev.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected event to resolve automatically when no handler waits")
	}
}

func TestEmitter_FireAuthentication_PreventDefault(t *testing.T) {
	e := newEmitter()
	e.OnAuthentication(func(ev *AuthenticationEvent) {
		ev.PreventDefault()
	})

	ev := e.fireAuthentication("https://example.com/widgets/1/")
	if !ev.Prevented() {
		t.Error("expected event to be marked prevented")
	}
}

func TestEmitter_FireAuthentication_WaitForDecision(t *testing.T) {
	e := newEmitter()
	var resolveFn func()
	e.OnAuthentication(func(ev *AuthenticationEvent) {
		ch := ev.WaitForDecision()
		resolveFn = ev.Resolve
		go func() {
			<-ch
		}()
	})

	ev := e.fireAuthentication("https://example.com/widgets/1/")

	done := make(chan struct{})
	go func() {
		ev.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("event should not resolve until handler calls Resolve")
	case <-time.After(20 * time.Millisecond):
	}

	resolveFn()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected event to resolve after handler calls Resolve")
	}
}

func TestEmitter_FireAuthorization_DeliversFields(t *testing.T) {
	e := newEmitter()
	var got *AuthorizationEvent
	e.OnAuthorization(func(ev *AuthorizationEvent) {
		got = ev
	})

	e.fireAuthorization("tok", []string{"https://example.com/"}, true)

	if got == nil {
		t.Fatal("expected handler to be invoked")
	}
	if got.Token != "tok" || !got.Fresh || len(got.AllowURLs) != 1 || got.AllowURLs[0] != "https://example.com/" {
		t.Errorf("unexpected event fields: %+v", got)
	}
}

func TestEmitter_FireDeauthorization_DeliversDenyURLs(t *testing.T) {
	e := newEmitter()
	var got *DeauthorizationEvent
	e.OnDeauthorization(func(ev *DeauthorizationEvent) {
		got = ev
	})

	e.fireDeauthorization([]string{"https://example.com/"})

	if got == nil || len(got.DenyURLs) != 1 || got.DenyURLs[0] != "https://example.com/" {
		t.Errorf("unexpected event fields: %+v", got)
	}
}

func TestEmitter_NoHandlers_DoesNotPanic(t *testing.T) {
	e := newEmitter()
	e.notifyChange()
	e.fireAuthentication("https://example.com/")
	e.fireAuthorization("tok", nil, false)
	e.fireDeauthorization(nil)
}
