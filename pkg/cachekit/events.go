package cachekit

import "sync"

// decision is the common veto/async-decision mechanics shared by the
// authentication, authorization, and deauthorization events: a handler may
// call PreventDefault to veto the coordinator's default action, and/or
// WaitForDecision to signal it will decide asynchronously (in which case
// the coordinator blocks on the returned channel until Resolve is called).
type decision struct {
	mu        sync.Mutex
	prevented bool
	waiting   bool
	done      chan struct{}
}

func newDecision() *decision {
	return &decision{done: make(chan struct{})}
}

// PreventDefault vetoes the coordinator's default handling of this event.
func (d *decision) PreventDefault() {
	d.mu.Lock()
	d.prevented = true
	d.mu.Unlock()
}

func (d *decision) Prevented() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prevented
}

// WaitForDecision signals that the handler will resolve this event
// asynchronously and returns the channel the coordinator should block on.
func (d *decision) WaitForDecision() <-chan struct{} {
	d.mu.Lock()
	d.waiting = true
	d.mu.Unlock()
	return d.done
}

// Resolve completes an asynchronous decision. Safe to call even if no
// handler called WaitForDecision.
func (d *decision) Resolve() {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.done:
	default:
		close(d.done)
	}
}

func (d *decision) isWaiting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiting
}

// Wait blocks until the event's decision is resolved — immediately, if no
// handler called WaitForDecision.
func (d *decision) Wait() {
	if !d.isWaiting() {
		return
	}
	<-d.done
}

// AuthenticationEvent notifies the host that a request needs credentials.
type AuthenticationEvent struct {
	*decision
	URL string
}

// AuthorizationEvent notifies the host that a token is about to be
// recorded as authorizing a set of URL prefixes.
type AuthorizationEvent struct {
	*decision
	Token     string
	AllowURLs []string
	Fresh     bool
}

// DeauthorizationEvent notifies the host that a token is being revoked.
type DeauthorizationEvent struct {
	*decision
	DenyURLs []string
}

// changeHandler is notified whenever cached data changes.
type changeHandler func()

type authenticationHandler func(*AuthenticationEvent)
type authorizationHandler func(*AuthorizationEvent)
type deauthorizationHandler func(*DeauthorizationEvent)

// emitter is the event-emitter substrate used to notify the host
// application of cache and auth-coordinator activity. It is intentionally
// minimal: handlers run synchronously, in registration order, on the
// calling goroutine.
type emitter struct {
	mu                sync.RWMutex
	onChange          []changeHandler
	onAuthentication  []authenticationHandler
	onAuthorization   []authorizationHandler
	onDeauthorization []deauthorizationHandler
}

func newEmitter() *emitter {
	return &emitter{}
}

func (e *emitter) OnChange(h changeHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = append(e.onChange, h)
}

func (e *emitter) OnAuthentication(h authenticationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAuthentication = append(e.onAuthentication, h)
}

func (e *emitter) OnAuthorization(h authorizationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAuthorization = append(e.onAuthorization, h)
}

func (e *emitter) OnDeauthorization(h deauthorizationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDeauthorization = append(e.onDeauthorization, h)
}

// notifyChange fires the change event to every registered handler. Callers
// batching multiple writes should call this at most once per logical
// operation.
func (e *emitter) notifyChange() {
	e.mu.RLock()
	handlers := append([]changeHandler(nil), e.onChange...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

// fireAuthentication fires the authentication event and returns it so the
// caller can inspect Prevented()/isWaiting() and block on the decision
// channel if needed.
func (e *emitter) fireAuthentication(url string) *AuthenticationEvent {
	ev := &AuthenticationEvent{decision: newDecision(), URL: url}
	e.mu.RLock()
	handlers := append([]authenticationHandler(nil), e.onAuthentication...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	if !ev.isWaiting() {
		ev.Resolve()
	}
	return ev
}

func (e *emitter) fireAuthorization(token string, allowURLs []string, fresh bool) *AuthorizationEvent {
	ev := &AuthorizationEvent{decision: newDecision(), Token: token, AllowURLs: allowURLs, Fresh: fresh}
	e.mu.RLock()
	handlers := append([]authorizationHandler(nil), e.onAuthorization...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	if !ev.isWaiting() {
		ev.Resolve()
	}
	return ev
}

func (e *emitter) fireDeauthorization(denyURLs []string) *DeauthorizationEvent {
	ev := &DeauthorizationEvent{decision: newDecision(), DenyURLs: denyURLs}
	e.mu.RLock()
	handlers := append([]deauthorizationHandler(nil), e.onDeauthorization...)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	if !ev.isWaiting() {
		ev.Resolve()
	}
	return ev
}
