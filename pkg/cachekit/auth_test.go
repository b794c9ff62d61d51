package cachekit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeAuthTransport struct {
	postUnauthResp map[string]any
	postUnauthErr  error
	postResp       map[string]any
	postErr        error
	postUnauthURLs []string
	postURLs       []string
}

func (f *fakeAuthTransport) PostUnauthenticated(ctx context.Context, url string, body any) (map[string]any, error) {
	f.postUnauthURLs = append(f.postUnauthURLs, url)
	return f.postUnauthResp, f.postUnauthErr
}

func (f *fakeAuthTransport) Post(ctx context.Context, url string, body any) (map[string]any, error) {
	f.postURLs = append(f.postURLs, url)
	return f.postResp, f.postErr
}

func newTestCoordinator(transport authTransport) *authCoordinator {
	return newAuthCoordinator(newEmitter(), newQueryTable(), transport)
}

func TestAuthCoordinator_GetToken_NoRecords(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	if _, ok := c.getToken("https://example.com/widgets/"); ok {
		t.Error("expected no token with no records")
	}
}

func TestAuthCoordinator_Authorize_ThenGetToken(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	ok, err := c.authorize("tok1", []string{"https://example.com/"}, true)
	if err != nil || !ok {
		t.Fatalf("expected authorize to succeed, got ok=%v err=%v", ok, err)
	}

	tok, found := c.getToken("https://example.com/widgets/1/")
	if !found || tok != "tok1" {
		t.Errorf("expected tok1, got tok=%q found=%v", tok, found)
	}
}

func TestAuthCoordinator_Authorize_SameTokenTwiceIsNoOp(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	c.authorize("tok1", []string{"https://example.com/"}, true)

	ok, err := c.authorize("tok1", []string{"https://example.com/"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected authorize to be a no-op for an already-valid token")
	}
}

func TestAuthCoordinator_Authorize_PreventDefault(t *testing.T) {
	events := newEmitter()
	c := newAuthCoordinator(events, newQueryTable(), &fakeAuthTransport{})
	events.OnAuthorization(func(ev *AuthorizationEvent) {
		ev.PreventDefault()
	})

	ok, err := c.authorize("tok1", []string{"https://example.com/"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected authorize to report no effect when prevented")
	}
	if _, found := c.getToken("https://example.com/widgets/"); found {
		t.Error("expected no token recorded when authorization is prevented")
	}
}

func TestAuthCoordinator_Authorize_NarrowsExistingRecords(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	c.authorize("tok1", []string{"https://example.com/"}, true)
	c.authorize("tok2", []string{"https://example.com/"}, true)

	tok, found := c.getToken("https://example.com/widgets/")
	if !found || tok != "tok2" {
		t.Errorf("expected tok2 to supersede tok1, got tok=%q found=%v", tok, found)
	}
}

func TestAuthCoordinator_IsAuthorized(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	if c.isAuthorized("https://example.com/widgets/") {
		t.Error("expected not authorized before any token recorded")
	}
	c.authorize("tok1", []string{"https://example.com/"}, true)
	if !c.isAuthorized("https://example.com/widgets/") {
		t.Error("expected authorized after authorize")
	}
}

func TestAuthCoordinator_InvalidateForURL(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	c.authorize("tok1", []string{"https://example.com/"}, true)

	c.invalidateForURL("https://example.com/widgets/")

	if _, found := c.getToken("https://example.com/widgets/"); found {
		t.Error("expected token to no longer be offered after invalidation")
	}
}

func TestAuthCoordinator_RequestAuthentication_ResolvedByAuthorize(t *testing.T) {
	events := newEmitter()
	c := newAuthCoordinator(events, newQueryTable(), &fakeAuthTransport{})

	events.OnAuthentication(func(ev *AuthenticationEvent) {
		go func() {
			c.authorize("tok1", []string{"https://example.com/"}, true)
		}()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	tok, err := c.requestAuthentication(ctx, "https://example.com/widgets/1/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok1" {
		t.Errorf("expected tok1, got %q", tok)
	}
}

func TestAuthCoordinator_RequestAuthentication_ConcurrentCallersShareChallenge(t *testing.T) {
	events := newEmitter()
	c := newAuthCoordinator(events, newQueryTable(), &fakeAuthTransport{})

	var fired int
	events.OnAuthentication(func(ev *AuthenticationEvent) {
		fired++
		ch := ev.WaitForDecision()
		go func() {
			time.Sleep(10 * time.Millisecond)
			c.authorize("shared-tok", []string{"https://example.com/"}, true)
			ev.Resolve()
			<-ch
		}()
	})

	ctx := context.Background()
	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			tok, err := c.requestAuthentication(ctx, "https://example.com/widgets/1/")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results <- tok
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case tok := <-results:
			if tok != "shared-tok" {
				t.Errorf("expected shared-tok, got %q", tok)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for concurrent requestAuthentication calls")
		}
	}
	if fired != 1 {
		t.Errorf("expected a single authentication event fired for concurrent callers, got %d", fired)
	}
}

func TestAuthCoordinator_RequestAuthentication_PreventDefaultReturnsEmptyToken(t *testing.T) {
	events := newEmitter()
	c := newAuthCoordinator(events, newQueryTable(), &fakeAuthTransport{})
	events.OnAuthentication(func(ev *AuthenticationEvent) {
		ev.PreventDefault()
	})

	tok, err := c.requestAuthentication(context.Background(), "https://example.com/widgets/1/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "" {
		t.Errorf("expected empty token when challenge prevented, got %q", tok)
	}
}

func TestAuthCoordinator_CancelAuthentication(t *testing.T) {
	events := newEmitter()
	c := newAuthCoordinator(events, newQueryTable(), &fakeAuthTransport{})
	events.OnAuthentication(func(ev *AuthenticationEvent) {
		ev.WaitForDecision()
	})

	done := make(chan string, 1)
	go func() {
		tok, _ := c.requestAuthentication(context.Background(), "https://example.com/widgets/1/")
		done <- tok
	}()

	time.Sleep(20 * time.Millisecond)
	c.cancelAuthentication("https://example.com/widgets/1/")

	select {
	case tok := <-done:
		if tok != "" {
			t.Errorf("expected empty token after cancellation, got %q", tok)
		}
	case <-time.After(time.Second):
		t.Fatal("expected requestAuthentication to return after cancelAuthentication")
	}
}

func TestAuthCoordinator_Authenticate_Success(t *testing.T) {
	transport := &fakeAuthTransport{postUnauthResp: map[string]any{"key": "new-tok"}}
	c := newTestCoordinator(transport)

	tok, err := c.authenticate(context.Background(), "https://example.com/login", map[string]any{"u": "a"}, []string{"https://example.com/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "new-tok" {
		t.Errorf("expected new-tok, got %q", tok)
	}
	if !c.isAuthorized("https://example.com/widgets/") {
		t.Error("expected authenticate to authorize the returned token")
	}
	if len(transport.postUnauthURLs) != 1 || transport.postUnauthURLs[0] != "https://example.com/login" {
		t.Errorf("unexpected login URL: %v", transport.postUnauthURLs)
	}
}

func TestAuthCoordinator_Authenticate_TransportError(t *testing.T) {
	wantErr := errors.New("network down")
	c := newTestCoordinator(&fakeAuthTransport{postUnauthErr: wantErr})

	_, err := c.authenticate(context.Background(), "https://example.com/login", nil, nil)
	if err != wantErr {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestAuthCoordinator_Authenticate_NoKeyInResponse(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{postUnauthResp: map[string]any{}})

	_, err := c.authenticate(context.Background(), "https://example.com/login", nil, nil)
	if err == nil {
		t.Fatal("expected error when response has no key")
	}
}

func TestAuthCoordinator_CancelAuthorization_NarrowsDenySet(t *testing.T) {
	c := newTestCoordinator(&fakeAuthTransport{})
	c.authorize("tok1", []string{"https://example.com/"}, true)

	c.cancelAuthorization([]string{"https://example.com/widgets/"})

	if c.isAuthorized("https://example.com/widgets/1/") {
		t.Error("expected cancelAuthorization to deny the narrowed scope")
	}
	if !c.isAuthorized("https://example.com/other/") {
		t.Error("expected cancelAuthorization to leave unrelated scopes authorized")
	}
}

func TestAuthCoordinator_RevokeAuthorization_EvictsCachedQueries(t *testing.T) {
	table := newQueryTable()
	q := newObjectQuery("https://example.com/widgets/1/", QueryOptions{})
	table.insertFront(q)

	events := newEmitter()
	transport := &fakeAuthTransport{}
	c := newAuthCoordinator(events, table, transport)
	c.authorize("tok1", []string{"https://example.com/"}, true)

	err := c.revokeAuthorization(context.Background(), "", []string{"https://example.com/widgets/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.findQuery(queryObject, "https://example.com/widgets/1/", 0, QueryOptions{}) != nil {
		t.Error("expected cached query to be evicted after revocation")
	}
	if c.isAuthorized("https://example.com/widgets/1/") {
		t.Error("expected token no longer to authorize the revoked scope")
	}
}

func TestAuthCoordinator_RevokeAuthorization_PostsLogoutURL(t *testing.T) {
	transport := &fakeAuthTransport{}
	c := newTestCoordinator(transport)

	c.revokeAuthorization(context.Background(), "https://example.com/logout", nil)

	if len(transport.postURLs) != 1 || transport.postURLs[0] != "https://example.com/logout" {
		t.Errorf("expected logout POST, got %v", transport.postURLs)
	}
}

func TestAuthCoordinator_RevokeAuthorization_LogoutError(t *testing.T) {
	wantErr := errors.New("logout failed")
	transport := &fakeAuthTransport{postErr: wantErr}
	c := newTestCoordinator(transport)

	err := c.revokeAuthorization(context.Background(), "https://example.com/logout", nil)
	if err != wantErr {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestAuthCoordinator_RevokeAuthorization_PreventDefaultSkipsEviction(t *testing.T) {
	table := newQueryTable()
	q := newObjectQuery("https://example.com/widgets/1/", QueryOptions{})
	table.insertFront(q)

	events := newEmitter()
	events.OnDeauthorization(func(ev *DeauthorizationEvent) {
		ev.PreventDefault()
	})
	c := newAuthCoordinator(events, table, &fakeAuthTransport{})

	c.revokeAuthorization(context.Background(), "", []string{"https://example.com/widgets/"})

	if table.findQuery(queryObject, "https://example.com/widgets/1/", 0, QueryOptions{}) == nil {
		t.Error("expected eviction to be skipped when deauthorization is prevented")
	}
}

func TestSubtractPrefixes(t *testing.T) {
	tests := []struct {
		name   string
		allow  []string
		remove []string
		want   []string
	}{
		{"empty remove returns allow unchanged", []string{"a", "b"}, nil, []string{"a", "b"}},
		{"removes matching entries", []string{"a", "b", "c"}, []string{"b"}, []string{"a", "c"}},
		{"removes all entries", []string{"a", "b"}, []string{"a", "b"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := subtractPrefixes(tt.allow, tt.remove)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestAuthRecord_Matches(t *testing.T) {
	r := &authRecord{
		token: "tok",
		allow: []string{"https://example.com/"},
		deny:  []string{"https://example.com/secrets/"},
	}

	if !r.matches("https://example.com/widgets/") {
		t.Error("expected match within allow, outside deny")
	}
	if r.matches("https://example.com/secrets/1/") {
		t.Error("expected no match within deny")
	}
	if r.matches("https://other.com/") {
		t.Error("expected no match outside allow")
	}

	r.invalid = true
	if r.matches("https://example.com/widgets/") {
		t.Error("expected invalid record to never match")
	}
}
