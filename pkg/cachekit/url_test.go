package cachekit

import "testing"

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"/todos", "/todos/"},
		{"/todos/", "/todos/"},
		{"/todos?status=open", "/todos/?status=open"},
	}
	for _, tt := range tests {
		if got := canonicalURL(tt.input); got != tt.want {
			t.Errorf("canonicalURL(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFolder(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"/todos/123/", "/todos/"},
		{"https://api.example.com/todos/123/", "https://api.example.com/todos/"},
		{"/todos/123/?x=1", "/todos/"},
	}
	for _, tt := range tests {
		if got := folder(tt.input); got != tt.want {
			t.Errorf("folder(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		folder string
		obj    map[string]any
		want   string
	}{
		{"/todos/", map[string]any{"id": float64(123)}, "/todos/123/"},
		{"/todos/", map[string]any{"id": "abc"}, "/todos/abc/"},
		{"/todos", map[string]any{"id": float64(5)}, "/todos/5/"},
		{"/todos/", map[string]any{"url": "/custom/7/"}, "/custom/7/"},
		{"/todos/", map[string]any{}, "/todos/"},
		{"/todos/", nil, "/todos/"},
	}
	for _, tt := range tests {
		if got := objectURL(tt.folder, tt.obj); got != tt.want {
			t.Errorf("objectURL(%q, %v) = %q, want %q", tt.folder, tt.obj, got, tt.want)
		}
	}
}

func TestAttachPageNumber(t *testing.T) {
	if got := attachPageNumber("/todos/", 1); got != "/todos/" {
		t.Errorf("attachPageNumber(page 1) = %q, want unchanged", got)
	}
	if got := attachPageNumber("/todos/", 3); got != "/todos/?page=3" {
		t.Errorf("attachPageNumber = %q, want %q", got, "/todos/?page=3")
	}
	if got := attachPageNumber("/todos/?status=open", 2); got != "/todos/?status=open&page=2" {
		t.Errorf("attachPageNumber = %q, want %q", got, "/todos/?status=open&page=2")
	}
}

func TestMatchURL(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"/api/items/1/", "/api/items/1/", true},
		{"/api/items/1/", "/api/", true},
		{"/api/items/1/", "/api", true},
		{"/api/items/1/", "/apikey", false},
		{"/api/items/1/", "/other/", false},
	}
	for _, tt := range tests {
		if got := matchURL(tt.a, tt.b); got != tt.want {
			t.Errorf("matchURL(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestApplyForceHTTPS(t *testing.T) {
	if got := applyForceHTTPS("http://example.com/todos/", true); got != "https://example.com/todos/" {
		t.Errorf("applyForceHTTPS = %q", got)
	}
	if got := applyForceHTTPS("http://example.com/todos/", false); got != "http://example.com/todos/" {
		t.Errorf("applyForceHTTPS with disabled = %q, want unchanged", got)
	}
	if got := applyForceHTTPS("https://example.com/todos/", true); got != "https://example.com/todos/" {
		t.Errorf("applyForceHTTPS on already-https = %q", got)
	}
}

func TestResolveAgainstBase(t *testing.T) {
	got := resolveAgainstBase("https://api.example.com", "/todos/123/")
	want := "https://api.example.com/todos/123/"
	if got != want {
		t.Errorf("resolveAgainstBase = %q, want %q", got, want)
	}

	abs := resolveAgainstBase("https://api.example.com", "https://other.example.com/todos/")
	if abs != "https://other.example.com/todos/" {
		t.Errorf("resolveAgainstBase with absolute ref = %q, want unchanged", abs)
	}
}
