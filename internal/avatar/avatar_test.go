package avatar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

// stubGuard はValidateURLの結果を固定するURLGuard。
type stubGuard struct{ err error }

func (g stubGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g stubGuard) ValidateURL(string) error { return g.err }

func newImageServer(t *testing.T, status int, contentType string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestGeneratedURL(t *testing.T) {
	got := GeneratedURL("Ann Lee")
	want := "https://ui-avatars.com/api/?background=random&name=Ann+Lee&size=200"
	if got != want {
		t.Errorf("GeneratedURL() = %q, want %q", got, want)
	}

	if !strings.Contains(GeneratedURL("  "), "name=User") {
		t.Errorf("empty name should fall back to User: %s", GeneratedURL(""))
	}
}

func TestResolver_Fallback(t *testing.T) {
	r := NewResolver(Config{})
	if got := r.Fallback("Ann"); got != GeneratedURL("Ann") {
		t.Errorf("Fallback() = %q, want %q", got, GeneratedURL("Ann"))
	}
}

func TestVerify_ReachableImage(t *testing.T) {
	ts := newImageServer(t, http.StatusOK, "image/jpeg")
	r := NewResolver(Config{Client: ts.Client()})

	candidate := ts.URL + "/photo.jpg"
	got := r.Verify(context.Background(), strPtr(candidate))
	if got == nil || *got != candidate {
		t.Errorf("Verify() = %v, want %q", got, candidate)
	}
}

func TestVerify_RejectsUnusableImage(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
	}{
		{name: "404", status: http.StatusNotFound, contentType: "image/png"},
		{name: "HTML", status: http.StatusOK, contentType: "text/html; charset=utf-8"},
		{name: "Content-Typeなし", status: http.StatusOK, contentType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newImageServer(t, tt.status, tt.contentType)
			r := NewResolver(Config{Client: ts.Client()})

			if got := r.Verify(context.Background(), strPtr(ts.URL+"/photo")); got != nil {
				t.Errorf("Verify() = %q, want nil", *got)
			}
		})
	}
}

func TestVerify_NoCandidate(t *testing.T) {
	r := NewResolver(Config{})

	if got := r.Verify(context.Background(), nil); got != nil {
		t.Errorf("Verify(nil) = %q", *got)
	}
	if got := r.Verify(context.Background(), strPtr("")); got != nil {
		t.Errorf("Verify(\"\") = %q", *got)
	}
}

func TestVerify_BlockedBySSRFGuard(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	r := NewResolver(Config{Guard: stubGuard{err: errors.New("blocked")}, Client: ts.Client()})
	if got := r.Verify(context.Background(), strPtr(ts.URL+"/a.png")); got != nil {
		t.Errorf("Verify() = %q, want nil", *got)
	}
	if called {
		t.Error("blocked URL must not be requested")
	}
}

func TestVerify_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	r := NewResolver(Config{Timeout: 50 * time.Millisecond, Client: ts.Client()})

	start := time.Now()
	if got := r.Verify(context.Background(), strPtr(ts.URL+"/slow.png")); got != nil {
		t.Errorf("Verify() = %q, want nil", *got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("check did not honor timeout: %v", elapsed)
	}
}
