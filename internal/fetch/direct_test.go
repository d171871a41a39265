package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"menfessbot/internal/transport"
	logx "menfessbot/pkg/logx"
)

func TestDirectFetchSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	policy, store := newTestPolicy(t)
	deliver := &fakeDeliverer{}
	d := NewDirectFetch(policy, deliver, 1024, logx.Nop())

	err := d.Fetch(context.Background(), 7, srv.URL+"/pic.jpg", transport.ChatTarget{ChatID: 7})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(deliver.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(deliver.sent))
	}
	if deliver.kinds[0] != transport.FileImage {
		t.Fatalf("kind = %s, want image", deliver.kinds[0])
	}
	if usageCount(t, store, 7) != 1 {
		t.Fatalf("usage = %d, want 1", usageCount(t, store, 7))
	}
}

func TestDirectFetchOversizedByContentLength(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	policy, store := newTestPolicy(t)
	d := NewDirectFetch(policy, &fakeDeliverer{}, 1024, logx.Nop())

	err := d.Fetch(context.Background(), 7, srv.URL+"/pic.jpg", transport.ChatTarget{ChatID: 7})
	if !IsOversized(err) {
		t.Fatalf("err = %v, want OversizedError", err)
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestDirectFetchOversizedByActualBytes(t *testing.T) {
	t.Parallel()
	// Chunked response with no length header: the pre-check cannot catch
	// it, the post-read count must.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, _ := w.(http.Flusher)
		for i := 0; i < 8; i++ {
			_, _ = w.Write(make([]byte, 256))
			if fl != nil {
				fl.Flush()
			}
		}
	}))
	defer srv.Close()

	policy, store := newTestPolicy(t)
	deliver := &fakeDeliverer{}
	d := NewDirectFetch(policy, deliver, 1024, logx.Nop())

	err := d.Fetch(context.Background(), 7, srv.URL+"/pic.jpg", transport.ChatTarget{ChatID: 7})
	if !IsOversized(err) {
		t.Fatalf("err = %v, want OversizedError", err)
	}
	if len(deliver.sent) != 0 {
		t.Fatal("oversized image must not be delivered")
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestDirectFetchBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	policy, store := newTestPolicy(t)
	d := NewDirectFetch(policy, &fakeDeliverer{}, 1024, logx.Nop())

	err := d.Fetch(context.Background(), 7, srv.URL+"/gone.jpg", transport.ChatTarget{ChatID: 7})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
	if usageCount(t, store, 7) != 0 {
		t.Fatalf("usage = %d, want 0 after rollback", usageCount(t, store, 7))
	}
}

func TestDirectFetchEmptyBody(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	policy, _ := newTestPolicy(t)
	d := NewDirectFetch(policy, &fakeDeliverer{}, 1024, logx.Nop())

	err := d.Fetch(context.Background(), 7, srv.URL+"/pic.jpg", transport.ChatTarget{ChatID: 7})
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}

func TestIsDirectImageURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com/a.jpg", true},
		{"https://example.com/a.JPEG", true},
		{"https://example.com/a.png?size=large", true},
		{"https://example.com/a.webp#frag", true},
		{"https://example.com/watch?v=a.jpg", false},
		{"https://example.com/a.mp4", false},
		{"https://example.com/page", false},
	}
	for _, tt := range tests {
		if got := IsDirectImageURL(tt.url); got != tt.want {
			t.Fatalf("IsDirectImageURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestImageExt(t *testing.T) {
	t.Parallel()
	if got := imageExt("https://example.com/a.PNG?x=1"); got != ".png" {
		t.Fatalf("imageExt = %q, want .png", got)
	}
	if got := imageExt("https://example.com/blob"); got != ".img" {
		t.Fatalf("imageExt = %q, want .img", got)
	}
	if !strings.HasPrefix(imageExt("https://example.com/a.jpeg"), ".jpe") {
		t.Fatal("jpeg ext lost")
	}
}
