package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func newTestClient() *HTTPClient {
	return NewHTTPClient(HTTPConfig{
		UserAgent:     "Mozilla/5.0 test",
		ListTimeout:   time.Second,
		DetailTimeout: time.Second,
	}, nil, nil)
}

func TestDetailDecodesGBK(t *testing.T) {
	t.Parallel()

	encoded, err := simplifiedchinese.GBK.NewEncoder().String("<html><body><p>政府公告</p></body></html>")
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "Mozilla/5.0 test" {
			t.Errorf("unexpected user agent %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=gbk")
		_, _ = w.Write([]byte(encoded))
	}))
	defer srv.Close()

	page, err := newTestClient().Detail(context.Background(), srv.URL+"/a.html")
	if err != nil {
		t.Fatalf("Detail returned error: %v", err)
	}
	if got := string(page.Body); got != "<html><body><p>政府公告</p></body></html>" {
		t.Fatalf("body not decoded: %q", got)
	}
	if page.URL != srv.URL+"/a.html" || page.FetchedAt.IsZero() {
		t.Fatalf("unexpected page metadata: %+v", page)
	}
}

func TestNon2xxIsUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient().Detail(context.Background(), srv.URL)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}

func TestDetailTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewHTTPClient(HTTPConfig{DetailTimeout: 50 * time.Millisecond}, nil, nil)
	if _, err := client.Detail(context.Background(), srv.URL); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
