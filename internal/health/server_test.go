package health

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestServer_ServesProbesAndMetrics(t *testing.T) {
	srv := NewServer(New(
		Checker{Name: "memory", Check: func(_ context.Context) error { return nil }},
	), nil, nil)

	if err := srv.Start("localhost:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	base := "http://" + srv.Addr()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := NewServer(New(), nil, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}
