package core

import (
	"context"
	"testing"
	"time"

	"github.com/melMass/Aton/internal/config"
	"github.com/melMass/Aton/internal/wire"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.InstanceID = "test"
	cfg.Server.Port = 0 // kernel-assigned
	cfg.Server.PortSearch = false
	return cfg
}

// TestReceiverServesAndShutsDown drives the full wiring: bind, accept a
// renderer, store its pixels, then shut down via context cancellation
// (which rides the QUIT self-connect).
func TestReceiverServesAndShutsDown(t *testing.T) {
	r := New(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	// Wait for the bind.
	deadline := time.Now().Add(2 * time.Second)
	for r.Port() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(2 * time.Millisecond)
	}

	c, err := wire.Dial("localhost", r.Port())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	h := &wire.Header{SessionID: 1, Xres: 2, Yres: 2, RegionArea: 4, Frame: 1}
	if err := c.OpenImage(h); err != nil {
		t.Fatalf("OpenImage failed: %v", err)
	}
	p := &wire.Pixels{
		Xres: 2, Yres: 2, BucketW: 2, BucketH: 2, Spp: 4,
		AOVName: "RGBA", Data: make([]float32, 2*2*4),
	}
	if err := c.SendPixels(p); err != nil {
		t.Fatalf("SendPixels failed: %v", err)
	}
	if err := c.CloseImage(); err != nil {
		t.Fatalf("CloseImage failed: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for r.Surface().UpdateCounter() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bucket never landed")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !r.Surface().IsReady(1, 0) {
		t.Error("frame not ready")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

// TestReceiverBindError: a taken port with search off is fatal to the
// listener only — Run returns the bind error and nothing panics.
func TestReceiverBindError(t *testing.T) {
	first := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go first.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for first.Port() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first listener never bound")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cfg := testConfig()
	cfg.Server.Port = first.Port()
	second := New(cfg)
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("expected bind error for taken port")
	}
}
