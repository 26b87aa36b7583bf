// Package core wires the receiver together: framebuffer store, TCP
// listener, session reader loop, frame-tick updater and the optional
// MQTT status emitter.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/melMass/Aton/internal/config"
	"github.com/melMass/Aton/internal/emitter"
	"github.com/melMass/Aton/internal/fb"
	"github.com/melMass/Aton/internal/notify"
	"github.com/melMass/Aton/internal/server"
)

// healthInterval is how often the emitter publishes liveness.
const healthInterval = 10 * time.Second

// Receiver is the service orchestrator.
type Receiver struct {
	cfg *config.Config

	store   *fb.Store
	surface *fb.Surface
	bus     *notify.Bus
	updater *Updater
	emitter *emitter.MQTTEmitter

	listener *server.Listener

	started time.Time
	mu      sync.RWMutex
	running bool
	wg      sync.WaitGroup
}

// New builds a receiver from configuration. The listener is not bound
// until Run.
func New(cfg *config.Config) *Receiver {
	store := fb.NewStore(fb.Options{
		MultiFrame: cfg.Viewer.MultiFrame,
		EnableAOVs: cfg.Viewer.EnableAOVs,
		LiveCamera: cfg.Viewer.LiveCamera,
	})
	bus := notify.New()
	store.SetUpdateFunc(bus.Publish)

	r := &Receiver{
		cfg:     cfg,
		store:   store,
		surface: fb.NewSurface(store),
		bus:     bus,
		updater: NewUpdater(fb.NewSurface(store), cfg.Viewer.Tick()),
	}
	if cfg.MQTT.Enabled {
		r.emitter = emitter.New(cfg)
	}
	return r
}

// Store exposes the control surface (ClearAll, toggles, hooks).
func (r *Receiver) Store() *fb.Store { return r.store }

// Surface exposes the read-only scan view.
func (r *Receiver) Surface() *fb.Surface { return r.surface }

// Updater exposes the tick loop for host time updates.
func (r *Receiver) Updater() *Updater { return r.updater }

// Bus exposes the update-event bus for additional subscribers.
func (r *Receiver) Bus() *notify.Bus { return r.bus }

// Port returns the bound port, 0 before Run.
func (r *Receiver) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.listener == nil {
		return 0
	}
	return r.listener.Port()
}

// Run binds the listener and serves sessions until ctx is cancelled or
// the QUIT sentinel arrives. Sessions are strictly serialized; a second
// renderer waits in the OS backlog until the current session ends.
func (r *Receiver) Run(ctx context.Context) error {
	// Background flows (updater, emitter, health) live exactly as long
	// as this call, whether it ends by caller cancel or quit sentinel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := server.Listen(r.cfg.Server.Port, r.cfg.Server.PortSearch)
	if err != nil {
		// Fatal to the listener only; the host process stays up and the
		// compositor simply sees no update.
		return fmt.Errorf("core: %w", err)
	}

	r.mu.Lock()
	r.listener = ln
	r.running = true
	r.started = time.Now()
	r.mu.Unlock()

	slog.Info("receiver running",
		"instance_id", r.cfg.InstanceID,
		"port", ln.Port(),
		"multi_frame", r.cfg.Viewer.MultiFrame,
		"enable_aovs", r.cfg.Viewer.EnableAOVs,
	)

	if r.emitter != nil {
		r.startEmitter(ctx)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.updater.Run(ctx)
	}()

	// Cooperative shutdown: the only supported way to unblock Accept
	// from this process is the QUIT self-connect.
	stop := context.AfterFunc(ctx, func() {
		if err := ln.Quit(); err != nil {
			slog.Warn("quit self-connect failed", "error", err)
		}
	})
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("core: accept: %w", err)
		}
		if server.NewSession(conn, r.store).Run() {
			slog.Info("listener shutting down")
			return nil
		}
	}
}

// Shutdown waits for background flows and drops the broker connection.
func (r *Receiver) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown: %w", ctx.Err())
	}

	if r.emitter != nil {
		r.emitter.Disconnect()
	}
	r.bus.Close()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	return nil
}

// startEmitter connects the broker, subscribes to the update bus and
// spawns the publish and health loops.
func (r *Receiver) startEmitter(ctx context.Context) {
	if err := r.emitter.Connect(ctx); err != nil {
		// The pixel path does not depend on the broker; keep running
		// and let auto-reconnect catch up.
		slog.Warn("mqtt connect failed, emitter degraded", "error", err)
	}

	events := make(chan notify.Event, 16)
	if err := r.bus.Subscribe("mqtt-emitter", events); err != nil {
		slog.Error("emitter subscribe failed", "error", err)
		return
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.emitter.Run(ctx, events, r.surface)
	}()
	go func() {
		defer r.wg.Done()
		r.healthLoop(ctx)
	}()
}

func (r *Receiver) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.store.Stats()
			err := r.emitter.PublishHealth(emitter.HealthEvent{
				InstanceID:    r.cfg.InstanceID,
				UptimeSeconds: int64(time.Since(r.started).Seconds()),
				Sessions:      stats.Sessions,
				Frames:        stats.Frames,
			})
			if err != nil {
				slog.Debug("health publish failed", "error", err)
			}
		}
	}
}
