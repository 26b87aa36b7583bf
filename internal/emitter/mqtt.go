// Package emitter publishes render status to an MQTT broker so wranglers
// can watch farm sessions without attaching a compositor.
//
// The emitter is optional: the receiver runs identically without it, and
// a broker outage never back-pressures the pixel path — events arrive
// over the notify bus, which drops rather than queues.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/melMass/Aton/internal/config"
	"github.com/melMass/Aton/internal/fb"
	"github.com/melMass/Aton/internal/notify"
)

// StatusEvent is the wire payload published per anchor-bucket update,
// msgpack-encoded to keep broker traffic small at bucket rates.
type StatusEvent struct {
	InstanceID string  `msgpack:"instance_id"`
	SessionID  int32   `msgpack:"session_id"`
	Frame      float64 `msgpack:"frame"`
	FrameIndex int     `msgpack:"frame_index"`
	Counter    uint64  `msgpack:"counter"`
	Progress   int64   `msgpack:"progress"`
	RAM        int64   `msgpack:"ram_mb"`
	PeakRAM    int64   `msgpack:"peak_ram_mb"`
	ElapsedMS  int32   `msgpack:"elapsed_ms"`
	Version    string  `msgpack:"version"`
}

// HealthEvent is the periodic liveness payload.
type HealthEvent struct {
	InstanceID    string `msgpack:"instance_id"`
	UptimeSeconds int64  `msgpack:"uptime_seconds"`
	Sessions      int    `msgpack:"sessions"`
	Frames        int    `msgpack:"frames"`
}

// MQTTEmitter publishes status and health events to an MQTT broker.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // exported for the health endpoint

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// New creates an unconnected emitter.
func New(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// IsConnected reports broker connectivity.
func (e *MQTTEmitter) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected && e.Client != nil && e.Client.IsConnected()
}

// Run drains update events from the notify bus until ctx is cancelled,
// enriching each with the frame's status snapshot and publishing it.
func (e *MQTTEmitter) Run(ctx context.Context, events <-chan notify.Event, surface *fb.Surface) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.publishStatus(ev, surface); err != nil {
				slog.Debug("status publish failed", "error", err)
			}
		}
	}
}

func (e *MQTTEmitter) publishStatus(ev notify.Event, surface *fb.Surface) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	status := surface.Status(ev.SessionID, ev.FrameIndex)
	payload, err := msgpack.Marshal(StatusEvent{
		InstanceID: e.cfg.InstanceID,
		SessionID:  ev.SessionID,
		Frame:      ev.Frame,
		FrameIndex: ev.FrameIndex,
		Counter:    ev.Counter,
		Progress:   ev.Progress,
		RAM:        status.RAM,
		PeakRAM:    status.PeakRAM,
		ElapsedMS:  status.ElapsedMS,
		Version:    status.Version,
	})
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal status: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Status, payload)
}

// PublishHealth publishes a liveness payload.
func (e *MQTTEmitter) PublishHealth(h HealthEvent) error {
	if !e.IsConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}
	payload, err := msgpack.Marshal(h)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal health: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Health, payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	token := e.Client.Publish(topic, e.cfg.MQTT.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}
	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	return nil
}

// Disconnect flushes and drops the broker connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil {
		e.Client.Disconnect(250)
	}
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
