// Package websocket streams a recording session to a remote collector
// service, one JSON envelope per frame or telemetry sample.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ai4ce/vpr-collector/internal/geo"
	"github.com/ai4ce/vpr-collector/pkg/core"
	"github.com/ai4ce/vpr-collector/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket.
// Frame and telemetry messages do not block; session boundaries wait for a
// server ack. Servers may ack frames to release them from the replay window.
type Backend struct {
	conn      *connection
	cfg       Config
	projector *geo.Projector
}

// New creates a new WebSocket storage backend. A nil logger uses
// slog.Default; a nil projector omits geographic coordinates.
func New(cfg Config, projector *geo.Projector, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:      newConnection(logger.With("component", "websocket")),
		cfg:       cfg,
		projector: projector,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Pending reports messages not yet handed to the socket and frames the
// server has not acked.
func (b *Backend) Pending() map[string]int {
	return map[string]int{
		"websocket_send":           b.conn.out.len(),
		"websocket_unacked_frames": b.conn.inflight.len(),
	}
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (b *Backend) lonLat() streaming.LonLatFunc {
	if b.projector == nil {
		return nil
	}
	return b.projector.WorldToLonLat
}

// StartSession sends the session description and waits for server ack.
// The message is replayed on every reconnect until EndSession.
func (b *Backend) StartSession(s *core.SessionInfo) error {
	payload := streaming.StartSessionPayload{Session: s}
	if b.projector != nil {
		o := b.projector.Origin()
		payload.Origin = &streaming.Origin{Lat: o.Lat, Lon: o.Lon}
	}
	data, err := marshalEnvelope(streaming.TypeStartSession, payload)
	if err != nil {
		return err
	}
	b.conn.begin(data)
	return b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for server ack. Replay state is
// dropped even when the ack never comes.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err == nil {
		err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)
	}
	b.conn.end()
	return err
}

// RecordFrame queues a frame message. Frames are kept over telemetry when
// the outbox is full and replayed after a reconnect until acked.
func (b *Backend) RecordFrame(r *core.FrameRecord) error {
	data, err := marshalEnvelope(streaming.TypeFrame, streaming.NewFramePayload(r, b.lonLat()))
	if err != nil {
		return err
	}
	b.conn.send(message{lane: laneFrame, key: frameKey{sensor: r.SensorID, frame: r.Frame}, data: data})
	return nil
}

// RecordVehicleState queues a telemetry sample, the first thing shed under
// back-pressure.
func (b *Backend) RecordVehicleState(s *core.VehicleState) error {
	data, err := marshalEnvelope(streaming.TypeVehicleState, streaming.NewVehicleStatePayload(s, b.lonLat()))
	if err != nil {
		return err
	}
	b.conn.send(message{lane: laneTelemetry, data: data})
	return nil
}
