package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrDeliveryUncertain is returned when a payload was written but no
// acknowledgement came back within the ack window. The message may or
// may not have been processed by the remote side.
var ErrDeliveryUncertain = errors.New("relay: delivery uncertain, no acknowledgement received")

const defaultAckTimeout = 10 * time.Second

// Sender delivers payloads to whoever is listening on the hybrid
// connection. Every send opens a fresh websocket so a broken previous
// delivery cannot poison the next one.
type Sender struct {
	signer *Signer
	logger *slog.Logger
	dialer *websocket.Dialer

	// scheme is "wss" outside of tests
	scheme     string
	ackTimeout time.Duration

	// One delivery at a time keeps ack attribution unambiguous.
	mu sync.Mutex
}

// NewSender creates a sender for the signer's hybrid connection.
func NewSender(signer *Signer, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		signer:     signer,
		logger:     logger,
		dialer:     websocket.DefaultDialer,
		scheme:     "wss",
		ackTimeout: defaultAckTimeout,
	}
}

func (s *Sender) connectURL() string {
	return websocketURL(s.scheme, s.signer.Namespace, s.signer.EntityPath, "connect", s.signer.Token(time.Now()))
}

// Send writes the payload and waits for the listener's acknowledgement,
// returning it verbatim.
func (s *Sender) Send(ctx context.Context, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.connectURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("relay: connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("relay: send: %w", err)
	}

	deadline := time.Now().Add(s.ackTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("relay: deadline: %w", err)
	}

	_, ack, err := conn.ReadMessage()
	if err != nil {
		s.logger.Warn("No acknowledgement for relay delivery",
			"entity", s.signer.EntityPath,
			"error", err)
		return nil, ErrDeliveryUncertain
	}

	s.logger.Debug("Relay delivery acknowledged",
		"entity", s.signer.EntityPath,
		"ack_size_bytes", len(ack))
	return ack, nil
}
