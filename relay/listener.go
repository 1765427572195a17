package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Handler processes one inbound payload and returns the acknowledgement
// to send back. A non-nil error suppresses the acknowledgement so the
// sender retries delivery.
type Handler interface {
	Handle(ctx context.Context, payload []byte) ([]byte, error)
}

const (
	defaultReceiveTimeout = 30 * time.Second
	defaultReconnectDelay = 5 * time.Second
)

// Listener maintains a control channel on the hybrid connection and
// serves rendezvous connections as senders show up.
type Listener struct {
	signer  *Signer
	handler Handler
	logger  *slog.Logger
	dialer  *websocket.Dialer

	// scheme is "wss" outside of tests
	scheme         string
	receiveTimeout time.Duration
	reconnectDelay time.Duration
}

// NewListener creates a listener for the signer's hybrid connection.
func NewListener(signer *Signer, handler Handler, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		signer:         signer,
		handler:        handler,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
		scheme:         "wss",
		receiveTimeout: defaultReceiveTimeout,
		reconnectDelay: defaultReconnectDelay,
	}
}

// controlFrame is a control channel message. Only accept commands are
// acted on; everything else is logged and skipped.
type controlFrame struct {
	Accept *acceptCommand `json:"accept"`
}

type acceptCommand struct {
	Address string `json:"address"`
	ID      string `json:"id"`
}

func websocketURL(scheme, namespace, entityPath, action, token string) string {
	return fmt.Sprintf("%s://%s/$hc/%s?sb-hc-action=%s&sb-hc-token=%s",
		scheme, namespace, entityPath, action, url.QueryEscape(token))
}

func (l *Listener) controlURL() string {
	token := l.signer.Token(time.Now())
	if parsed, err := ParseToken(token); err == nil {
		l.logger.Debug("Signed listen token",
			"entity", l.signer.EntityPath,
			"key_name", parsed.KeyName,
			"expires", parsed.Expiry)
	}
	return websocketURL(l.scheme, l.signer.Namespace, l.signer.EntityPath, "listen", token)
}

// Run keeps the control channel open until ctx is cancelled, redialing
// after transient failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		conn, _, err := l.dialer.DialContext(ctx, l.controlURL(), nil)
		if err != nil {
			l.logger.Warn("Relay control channel dial failed",
				"entity", l.signer.EntityPath,
				"error", err)
			if !l.sleep(ctx) {
				return nil
			}
			continue
		}

		l.logger.Info("Relay listener attached", "entity", l.signer.EntityPath)
		l.serveControl(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
		if !l.sleep(ctx) {
			return nil
		}
	}
}

func (l *Listener) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.reconnectDelay):
		return true
	}
}

// serveControl reads control frames until the connection breaks.
func (l *Listener) serveControl(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("Relay control channel closed",
					"entity", l.signer.EntityPath,
					"error", err)
			}
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			l.logger.Warn("Malformed relay control frame", "error", err)
			continue
		}

		if frame.Accept == nil {
			l.logger.Debug("Ignoring relay control frame without accept")
			continue
		}

		go l.handleRendezvous(ctx, frame.Accept.Address)
	}
}

// handleRendezvous accepts one sender connection, processes its payload
// and acknowledges it. Each rendezvous carries a single message.
func (l *Listener) handleRendezvous(ctx context.Context, address string) {
	conn, _, err := l.dialer.DialContext(ctx, address, nil)
	if err != nil {
		l.logger.Error("Rendezvous dial failed", "error", err)
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(l.receiveTimeout)); err != nil {
		l.logger.Error("Rendezvous deadline failed", "error", err)
		return
	}

	_, payload, err := conn.ReadMessage()
	if err != nil {
		l.logger.Warn("Rendezvous receive failed", "error", err)
		return
	}

	l.logger.Debug("Relay payload received", "size_bytes", len(payload))

	ack, err := l.handler.Handle(ctx, payload)
	if err != nil {
		// No ack: the sender treats the delivery as failed and retries.
		l.logger.Error("Relay handler failed", "error", err)
		return
	}
	if ack == nil {
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
		l.logger.Warn("Failed to send acknowledgement", "error", err)
	}
}
