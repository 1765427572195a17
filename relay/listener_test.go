package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func testSigner(t *testing.T, host string) *Signer {
	t.Helper()
	signer, err := NewSigner(host, "commands", "policy", "secret", time.Hour)
	require.NoError(t, err)
	return signer
}

func wsHost(server *httptest.Server) string {
	return strings.TrimPrefix(server.URL, "http://")
}

type funcHandler func(ctx context.Context, payload []byte) ([]byte, error)

func (f funcHandler) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

func TestHandleRendezvousAcks(t *testing.T) {
	payloadCh := make(chan []byte, 1)
	ackCh := make(chan []byte, 1)

	rendezvous := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"action_type":"create"}`)))

		_, ack, err := conn.ReadMessage()
		require.NoError(t, err)
		ackCh <- ack
	}))
	defer rendezvous.Close()

	handler := funcHandler(func(ctx context.Context, payload []byte) ([]byte, error) {
		payloadCh <- payload
		return []byte(`{"status":"created"}`), nil
	})

	listener := NewListener(testSigner(t, "unused"), handler, nil)
	listener.handleRendezvous(context.Background(), "ws://"+wsHost(rendezvous))

	select {
	case payload := <-payloadCh:
		assert.JSONEq(t, `{"action_type":"create"}`, string(payload))
	default:
		t.Fatal("handler never saw the payload")
	}

	select {
	case ack := <-ackCh:
		assert.JSONEq(t, `{"status":"created"}`, string(ack))
	case <-time.After(time.Second):
		t.Fatal("no acknowledgement arrived")
	}
}

func TestHandleRendezvousNoAckOnHandlerError(t *testing.T) {
	gotAck := make(chan bool, 1)

	rendezvous := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

		conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, _, err = conn.ReadMessage()
		gotAck <- err == nil
	}))
	defer rendezvous.Close()

	handler := funcHandler(func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, assert.AnError
	})

	listener := NewListener(testSigner(t, "unused"), handler, nil)
	listener.handleRendezvous(context.Background(), "ws://"+wsHost(rendezvous))

	select {
	case acked := <-gotAck:
		assert.False(t, acked, "failed handling must not acknowledge")
	case <-time.After(time.Second):
		t.Fatal("rendezvous server did not finish")
	}
}

func TestRunServesAcceptFrames(t *testing.T) {
	handled := make(chan []byte, 1)

	rendezvous := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`)))
		conn.ReadMessage()
	}))
	defer rendezvous.Close()

	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "listen", r.URL.Query().Get("sb-hc-action"))
		assert.NotEmpty(t, r.URL.Query().Get("sb-hc-token"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frame, _ := json.Marshal(controlFrame{
			Accept: &acceptCommand{Address: "ws://" + wsHost(rendezvous)},
		})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

		// Keep the control channel open until the client goes away
		conn.ReadMessage()
	}))
	defer control.Close()

	handler := funcHandler(func(ctx context.Context, payload []byte) ([]byte, error) {
		handled <- payload
		return []byte(`{}`), nil
	})

	listener := NewListener(testSigner(t, wsHost(control)), handler, nil)
	listener.scheme = "ws"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- listener.Run(ctx) }()

	select {
	case payload := <-handled:
		assert.JSONEq(t, `{"hello":"world"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("listener never handled the rendezvous payload")
	}

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestSenderRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "connect", r.URL.Query().Get("sb-hc-action"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"event_type":"mpps.status_update"}`, string(payload))

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`)))
	}))
	defer server.Close()

	sender := NewSender(testSigner(t, wsHost(server)), nil)
	sender.scheme = "ws"

	ack, err := sender.Send(context.Background(), []byte(`{"event_type":"mpps.status_update"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(ack))
}

func TestSenderDeliveryUncertainWithoutAck(t *testing.T) {
	received := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		conn.ReadMessage()
		received <- struct{}{}
		// Never acknowledge
		time.Sleep(500 * time.Millisecond)
	}))
	defer server.Close()

	sender := NewSender(testSigner(t, wsHost(server)), nil)
	sender.scheme = "ws"
	sender.ackTimeout = 200 * time.Millisecond

	_, err := sender.Send(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrDeliveryUncertain)
	<-received
}
