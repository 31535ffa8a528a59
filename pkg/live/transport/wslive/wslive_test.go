package wslive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/live/protocol"
	"github.com/vango-go/vai-live/pkg/live/transport"
)

type fakeEndpoint struct {
	t        *testing.T
	received chan protocol.ClientMessage
	query    chan string
	// script runs after the handshake with the server side of the socket.
	script func(fe *fakeEndpoint, ws *websocket.Conn)
	// skipSetupComplete makes the server answer the setup frame with content.
	skipSetupComplete bool
}

func newFakeEndpoint(t *testing.T, skipSetupComplete bool, script func(fe *fakeEndpoint, ws *websocket.Conn)) (*fakeEndpoint, *httptest.Server) {
	t.Helper()
	fe := &fakeEndpoint{
		t:                 t,
		received:          make(chan protocol.ClientMessage, 16),
		query:             make(chan string, 1),
		script:            script,
		skipSetupComplete: skipSetupComplete,
	}
	srv := httptest.NewServer(http.HandlerFunc(fe.serve))
	t.Cleanup(srv.Close)
	return fe, srv
}

func (fe *fakeEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	fe.query <- r.URL.Query().Get("key")
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	_, data, err := ws.ReadMessage()
	if err != nil {
		return
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil || msg.Setup == nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseProtocolError, "setup required"), time.Now().Add(time.Second))
		return
	}
	fe.received <- msg
	if fe.skipSetupComplete {
		_ = ws.WriteJSON(protocol.ServerMessage{ServerContent: &protocol.ServerContent{TurnComplete: true}})
		return
	}
	// Binary frames, as the production endpoint sends them.
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte(`{"setupComplete":{}}`)); err != nil {
		return
	}
	if fe.script != nil {
		fe.script(fe, ws)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readClient(t *testing.T, ws *websocket.Conn) protocol.ClientMessage {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("server read: %v", err)
		return protocol.ClientMessage{}
	}
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		t.Errorf("server decode: %v", err)
	}
	return msg
}

func TestDial_HandshakeSendReceiveAndNormalClose(t *testing.T) {
	fe, srv := newFakeEndpoint(t, false, func(fe *fakeEndpoint, ws *websocket.Conn) {
		msg := readClient(fe.t, ws)
		fe.received <- msg
		_ = ws.WriteJSON(protocol.ServerMessage{ServerContent: &protocol.ServerContent{
			ModelTurn:    &protocol.Content{Parts: []protocol.Part{{Text: "hi"}}},
			TurnComplete: true,
		}})
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_, _, _ = ws.ReadMessage()
	})

	conn, err := New().Dial(context.Background(), transport.Config{
		Endpoint:           wsURL(srv),
		APIKey:             "k-123",
		Model:              "test-model",
		ResponseModalities: []string{protocol.ModalityText},
	})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	if got := <-fe.query; got != "k-123" {
		t.Fatalf("key query=%q, want k-123", got)
	}
	setup := <-fe.received
	if setup.Setup.Model != "models/test-model" {
		t.Fatalf("setup model=%q", setup.Setup.Model)
	}

	if err := conn.Send(protocol.NewTextTurn("hello")); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	text := <-fe.received
	if text.ClientContent == nil || text.ClientContent.Turns[0].Parts[0].Text != "hello" {
		t.Fatalf("server got %+v", text)
	}

	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if msg.ServerContent == nil || msg.ServerContent.ModelTurn.Parts[0].Text != "hi" || !msg.ServerContent.TurnComplete {
		t.Fatalf("msg=%+v", msg.ServerContent)
	}

	if _, err := conn.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive after remote close err=%v, want io.EOF", err)
	}
}

func TestConn_FrameWithEmptyAudioPartIsDelivered(t *testing.T) {
	fe, srv := newFakeEndpoint(t, false, func(fe *fakeEndpoint, ws *websocket.Conn) {
		fe.received <- readClient(fe.t, ws)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"hi there"},{"inlineData":{"data":""}}]},"turnComplete":true}}`))
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"data":"AQI=","mimeType":"audio/pcm;rate=24000"}}]}}}`))
		_, _, _ = ws.ReadMessage()
	})

	conn, err := New().Dial(context.Background(), transport.Config{Endpoint: wsURL(srv), Model: "m"})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()
	<-fe.received

	if err := conn.Send(protocol.NewAudioInput([]byte{0x03, 0x04})); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	audio := <-fe.received
	if audio.RealtimeInput == nil || string(audio.RealtimeInput.Audio.Data) != "\x03\x04" {
		t.Fatalf("server got %+v", audio.RealtimeInput)
	}

	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	sc := msg.ServerContent
	if sc == nil || !sc.TurnComplete || len(sc.ModelTurn.Parts) != 2 || sc.ModelTurn.Parts[0].Text != "hi there" {
		t.Fatalf("serverContent=%+v", sc)
	}
	if empty := sc.ModelTurn.Parts[1].InlineData; len(empty.Data) != 0 || empty.Err() != nil {
		t.Fatalf("empty part=%+v err=%v", empty, empty.Err())
	}

	msg, err = conn.Receive()
	if err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if got := msg.ServerContent.ModelTurn.Parts[0].InlineData.Data; string(got) != "\x01\x02" {
		t.Fatalf("audio payload=%x", got)
	}
}

func TestDial_RejectedUpgradeIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New().Dial(context.Background(), transport.Config{Endpoint: wsURL(srv), Model: "m"})
	var te *transport.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err=%T %v, want *TransportError", err, err)
	}
	if te.Op != "dial" || !strings.Contains(te.Error(), "status 404") {
		t.Fatalf("err=%v", te)
	}
}

func TestDial_RequiresSetupComplete(t *testing.T) {
	_, srv := newFakeEndpoint(t, true, nil)

	_, err := New().Dial(context.Background(), transport.Config{Endpoint: wsURL(srv), Model: "m"})
	var te *transport.TransportError
	if !errors.As(err, &te) || te.Op != "setup" {
		t.Fatalf("err=%v, want setup TransportError", err)
	}
}

func TestDial_CancelledContextAbortsHandshake(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New().Dial(ctx, transport.Config{Endpoint: wsURL(srv), Model: "m"})
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Dial did not return after cancel")
	}
}

func TestConn_AbnormalCloseIsTransportError(t *testing.T) {
	_, srv := newFakeEndpoint(t, false, func(_ *fakeEndpoint, ws *websocket.Conn) {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "boom"), time.Now().Add(time.Second))
	})

	conn, err := New().Dial(context.Background(), transport.Config{Endpoint: wsURL(srv), Model: "m"})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer conn.Close()

	_, err = conn.Receive()
	var te *transport.TransportError
	if !errors.As(err, &te) || te.Op != "read" {
		t.Fatalf("err=%v, want read TransportError", err)
	}
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	_, srv := newFakeEndpoint(t, false, func(_ *fakeEndpoint, ws *websocket.Conn) {
		_, _, _ = ws.ReadMessage()
	})

	conn, err := New().Dial(context.Background(), transport.Config{Endpoint: wsURL(srv), Model: "m"})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := conn.Send(protocol.NewTextTurn("late")); err == nil {
		t.Fatalf("Send after Close should fail")
	}
	if _, err := conn.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("Receive after local Close err=%v, want io.EOF", err)
	}
}
