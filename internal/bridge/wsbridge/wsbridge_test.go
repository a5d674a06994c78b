package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/neonshell/internal/delivery"
)

type fakeInvoker struct{}

func (fakeInvoker) Invoke(_ context.Context, name string, args []json.RawMessage) (any, error) {
	switch name {
	case "isAdReady":
		return true, nil
	case "isRewardedAdReady":
		return false, nil
	case "vibrate":
		if len(args) != 1 {
			return nil, errors.New("bad bridge arguments")
		}
		return nil, nil
	}
	return nil, errors.New("unknown bridge function")
}

func dial(t *testing.T, fanout *delivery.Fanout) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(zap.NewNop(), fakeInvoker{}, fanout))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, frame string) map[string]any {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
	return read(t, ws)
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestCallRoundTrip(t *testing.T) {
	ws := dial(t, delivery.NewFanout())

	rep := call(t, ws, `{"id":7,"fn":"isAdReady","args":[]}`)
	assert.EqualValues(t, 7, rep["id"])
	assert.Equal(t, true, rep["result"])
	assert.NotContains(t, rep, "error")

	rep = call(t, ws, `{"id":8,"fn":"isRewardedAdReady"}`)
	assert.EqualValues(t, 8, rep["id"])
	assert.Equal(t, false, rep["result"])

	rep = call(t, ws, `{"id":9,"fn":"vibrate","args":[150]}`)
	assert.EqualValues(t, 9, rep["id"])
	assert.Nil(t, rep["result"])
}

func TestCallErrors(t *testing.T) {
	ws := dial(t, delivery.NewFanout())

	rep := call(t, ws, `{"id":1,"fn":"eval","args":["x"]}`)
	assert.EqualValues(t, 1, rep["id"])
	assert.Equal(t, "unknown bridge function", rep["error"])

	rep = call(t, ws, `not json`)
	assert.Contains(t, rep["error"], "malformed frame")
}

func TestEventsArePushed(t *testing.T) {
	fanout := delivery.NewFanout()
	ws := dial(t, fanout)

	// the handler registers the connection after the upgrade completes
	call(t, ws, `{"id":1,"fn":"isAdReady"}`)

	require.NoError(t, fanout.Deliver(delivery.Message{Name: delivery.OnAdRewarded}))
	ev := read(t, ws)
	assert.Equal(t, "onAdRewarded", ev["event"])
	assert.Equal(t, "", ev["target"])
	assert.Equal(t, []any{}, ev["args"])

	require.NoError(t, fanout.Deliver(delivery.Message{
		Target: delivery.CredentialHandler,
		Name:   delivery.CredentialMethod,
		Args:   []any{"tok"},
	}))
	ev = read(t, ws)
	assert.Equal(t, "signInWithGoogleCredential", ev["event"])
	assert.Equal(t, "firebaseHandler", ev["target"])
	assert.Equal(t, []any{"tok"}, ev["args"])
}

func TestDisconnectUnregisters(t *testing.T) {
	fanout := delivery.NewFanout()
	ws := dial(t, fanout)
	call(t, ws, `{"id":1,"fn":"isAdReady"}`)

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	assert.Eventually(t, func() bool {
		return fanout.Deliver(delivery.Message{Name: delivery.OnAdRewarded}) == nil
	}, time.Second, 10*time.Millisecond)
}

func TestLoopbackOrigin(t *testing.T) {
	cases := map[string]bool{
		"":                           true,
		"http://localhost:8080":      true,
		"http://127.0.0.1:8080":      true,
		"http://[::1]:8080":          true,
		"https://evil.example":       false,
		"http://localhost.evil.test": false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/__native/bridge", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, loopbackOrigin(r), origin)
	}
}
