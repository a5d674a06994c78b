package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	cdproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrickwarner/neonshell/internal/bridge"
)

type recordingInvoker struct {
	calls chan bridge.Call
}

func (i *recordingInvoker) Invoke(_ context.Context, name string, args []json.RawMessage) (any, error) {
	i.calls <- bridge.Call{Fn: name, Args: args}
	return true, nil
}

func TestShimCoversCallSurface(t *testing.T) {
	for _, fn := range bridge.Functions {
		assert.Contains(t, shimScript, fn+": function", fn)
	}
	assert.Contains(t, shimScript, "window."+BindingName)
	assert.Contains(t, shimScript, "window.__neonReply")
}

func TestNotStarted(t *testing.T) {
	r := New(Options{})

	assert.ErrorIs(t, r.LoadURL("http://localhost:8080/"), ErrNotStarted)
	assert.ErrorIs(t, r.Evaluate(context.Background(), "1"), ErrNotStarted)
	assert.ErrorIs(t, r.Pause(), ErrNotStarted)
	assert.ErrorIs(t, r.Resume(), ErrNotStarted)
	_, err := r.Back()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.NoError(t, r.Destroy())
}

func TestBindingCallsReachInvoker(t *testing.T) {
	inv := &recordingInvoker{calls: make(chan bridge.Call, 1)}
	r := New(Options{Invoker: inv})

	r.onEvent(&runtime.EventBindingCalled{Name: BindingName, Payload: `{"id":3,"fn":"vibrate","args":[150]}`})
	call := <-inv.calls
	assert.Equal(t, "vibrate", call.Fn)
	require.Len(t, call.Args, 1)
	assert.JSONEq(t, "150", string(call.Args[0]))
}

func TestBindingCallsKeepSubmissionOrder(t *testing.T) {
	const n = 200
	inv := &recordingInvoker{calls: make(chan bridge.Call, n)}
	r := New(Options{Invoker: inv})
	defer r.Destroy()

	for i := 1; i <= n; i++ {
		r.onEvent(&runtime.EventBindingCalled{
			Name:    BindingName,
			Payload: fmt.Sprintf(`{"id":%d,"fn":"vibrate","args":[%d]}`, i, i),
		})
	}

	for i := 1; i <= n; i++ {
		call := <-inv.calls
		require.Len(t, call.Args, 1)
		assert.JSONEq(t, fmt.Sprint(i), string(call.Args[0]), "call %d out of order", i)
	}
}

func TestOtherBindingsIgnored(t *testing.T) {
	inv := &recordingInvoker{calls: make(chan bridge.Call, 1)}
	r := New(Options{Invoker: inv})

	r.onEvent(&runtime.EventBindingCalled{Name: "somethingElse", Payload: `{"id":1,"fn":"signOut"}`})
	r.handleCall("not json")
	assert.Empty(t, inv.calls)
}

func TestPageFinishedReportsURL(t *testing.T) {
	finished := make(chan string, 1)
	r := New(Options{OnPageFinished: func(url string) { finished <- url }})

	r.onEvent(&page.EventFrameNavigated{Frame: &cdproto.Frame{URL: "http://localhost:8080/index.html?v=4.0.1"}})
	r.onEvent(&page.EventLoadEventFired{})

	assert.Equal(t, "http://localhost:8080/index.html?v=4.0.1", <-finished)
}

func TestAllocatorOptions(t *testing.T) {
	r := New(Options{ExecPath: "/opt/chrome/chrome", Headless: true})
	withPath := len(r.allocatorOptions())
	r = New(Options{Headless: true})
	assert.Equal(t, withPath-1, len(r.allocatorOptions()))
	assert.True(t, strings.HasPrefix(BindingName, "__"))
}
