package bridge

import (
	"context"
	"encoding/json"
)

// Invoker dispatches a named call. Transports depend on this rather than on
// *Router so they can be tested in isolation.
type Invoker interface {
	Invoke(ctx context.Context, name string, args []json.RawMessage) (any, error)
}

var _ Invoker = (*Router)(nil)

// Call is one content-to-native call as carried by transports:
// {"id":1,"fn":"isAdReady","args":[]}.
type Call struct {
	ID   int64             `json:"id"`
	Fn   string            `json:"fn"`
	Args []json.RawMessage `json:"args"`
}

// Reply answers a Call. Result is null for asynchronous functions.
type Reply struct {
	ID     int64  `json:"id"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Serve invokes call and builds its reply.
func Serve(ctx context.Context, inv Invoker, call Call) Reply {
	result, err := inv.Invoke(ctx, call.Fn, call.Args)
	rep := Reply{ID: call.ID, Result: result}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name string, args []json.RawMessage) (any, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, name string, args []json.RawMessage) (any, error) {
	return f(ctx, name, args)
}
