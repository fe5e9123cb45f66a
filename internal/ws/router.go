package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// ConnContext carries the sending connection through a handler. Identity is
// looked up from the registry per message, never cached here: a connection is
// only "registered" once Register has actually completed.
type ConnContext struct {
	Conn   Conn
	Server *WsServer
}

func (c *ConnContext) meta() (ConnMeta, bool) {
	return c.Server.registry.Lookup(c.Conn)
}

// requireMeta rejects state-touching messages sent before registration.
func (c *ConnContext) requireMeta() (ConnMeta, error) {
	meta, ok := c.meta()
	if !ok {
		return ConnMeta{}, errNotRegistered
	}
	return meta, nil
}

// reply sends a payload to the originating connection only.
func (c *ConnContext) reply(v any) {
	_ = c.Conn.WriteJSON(v)
}

// internal (untyped) handler signature. raw is the full inbound frame; the
// typed wrapper produced by Register re-decodes it into the request struct.
type rawHandler func(ctx context.Context, c *ConnContext, raw json.RawMessage) error

// Router keeps a map[type]handler over the closed set of message types.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds a message type to a strongly-typed handler.
func Register[Req any](
	r *Router,
	msgType string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if msgType == "" {
		panic("ws router: empty message type")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[msgType] = func(ctx context.Context, c *ConnContext, raw json.RawMessage) error {
		var req Req
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &req); err != nil {
				return errMalformed
			}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, msgType string, raw json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[msgType]
	r.mu.RUnlock()
	if !ok {
		return errUnknownType
	}
	return h(ctx, c, raw)
}
