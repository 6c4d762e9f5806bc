package websocket

import "context"

// HandlerFunc processes one inbound message and returns the response to
// send back, or nil for fire-and-forget actions.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Dispatcher routes inbound messages to the handler registered for their
// action.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// RegisterFunc binds a handler to an action, replacing any previous binding.
// Registration happens during setup, before the hub starts serving.
func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.handlers[action] = handler
}

// Dispatch invokes the handler for the message's action. An unknown action
// yields an error response message, not an error return.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	handler, ok := d.handlers[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}
	return handler(ctx, msg)
}
