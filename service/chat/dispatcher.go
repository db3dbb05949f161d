package chat

import (
	"fmt"

	"IMProject/logger"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *ClientFrame, conn *ConnState) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return fmt.Errorf("no handler for type=%s", f.Type)
	}
	return h.Handle(ctx, f, conn)
}

func (d *Dispatcher) GetHandler(t string) Handler {
	h, ok := d.handlers[t]
	if !ok {
		logger.Debugf("no handler for type=%s", t)
		return nil
	}
	return h
}
