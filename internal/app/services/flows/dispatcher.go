package flows

import (
	"context"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// FormHandler processes one screen exchange of an interactive flow and
// returns the next screen or an error payload. The dispatcher never inspects
// handler internals, only this contract.
type FormHandler interface {
	Handle(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error)
}

// FormHandlerFunc adapts a function to the FormHandler interface.
type FormHandlerFunc func(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error)

func (f FormHandlerFunc) Handle(ctx context.Context, u user.User, payload flow.Payload) (flow.Response, error) {
	if f == nil {
		return flow.Response{}, nil
	}
	return f(ctx, u, payload)
}

// Dispatcher routes (action, flow id) pairs to registered handlers. The
// registries are populated at startup and read-only afterwards. Unregistered
// flow identifiers are expected occurrences (the platform sends config pings
// for flows not yet wired up), so lookups fall back instead of failing.
type Dispatcher struct {
	dataExchange map[string]FormHandler
	init         map[string]FormHandler
	log          *logger.Logger
}

// NewDispatcher creates an empty registry.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("flow-dispatcher")
	}
	return &Dispatcher{
		dataExchange: make(map[string]FormHandler),
		init:         make(map[string]FormHandler),
		log:          log,
	}
}

// RegisterDataExchange wires a handler for data_exchange actions of a flow.
func (d *Dispatcher) RegisterDataExchange(flowID string, h FormHandler) {
	d.dataExchange[flowID] = h
}

// RegisterInit wires a handler for INIT actions of a flow. INIT is the
// design-time path and is not assumed production-stable.
func (d *Dispatcher) RegisterInit(flowID string, h FormHandler) {
	d.init[flowID] = h
}

func (d *Dispatcher) dataExchangeHandler(flowID string) FormHandler {
	if h, ok := d.dataExchange[flowID]; ok {
		return h
	}
	d.log.WithField("flow_id", flowID).Warn("unknown flow received")
	return unknownFlowHandler
}

func (d *Dispatcher) initHandler(flowID string) FormHandler {
	if h, ok := d.init[flowID]; ok {
		return h
	}
	d.log.WithField("flow_id", flowID).Warn("unknown flow received on init")
	return unknownFlowHandler
}

// unknownFlowHandler answers unregistered flow identifiers with a benign
// payload; from the gateway's perspective this always succeeds.
var unknownFlowHandler = FormHandlerFunc(func(context.Context, user.User, flow.Payload) (flow.Response, error) {
	return flow.Response{Data: map[string]interface{}{"unknown": "flow"}}, nil
})
