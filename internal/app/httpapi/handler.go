// Package httpapi exposes the gateway's inbound webhook surface.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/metrics"
	"github.com/shule-ai/tutor-gateway/internal/app/services/admission"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flows"
	"github.com/shule-ai/tutor-gateway/internal/app/services/messaging"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// maxBodyBytes caps webhook bodies. Meta payloads are small; anything
// larger is hostile.
const maxBodyBytes = 1 << 20

// MessageProcessor receives admitted plaintext messages for downstream
// handling. Processing happens off the webhook goroutine so Meta always
// gets its acknowledgement promptly.
type MessageProcessor interface {
	Process(waID string, body []byte)
}

// MessageProcessorFunc adapts a function to MessageProcessor.
type MessageProcessorFunc func(waID string, body []byte)

func (f MessageProcessorFunc) Process(waID string, body []byte) { f(waID, body) }

// Handler serves the webhook endpoints.
type Handler struct {
	flows       *flows.Service
	admission   *admission.Service
	processor   MessageProcessor
	tasks       *flows.TaskRunner
	verifyToken string
	log         *logger.Logger
}

// New constructs the handler. processor may be nil, in which case
// admitted messages are acknowledged and dropped. tasks carries the
// error boundary for downstream processing; when nil a fresh runner
// without a notifier is used.
func New(flowSvc *flows.Service, admissionSvc *admission.Service, processor MessageProcessor, tasks *flows.TaskRunner, verifyToken string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if tasks == nil {
		tasks = flows.NewTaskRunner(nil, log)
	}
	return &Handler{
		flows:       flowSvc,
		admission:   admissionSvc,
		processor:   processor,
		tasks:       tasks,
		verifyToken: verifyToken,
		log:         log,
	}
}

// Router wires all routes, including health and metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/flows", h.handleFlows).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/whatsapp", h.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/whatsapp", h.handleWebhook).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.Use(metrics.InstrumentHandler)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFlows terminates the encrypted interactive-form exchange.
func (h *Handler) handleFlows(w http.ResponseWriter, r *http.Request) {
	var env flow.EncryptedEnvelope
	if err := decodeJSON(r, &env); err != nil {
		h.log.WithError(err).Warn("flows webhook: undecodable body")
		writePlain(w, http.StatusMisdirectedRequest, "Decryption failed")
		return
	}

	res := h.flows.HandleEnvelope(r.Context(), env)
	if res.JSON != nil {
		writeJSON(w, res.Status, res.JSON)
		return
	}
	writePlain(w, res.Status, res.Plain)
}

// handleVerify answers Meta's subscription handshake.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		writePlain(w, http.StatusOK, q.Get("hub.challenge"))
		return
	}
	h.log.WithField("mode", q.Get("hub.mode")).Warn("webhook verification rejected")
	writePlain(w, http.StatusForbidden, "verification failed")
}

// handleWebhook receives plaintext WhatsApp events. Status updates and
// form replies are acknowledged without admission; conversational
// messages pass through the quota gate first.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	kind := messaging.ClassifyPayload(body)
	if kind != messaging.KindMessage {
		h.log.WithField("kind", string(kind)).Debug("webhook acknowledged without admission")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	waID := messaging.ExtractWAID(body)
	if waID == "" {
		writeError(w, http.StatusBadRequest, "missing sender identity")
		return
	}

	decision, err := h.admission.Admit(r.Context(), waID)
	if err != nil {
		// Counter backend trouble must not bounce user traffic.
		h.log.WithError(err).WithField("wa_id", waID).Error("admission check failed, admitting")
		decision = quota.Decision{Admit: true}
	}
	if decision.Admit && h.processor != nil {
		// Runs behind the task runner's recover boundary: a panicking
		// downstream consumer must not take the gateway down.
		h.tasks.Go("process-message", waID, func(context.Context) error {
			h.processor.Process(waID, body)
			return nil
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
