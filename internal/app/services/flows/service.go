package flows

import (
	"context"
	"errors"
	"net/http"

	"github.com/shule-ai/tutor-gateway/internal/app/crypto"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/user"
	"github.com/shule-ai/tutor-gateway/internal/app/metrics"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flowtoken"
	"github.com/shule-ai/tutor-gateway/internal/app/storage"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

// Notifier delivers best-effort text messages to end users.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
}

// Result is the wire-level answer for one flows-webhook request: either a
// bare base64 ciphertext (200) or a small error body with a non-200 status.
type Result struct {
	Status int
	Plain  string            // non-empty for plain-text bodies (ciphertext or bare error)
	JSON   map[string]string // non-nil for JSON error bodies
}

func plainResult(status int, body string) Result {
	return Result{Status: status, Plain: body}
}

func errorResult(status int, msg string) Result {
	return Result{Status: status, JSON: map[string]string{"error_msg": msg}}
}

// Service is the gateway for the encrypted interactive-form webhook. It owns
// the full pipeline: decrypt, validate the session token, dispatch, run the
// handler and encrypt the reply, translating every failure into the correct
// wire status. Safe for arbitrary concurrent invocation.
type Service struct {
	decryptor  *crypto.EnvelopeDecryptor
	tokens     *flowtoken.Codec
	dispatcher *Dispatcher
	users      storage.UserStore
	log        *logger.Logger
}

// New constructs the flow gateway.
func New(decryptor *crypto.EnvelopeDecryptor, tokens *flowtoken.Codec, dispatcher *Dispatcher, users storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("flows")
	}
	return &Service{
		decryptor:  decryptor,
		tokens:     tokens,
		dispatcher: dispatcher,
		users:      users,
		log:        log,
	}
}

// healthCheckPayload is the fixed ping reply.
func healthCheckPayload() map[string]interface{} {
	return map[string]interface{}{"data": map[string]interface{}{"status": "active"}}
}

// HandleEnvelope processes one encrypted webhook request end to end. The
// session recovered from the envelope never outlives this call.
func (s *Service) HandleEnvelope(ctx context.Context, env flow.EncryptedEnvelope) Result {
	payload, session, err := s.decryptor.Decrypt(env)
	if err != nil {
		s.log.WithError(err).Error("envelope decryption failed")
		// No payload was recovered; an absent action on a decrypted payload
		// is a different situation and keeps its own label.
		metrics.RecordFlowAction("undecryptable", http.StatusMisdirectedRequest)
		return plainResult(http.StatusMisdirectedRequest, "Decryption failed")
	}
	defer session.Destroy()

	result := s.handleDecrypted(ctx, payload, session)
	metrics.RecordFlowAction(string(payload.Action), result.Status)
	return result
}

func (s *Service) handleDecrypted(ctx context.Context, payload flow.Payload, session *flow.Session) Result {
	// Pings carry no token and bypass resolution entirely.
	if payload.Action == flow.ActionPing {
		s.log.Debug("flow health check received")
		return s.encryptReply(healthCheckPayload(), session)
	}

	if payload.FlowToken == "" {
		s.log.WithError(ErrTokenMissing).Error("flow request rejected")
		return errorResult(http.StatusUnprocessableEntity, "Missing flow token, unable to process request")
	}

	token, err := s.tokens.Decode(payload.FlowToken)
	if err != nil {
		s.log.WithError(err).Error("flow token rejected")
		return errorResult(http.StatusUnprocessableEntity, "Your request has expired, please start again")
	}

	u, err := s.users.GetUserByWAID(ctx, token.WAID)
	if err != nil {
		// An unknown identity inside a validly signed token means the token
		// outlived the account; treat it like an unopenable request.
		s.log.WithError(err).WithField("wa_id", token.WAID).Error("user not found for flow token")
		return plainResult(http.StatusMisdirectedRequest, "Decryption failed")
	}

	switch payload.Action {
	case flow.ActionDataExchange:
		handler := s.dispatcher.dataExchangeHandler(token.FlowID)
		return s.runHandler(ctx, handler, u, payload, session)

	case flow.ActionInit:
		// Design-time path; failures here are expected while flows are being
		// built, so they are logged loudly but still answered structurally.
		s.log.WithField("flow_id", token.FlowID).Warn("work-in-progress flow init received")
		handler := s.dispatcher.initHandler(token.FlowID)
		return s.runHandler(ctx, handler, u, payload, session)

	default:
		s.log.WithField("action", string(payload.Action)).Warn("unknown action received")
		return s.encryptReply(map[string]interface{}{"unknown": "event"}, session)
	}
}

func (s *Service) runHandler(ctx context.Context, handler FormHandler, u user.User, payload flow.Payload, session *flow.Session) Result {
	resp, err := handler.Handle(ctx, u, payload)
	if err != nil {
		if errors.Is(err, ErrInvalidHandlerData) {
			s.log.WithError(err).WithField("wa_id", u.WAID).Warn("flow handler rejected caller data")
			return errorResult(http.StatusUnprocessableEntity, err.Error())
		}
		s.log.WithError(err).WithField("wa_id", u.WAID).Error("flow handler failed")
		return errorResult(http.StatusInternalServerError, err.Error())
	}
	return s.encryptReply(resp.WirePayload(), session)
}

func (s *Service) encryptReply(payload interface{}, session *flow.Session) Result {
	encrypted, err := crypto.EncryptResponse(payload, session)
	if err != nil {
		s.log.WithError(err).Error("response encryption failed")
		return plainResult(http.StatusInternalServerError, "Encryption failed")
	}
	return plainResult(http.StatusOK, encrypted)
}
