package httpapi

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appcrypto "github.com/shule-ai/tutor-gateway/internal/app/crypto"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/flow"
	"github.com/shule-ai/tutor-gateway/internal/app/domain/quota"
	"github.com/shule-ai/tutor-gateway/internal/app/services/admission"
	"github.com/shule-ai/tutor-gateway/internal/app/services/flows"
	"github.com/shule-ai/tutor-gateway/internal/app/storage/memory"
)

const verifyToken = "hub-secret"

type nullNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *nullNotifier) SendText(_ context.Context, to, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, to+": "+body)
	return nil
}

type testGateway struct {
	handler *Handler
	store   *memory.Store
	privKey *rsa.PrivateKey
	notify  *nullNotifier
	tasks   *flows.TaskRunner

	mu        sync.Mutex
	processed []string
}

func newTestGateway(t *testing.T, ceilings quota.Ceilings) *testGateway {
	t.Helper()

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	decryptor, err := appcrypto.NewEnvelopeDecryptor(privKey)
	if err != nil {
		t.Fatalf("new decryptor: %v", err)
	}

	store := memory.New()
	notify := &nullNotifier{}

	flowSvc := flows.New(decryptor, nil, flows.NewDispatcher(nil), store, nil)
	admissionSvc := admission.New(store, store, notify, ceilings, nil)

	tasks := flows.NewTaskRunner(notify, nil)
	g := &testGateway{store: store, privKey: privKey, notify: notify, tasks: tasks}
	g.handler = New(flowSvc, admissionSvc, MessageProcessorFunc(func(waID string, _ []byte) {
		g.mu.Lock()
		g.processed = append(g.processed, waID)
		g.mu.Unlock()
	}), tasks, verifyToken, nil)
	return g
}

func (g *testGateway) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.handler.Router().ServeHTTP(rec, req)
	return rec
}

func (g *testGateway) sealPing(t *testing.T) (flow.EncryptedEnvelope, []byte, []byte) {
	t.Helper()

	aesKey := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := rand.Read(aesKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}

	plaintext, err := json.Marshal(flow.Payload{Action: flow.ActionPing})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	block, _ := aes.NewCipher(aesKey)
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &g.privKey.PublicKey, aesKey, nil)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return flow.EncryptedEnvelope{
		EncryptedFlowData: base64.StdEncoding.EncodeToString(sealed),
		EncryptedAESKey:   base64.StdEncoding.EncodeToString(wrapped),
		InitialVector:     base64.StdEncoding.EncodeToString(iv),
	}, aesKey, iv
}

func messageBody(waID string) string {
	return `{"entry":[{"changes":[{"value":{` +
		`"contacts":[{"wa_id":"` + waID + `"}],` +
		`"messages":[{"from":"` + waID + `","type":"text","text":{"body":"hello"}}]}}]}]}`
}

func TestFlowsEndpointPingRoundTrip(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{})

	env, aesKey, iv := g.sealPing(t)
	body, _ := json.Marshal(env)
	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/flows", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("ping over http: got %d, body %q", rec.Code, rec.Body.String())
	}

	sealed, err := base64.StdEncoding.DecodeString(rec.Body.String())
	if err != nil {
		t.Fatalf("reply not base64: %v", err)
	}
	block, _ := aes.NewCipher(aesKey)
	gcm, _ := cipher.NewGCMWithNonceSize(block, len(iv))
	plaintext, err := gcm.Open(nil, appcrypto.InvertedIV(iv), sealed, nil)
	if err != nil {
		t.Fatalf("open reply: %v", err)
	}
	if !strings.Contains(string(plaintext), `"status":"active"`) {
		t.Fatalf("unexpected ping reply: %s", plaintext)
	}
}

func TestFlowsEndpointRejectsGarbage(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{})

	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/flows", strings.NewReader("not json")))
	if rec.Code != http.StatusMisdirectedRequest {
		t.Fatalf("garbage body: got %d", rec.Code)
	}
	if rec.Body.String() != "Decryption failed" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestVerifyHandshake(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token="+verifyToken+"&hub.challenge=12345", nil)
	rec := g.serve(req)
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("handshake: got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = g.serve(req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad token must be rejected, got %d", rec.Code)
	}
}

func TestWebhookAdmitsAndDispatches(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{
		UserDailyMessages: 10, AppDailyMessages: 100,
		UserDailyTokens: 1000, AppDailyTokens: 10000,
	})

	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp",
		strings.NewReader(messageBody("255700000001"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: got %d", rec.Code)
	}
	// Processing is fire and forget; the ack does not wait on it.
	waitFor(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.processed) == 1 && g.processed[0] == "255700000001"
	})
}

func TestWebhookDeflectsOverCeiling(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{
		UserDailyMessages: 1, AppDailyMessages: 100,
		UserDailyTokens: 1000, AppDailyTokens: 10000,
	})

	for i := 0; i < 2; i++ {
		rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp",
			strings.NewReader(messageBody("255700000001"))))
		if rec.Code != http.StatusOK {
			t.Fatalf("deflected webhook must still ack 200, got %d on call %d", rec.Code, i)
		}
	}

	waitFor(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.processed) == 1
	})
	g.notify.mu.Lock()
	defer g.notify.mu.Unlock()
	if len(g.notify.texts) != 1 {
		t.Fatalf("expected one deflection notice, got %v", g.notify.texts)
	}
}

func TestWebhookSurvivesPanickingProcessor(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{
		UserDailyMessages: 10, AppDailyMessages: 100,
		UserDailyTokens: 1000, AppDailyTokens: 10000,
	})
	g.handler.processor = MessageProcessorFunc(func(string, []byte) {
		panic("downstream consumer exploded")
	})

	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp",
		strings.NewReader(messageBody("255700000001"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook must ack before processing, got %d", rec.Code)
	}

	// The panic is contained by the task boundary and converted into a
	// best-effort notice; reaching this assertion at all proves the
	// process survived.
	g.tasks.Wait()
	g.notify.mu.Lock()
	defer g.notify.mu.Unlock()
	if len(g.notify.texts) != 1 {
		t.Fatalf("expected one failure notice, got %v", g.notify.texts)
	}
}

func TestWebhookIgnoresStatusUpdates(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{UserDailyMessages: 1})

	status := `{"entry":[{"changes":[{"value":{"statuses":[{"status":"delivered"}]}}]}]}`
	for i := 0; i < 5; i++ {
		rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(status)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status update: got %d", rec.Code)
		}
	}
	if len(g.processed) != 0 {
		t.Fatalf("status updates must not reach the processor: %v", g.processed)
	}
}

func TestWebhookRejectsAnonymousMessage(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{UserDailyMessages: 10})

	anonymous := `{"entry":[{"changes":[{"value":{"messages":[{"type":"text","text":{"body":"hi"}}]}}]}]}`
	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(anonymous)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("anonymous message: got %d", rec.Code)
	}
}

type failingCounters struct{}

func (failingCounters) Add(context.Context, quota.Key, int64) (int64, error) {
	return 0, errors.New("store down")
}

func (failingCounters) Get(context.Context, quota.Key) (int64, error) {
	return 0, errors.New("store down")
}

func TestWebhookFailsOpenOnCounterOutage(t *testing.T) {
	g := newTestGateway(t, quota.Ceilings{UserDailyMessages: 1})

	// Swap in a broken counter backend under the same handler wiring.
	broken := admission.New(failingCounters{}, g.store, g.notify,
		quota.Ceilings{UserDailyMessages: 1}, nil)
	g.handler.admission = broken

	rec := g.serve(httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp",
		strings.NewReader(messageBody("255700000001"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("counter outage must not bounce traffic, got %d", rec.Code)
	}
	waitFor(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.processed) == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
