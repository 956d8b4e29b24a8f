package engagement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const testSecret = "webhook-secret"

func newTestEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/webhook", h.HandleVerify)
	r.POST("/webhook", h.HandleInbound)
	return r
}

func postWebhook(r http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const confirmBody = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
	"messages":[{"from":"919876543210","id":"wamid.A1","timestamp":"1772355600","type":"interactive",
	"interactive":{"type":"button_reply","button_reply":{"id":"confirm","title":"Yes, confirm"}}}]}}]}]}`

func TestInboundRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	r := newTestEngine(NewHandler(h.router, nil, nil, testSecret, "", nil, logger.New("test")))

	w := postWebhook(r, confirmBody, ComputeSignature("wrong-secret", []byte(confirmBody)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := h.visit(t, v.ID); got.Conversation.Step != domain.StepAwaitingConfirm {
		t.Fatalf("unsigned payload must not change state")
	}
}

func TestInboundAppliesSignedReply(t *testing.T) {
	h := newHarness(t)
	v := h.seedAwaitingConfirm(t)
	r := newTestEngine(NewHandler(h.router, nil, nil, testSecret, "", nil, logger.New("test")))

	w := postWebhook(r, confirmBody, ComputeSignature(testSecret, []byte(confirmBody)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"reason":"transitioned"`) {
		t.Fatalf("expected transitioned outcome, got %s", w.Body.String())
	}
	if got := h.visit(t, v.ID); got.Conversation.Step != domain.StepAwaitingReadiness {
		t.Fatalf("expected awaiting_readiness, got %s", got.Conversation.Step)
	}
}

func TestInboundAcknowledgesStatusCallbacks(t *testing.T) {
	h := newHarness(t)
	r := newTestEngine(NewHandler(h.router, nil, nil, testSecret, "", nil, logger.New("test")))

	body := `{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.X","status":"delivered","recipient_id":"919876543210"}]}}]}]}`
	w := postWebhook(r, body, ComputeSignature(testSecret, []byte(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"received":0`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestInboundRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	r := newTestEngine(NewHandler(h.router, nil, nil, testSecret, "", nil, logger.New("test")))

	body := `{"entry": [`
	if w := postWebhook(r, body, ComputeSignature(testSecret, []byte(body))); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

type failingRouter struct{ calls int }

func (f *failingRouter) Handle(context.Context, InboundEvent) (Outcome, error) {
	f.calls++
	return Outcome{}, errGatewayDown
}

func TestInboundReleasesDedupeKeyOnStoreFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := &failingRouter{}
	r := newTestEngine(NewHandler(router, NewRedisDeduper(client, 0), nil, testSecret, "", nil, logger.New("test")))
	sig := ComputeSignature(testSecret, []byte(confirmBody))

	if w := postWebhook(r, confirmBody, sig); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if w := postWebhook(r, confirmBody, sig); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected retry to be processed again, got %d", w.Code)
	}
	if router.calls != 2 {
		t.Fatalf("expected the retry to reach the router, got %d calls", router.calls)
	}
}

func TestInboundDropsCachedDuplicate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t)
	h.seedAwaitingConfirm(t)
	r := newTestEngine(NewHandler(h.router, NewRedisDeduper(client, 0), nil, testSecret, "", nil, logger.New("test")))
	sig := ComputeSignature(testSecret, []byte(confirmBody))

	postWebhook(r, confirmBody, sig)
	w := postWebhook(r, confirmBody, sig)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"reason":"duplicate"`) {
		t.Fatalf("expected cached duplicate, got %d %s", w.Code, w.Body.String())
	}
	if sent := h.gateway.templates(); len(sent) != 1 {
		t.Fatalf("expected one prompt, got %v", sent)
	}
}

func TestVerifyHandshake(t *testing.T) {
	h := newHarness(t)
	r := newTestEngine(NewHandler(h.router, nil, nil, testSecret, "verify-me", nil, logger.New("test")))

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "42" {
		t.Fatalf("expected challenge echo, got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
