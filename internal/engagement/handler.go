package engagement

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"sitevisit_backend/platform/httpkit"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBody = 1 << 20

	msgInvalidSignature = "invalid signature"
	msgMalformedBody    = "malformed body"
	msgRetryLater       = "temporarily unavailable"
)

// Inbound routes a single extracted event.
type Inbound interface {
	Handle(ctx context.Context, ev InboundEvent) (Outcome, error)
}

// Handler handles messaging gateway webhook requests.
type Handler struct {
	router      Inbound
	deduper     Deduper
	archiver    Archiver
	secret      string
	verifyToken string
	metrics     *metrics.Metrics
	log         *logger.Logger
}

// WebhookResponse acknowledges a delivery.
type WebhookResponse struct {
	Received int       `json:"received"`
	Outcomes []Outcome `json:"outcomes"`
}

func NewHandler(router Inbound, deduper Deduper, archiver Archiver, secret, verifyToken string, m *metrics.Metrics, log *logger.Logger) *Handler {
	if deduper == nil {
		deduper = NoopDeduper{}
	}
	if archiver == nil {
		archiver = NoopArchiver{}
	}
	return &Handler{
		router:      router,
		deduper:     deduper,
		archiver:    archiver,
		secret:      secret,
		verifyToken: verifyToken,
		metrics:     m,
		log:         log,
	}
}

// HandleVerify answers the provider's subscription handshake.
// GET /api/v1/webhook/whatsapp
func (h *Handler) HandleVerify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		httpkit.Error(c, http.StatusForbidden, "verification failed", nil)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// HandleInbound ingests a webhook delivery.
// POST /api/v1/webhook/whatsapp
//
// 401 on a bad signature, 400 on an unparseable body, 500 only when the store
// failed (the provider retries and the fingerprint keeps the retry safe);
// every other case is acknowledged with 200.
func (h *Handler) HandleInbound(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgMalformedBody, nil)
		return
	}

	if !VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)) {
		h.metrics.WebhookEvent("bad_signature")
		h.log.Warn("webhook signature rejected", "client_ip", c.ClientIP())
		httpkit.Error(c, http.StatusUnauthorized, msgInvalidSignature, nil)
		return
	}

	ctx := c.Request.Context()
	receivedAt := time.Now()
	if key, err := h.archiver.Archive(ctx, body, receivedAt); err != nil {
		h.log.Warn("failed to archive webhook payload", "error", err)
	} else if key != "" {
		h.log.Debug("webhook payload archived", "key", key)
	}

	extracted, err := Extract(body, receivedAt)
	if err != nil {
		h.metrics.WebhookEvent("malformed")
		httpkit.Error(c, http.StatusBadRequest, msgMalformedBody, nil)
		return
	}

	resp := WebhookResponse{Received: len(extracted.Events), Outcomes: make([]Outcome, 0, len(extracted.Events))}
	failed := false
	for _, ev := range extracted.Events {
		out, err := h.route(ctx, ev)
		if err != nil {
			failed = true
			h.log.Error("failed to route inbound event", "messageId", ev.MessageID, "error", err)
			continue
		}
		if out.SendErr != nil {
			h.log.Warn("next prompt not sent; recovery sweep will retry", "visitId", out.VisitID, "step", out.Next, "error", out.SendErr)
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}

	if failed {
		httpkit.Error(c, http.StatusInternalServerError, msgRetryLater, nil)
		return
	}
	httpkit.OK(c, resp)
}

func (h *Handler) route(ctx context.Context, ev InboundEvent) (Outcome, error) {
	claimed, err := h.deduper.Claim(ctx, ev.MessageID)
	if err != nil {
		h.log.Warn("dedupe cache unavailable", "error", err)
		claimed = true
	}
	if !claimed {
		h.metrics.WebhookEvent(ReasonDuplicate)
		h.log.WebhookIgnored(ReasonDuplicate, ev.MessageID, "source", "cache")
		return Outcome{Reason: ReasonDuplicate}, nil
	}

	out, err := h.router.Handle(ctx, ev)
	if err != nil {
		if relErr := h.deduper.Release(ctx, ev.MessageID); relErr != nil {
			h.log.Warn("failed to release dedupe key", "error", relErr)
		}
		return Outcome{}, err
	}
	return out, nil
}
