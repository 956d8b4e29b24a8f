package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/visits/repository/memstore"
	"sitevisit_backend/internal/visits/service"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type handlerConfig struct{}

func (handlerConfig) GetPhoneDefaultRegion() string       { return "IN" }
func (handlerConfig) GetWelcomeDelay() time.Duration      { return time.Minute }
func (handlerConfig) GetConfirmationDelay() time.Duration { return 3 * time.Minute }
func (handlerConfig) GetTechnicianDailyCapDefault() int   { return 6 }
func (handlerConfig) GetTechnicianResetCron() string      { return "@daily" }

func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New("development")
	store := memstore.New()
	svc := service.New(store, store, events.NewInMemoryBus(log), nil, handlerConfig{}, log)
	h := New(svc, validator.New("IN"))

	engine := gin.New()
	v1 := engine.Group("/api/v1")
	h.RegisterPublicRoutes(v1.Group("/visits"))
	admin := v1.Group("/admin")
	h.RegisterAdminRoutes(admin.Group("/visits"), admin.Group("/technicians"))
	return engine
}

func do(t *testing.T, engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func booking() map[string]any {
	return map[string]any{
		"name":          "Ravi Kumar",
		"phone":         "+91 98765 43210",
		"requestedSlot": time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"address":       "4 Residency Road, Bengaluru",
	}
}

func TestCreateVisitReturnsReferenceAndRejectsDuplicate(t *testing.T) {
	engine := newTestEngine(t)

	rec := do(t, engine, http.MethodPost, "/api/v1/visits", booking())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID        uuid.UUID `json:"id"`
		Reference string    `json:"reference"`
		Status    string    `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(created.Reference, "SV-") || created.Status != "requested" {
		t.Fatalf("unexpected response %+v", created)
	}

	rec = do(t, engine, http.MethodPost, "/api/v1/visits", booking())
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second open visit, got %d", rec.Code)
	}

	rec = do(t, engine, http.MethodGet, "/api/v1/admin/visits/"+created.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", rec.Code)
	}
}

func TestCreateVisitValidation(t *testing.T) {
	engine := newTestEngine(t)

	body := booking()
	body["phone"] = "12"
	if rec := do(t, engine, http.MethodPost, "/api/v1/visits", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad phone, got %d", rec.Code)
	}

	body = booking()
	body["requestedSlot"] = time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	if rec := do(t, engine, http.MethodPost, "/api/v1/visits", body); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for past slot, got %d", rec.Code)
	}
}

func TestAdminVisitErrors(t *testing.T) {
	engine := newTestEngine(t)

	if rec := do(t, engine, http.MethodGet, "/api/v1/admin/visits/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
	if rec := do(t, engine, http.MethodGet, "/api/v1/admin/visits/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", rec.Code)
	}
	if rec := do(t, engine, http.MethodGet, "/api/v1/admin/visits?step=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown step, got %d", rec.Code)
	}

	rec := do(t, engine, http.MethodPost, "/api/v1/visits", booking())
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	rec = do(t, engine, http.MethodPost, "/api/v1/admin/visits/"+created.ID.String()+"/complete", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 completing an unassigned visit, got %d", rec.Code)
	}
}

func TestTechnicianPoolRoutes(t *testing.T) {
	engine := newTestEngine(t)

	rec := do(t, engine, http.MethodPost, "/api/v1/admin/technicians", map[string]any{
		"name":  "Meera Nair",
		"phone": "+91 91234 56789",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var tech struct {
		ID       uuid.UUID `json:"id"`
		DailyCap int       `json:"dailyCap"`
		Active   bool      `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tech); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tech.DailyCap != 6 || !tech.Active {
		t.Fatalf("unexpected technician %+v", tech)
	}

	rec = do(t, engine, http.MethodPatch, "/api/v1/admin/technicians/"+tech.ID.String()+"/active", map[string]any{"active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deactivating, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &tech); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tech.Active {
		t.Fatalf("expected technician to be inactive")
	}
}
