package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/whatsdx/bot-platform-go/internal/errors"
	"github.com/whatsdx/bot-platform-go/internal/middleware"
	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/service"
	"github.com/whatsdx/bot-platform-go/internal/util"
)

var resourceNames = func() []string {
	names := make([]string, len(model.Resources))
	for i, r := range model.Resources {
		names[i] = string(r)
	}
	return names
}()

type TenantHandler struct {
	tenantService *service.TenantService
	planService   *service.PlanService
}

func NewTenantHandler(tenantService *service.TenantService, planService *service.PlanService) *TenantHandler {
	return &TenantHandler{
		tenantService: tenantService,
		planService:   planService,
	}
}

// Routes are the authenticated tenant endpoints. Creation is mounted
// separately because the caller has no token yet.
func (h *TenantHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/{tenantID}", h.Get)
	r.Get("/{tenantID}/limits/{resource}", h.GetLimit)
	r.Put("/{tenantID}/plan", h.ChangePlan)
	r.Post("/{tenantID}/token", h.RegenerateToken)

	return r
}

type createTenantRequest struct {
	Name string         `json:"name"`
	Plan model.PlanTier `json:"plan"`
}

// POST /v1/tenants
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}
	if req.Plan == "" {
		req.Plan = model.PlanFree
	}

	result, err := h.tenantService.Create(r.Context(), req.Name, req.Plan)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/tenants/{tenantID}
func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := h.scopedTenant(w, r)
	if tenant == nil {
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// GET /v1/tenants/{tenantID}/limits/{resource}
func (h *TenantHandler) GetLimit(w http.ResponseWriter, r *http.Request) {
	tenant := h.scopedTenant(w, r)
	if tenant == nil {
		return
	}

	resource := chi.URLParam(r, "resource")
	if !util.IsValidEnum(resource, resourceNames) {
		writeError(w, apperrors.InvalidInput("resource", "unknown resource class"))
		return
	}

	result, err := h.planService.CheckTenantLimit(r.Context(), tenant, model.Resource(resource))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type changePlanRequest struct {
	Plan model.PlanTier `json:"plan"`
}

// PUT /v1/tenants/{tenantID}/plan
func (h *TenantHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	tenant := h.scopedTenant(w, r)
	if tenant == nil {
		return
	}

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidInput("body", "malformed JSON"))
		return
	}

	updated, err := h.tenantService.ChangePlan(r.Context(), tenant.ID, req.Plan)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// POST /v1/tenants/{tenantID}/token
func (h *TenantHandler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	tenant := h.scopedTenant(w, r)
	if tenant == nil {
		return
	}

	result, err := h.tenantService.RegenerateToken(r.Context(), tenant.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// scopedTenant resolves the path id against the authenticated tenant.
// A mismatch reads as not found so ids cannot be probed across tenants.
func (h *TenantHandler) scopedTenant(w http.ResponseWriter, r *http.Request) *model.Tenant {
	tenant := middleware.GetTenant(r.Context())
	if tenant == nil {
		writeError(w, apperrors.Unauthorized("Authentication required"))
		return nil
	}

	tenantID := chi.URLParam(r, "tenantID")
	if tenantID != tenant.ID {
		log.Warn().Str("tenantId", tenant.ID).Str("requestedId", tenantID).Msg("cross-tenant access attempt")
		writeError(w, apperrors.NotFound("Tenant"))
		return nil
	}
	return tenant
}
