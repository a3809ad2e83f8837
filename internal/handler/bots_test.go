package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsdx/bot-platform-go/internal/model"
	"github.com/whatsdx/bot-platform-go/internal/repository"
	"github.com/whatsdx/bot-platform-go/internal/service"
)

type mockBotRepo struct {
	findByIDFunc         func(ctx context.Context, id string) (*model.BotInstance, error)
	findPageFunc         func(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error)
	createUnderQuotaFunc func(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error)
}

func (m *mockBotRepo) FindByID(ctx context.Context, id string) (*model.BotInstance, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockBotRepo) FindByTenantID(ctx context.Context, tenantID string) ([]model.BotInstance, error) {
	return nil, nil
}

func (m *mockBotRepo) FindPageByTenantID(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error) {
	if m.findPageFunc != nil {
		return m.findPageFunc(ctx, tenantID, limit, offset)
	}
	return nil, nil
}

func (m *mockBotRepo) CountByTenantID(ctx context.Context, tenantID string) (int, error) {
	return 0, nil
}

func (m *mockBotRepo) Create(ctx context.Context, params model.CreateBotInstanceParams) (*model.BotInstance, error) {
	return nil, nil
}

func (m *mockBotRepo) CreateUnderQuota(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error) {
	if m.createUnderQuotaFunc != nil {
		return m.createUnderQuotaFunc(ctx, params, maxBots)
	}
	return nil, false, nil
}

func (m *mockBotRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateBotStatusParams) error {
	return nil
}

func (m *mockBotRepo) SetAuthArtifact(ctx context.Context, id, artifact string, kind model.AuthArtifactKind) error {
	return nil
}

func (m *mockBotRepo) ClearAuthArtifact(ctx context.Context, id string) error {
	return nil
}

func (m *mockBotRepo) SetIdentity(ctx context.Context, id, phoneNumber string) error {
	return nil
}

func (m *mockBotRepo) SetSessionCreds(ctx context.Context, id string, creds *string) error {
	return nil
}

func (m *mockBotRepo) TouchActivity(ctx context.Context, id string) error {
	return nil
}

func (m *mockBotRepo) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *mockBotRepo) ClearStaleArtifacts(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func (m *mockBotRepo) WithTx(tx *sqlx.Tx) repository.BotInstanceRepository {
	return m
}

func newBotTestHandler(repo *mockBotRepo) *BotHandler {
	orchestrator := service.NewOrchestrator(nil, repo, nil, nil, service.OrchestratorConfig{})
	botService := service.NewBotService(repo, orchestrator)
	return NewBotHandler(botService, orchestrator)
}

const testBotID = "1b671a64-40d5-491e-99b0-da01ff1f3341"

func TestBotRoutesValidateBotID(t *testing.T) {
	h := newBotTestHandler(&mockBotRepo{})
	router := h.Routes()

	paths := []string{
		"/not-a-uuid",
		"/not-a-uuid/start",
		"/not-a-uuid/stop",
		"/not-a-uuid/auth",
	}
	for _, path := range paths {
		method := http.MethodGet
		if path != "/not-a-uuid" && path != "/not-a-uuid/auth" {
			method = http.MethodPost
		}
		req := withTenant(httptest.NewRequest(method, path, nil), authedTenant())
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "UUID", path)
	}
}

func TestBotGetUnknownID(t *testing.T) {
	h := newBotTestHandler(&mockBotRepo{})
	router := h.Routes()

	req := withTenant(httptest.NewRequest(http.MethodGet, "/"+testBotID, nil), authedTenant())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBotListPagination(t *testing.T) {
	var gotLimit, gotOffset int
	repo := &mockBotRepo{
		findPageFunc: func(ctx context.Context, tenantID string, limit, offset int) ([]model.BotInstance, error) {
			gotLimit, gotOffset = limit, offset
			return nil, nil
		},
	}
	h := newBotTestHandler(repo)
	router := h.Routes()

	t.Run("explicit window", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/?limit=2&offset=4", nil), authedTenant())
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, gotLimit)
		assert.Equal(t, 4, gotOffset)
	})

	t.Run("defaults", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/", nil), authedTenant())
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, DefaultLimit, gotLimit)
		assert.Equal(t, 0, gotOffset)
	})

	t.Run("oversized limit is clamped", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/?limit=500", nil), authedTenant())
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, DefaultLimit, gotLimit)
	})
}

func TestBotCreateQuotaExceeded(t *testing.T) {
	repo := &mockBotRepo{
		createUnderQuotaFunc: func(ctx context.Context, params model.CreateBotInstanceParams, maxBots int) (*model.BotInstance, bool, error) {
			return nil, false, nil
		},
	}
	h := newBotTestHandler(repo)
	router := h.Routes()

	body := bytes.NewBufferString(`{"name":"one too many"}`)
	req := withTenant(httptest.NewRequest(http.MethodPost, "/", body), authedTenant())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestTenantGetLimitUnknownResource(t *testing.T) {
	h := newTenantTestHandler(&mockTenantRepo{})
	router := h.Routes()

	req := withTenant(httptest.NewRequest(http.MethodGet, "/tenant-1/limits/maxTeapots", nil), authedTenant())
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource")
}
