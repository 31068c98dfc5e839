package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/factory-system/services/machine/internal/registry"
)

type stubRegistry struct {
	statuses []registry.MachineStatus
	err      error
}

func (s *stubRegistry) Set(context.Context, string, string) error { return nil }

func (s *stubRegistry) Get(context.Context, string) (string, error) { return "", nil }

func (s *stubRegistry) List(context.Context) ([]registry.MachineStatus, error) {
	return s.statuses, s.err
}

func setupRouter(reg registry.Registry) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(reg).RegisterRoutes(router)
	return router
}

func TestListMachines(t *testing.T) {
	router := setupRouter(&stubRegistry{statuses: []registry.MachineStatus{
		{ID: "a1", Status: registry.StatusProducing},
		{ID: "b2", Status: registry.StatusIdle},
	}})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Machines []registry.MachineStatus `json:"machines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []registry.MachineStatus{
		{ID: "a1", Status: registry.StatusProducing},
		{ID: "b2", Status: registry.StatusIdle},
	}, resp.Machines)
}

func TestListMachinesRegistryError(t *testing.T) {
	router := setupRouter(&stubRegistry{err: errors.New("redis недоступен")})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/machines", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	router := setupRouter(&stubRegistry{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
