package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentplane/internal/auth"
	"agentplane/internal/store"
	"agentplane/pkg/apperr"

	"github.com/google/uuid"
)

// mockOrgStore implements store.OrganizationStore for testing.
type mockOrgStore struct {
	org      *store.Organization
	err      error
	seenHash string
}

func (m *mockOrgStore) CreateOrganization(ctx context.Context, org *store.Organization, hashedKey string) error {
	return nil
}

func (m *mockOrgStore) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	return m.org, m.err
}

func (m *mockOrgStore) GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*store.Organization, error) {
	m.seenHash = hash
	return m.org, m.err
}

func TestAuthMiddleware_MissingAuthHeader(t *testing.T) {
	mockStore := &mockOrgStore{}
	middleware := AuthMiddleware(mockStore)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_InvalidAuthHeaderFormat(t *testing.T) {
	mockStore := &mockOrgStore{}
	middleware := AuthMiddleware(mockStore)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "api-key-123"},
		{"wrong prefix", "Basic api-key-123"},
		{"too many parts", "Bearer key1 key2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_StoreError(t *testing.T) {
	mockStore := &mockOrgStore{
		err: errors.New("database error"),
	}
	middleware := AuthMiddleware(mockStore)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestAuthMiddleware_UnknownKey(t *testing.T) {
	mockStore := &mockOrgStore{
		err: apperr.New(apperr.CodeNotFound, "no such organization"),
	}
	middleware := AuthMiddleware(mockStore)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid-key")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ValidAuth(t *testing.T) {
	orgID := uuid.New()
	mockStore := &mockOrgStore{
		org: &store.Organization{
			ID:        orgID,
			Name:      "Test Org",
			Tier:      store.TierStarter,
			CreatedAt: time.Now(),
		},
	}
	middleware := AuthMiddleware(mockStore)

	var capturedCtx context.Context
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedCtx = r.Context()
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer valid-api-key")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	if mockStore.seenHash != auth.HashKey("valid-api-key") {
		t.Errorf("store queried with hash %q, want hash of the presented key", mockStore.seenHash)
	}

	if capturedCtx == nil {
		t.Fatal("context was not captured")
	}
	org, ok := OrgFromContext(capturedCtx)
	if !ok || org.ID != orgID {
		t.Errorf("context organization = %+v, want ID %s", org, orgID)
	}
}

func TestOrgFromContext_Empty(t *testing.T) {
	ctx := context.Background()
	org, ok := OrgFromContext(ctx)

	if ok {
		t.Error("expected ok to be false for empty context")
	}
	if org != nil {
		t.Errorf("expected nil organization, got %v", org)
	}
}
