package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"agentplane/internal/auth"
	"agentplane/internal/store"
	"agentplane/pkg/api"

	"github.com/google/uuid"
)

// Default per-tier request limits. RateLimit is requests per second.
var tierLimits = map[store.SubscriptionTier]struct {
	rate       int
	burst      int
	concurrent int
}{
	store.TierStarter:    {rate: 10, burst: 20, concurrent: 2},
	store.TierPro:        {rate: 50, burst: 100, concurrent: 10},
	store.TierEnterprise: {rate: 200, burst: 400, concurrent: 50},
}

// CreateOrganization handles POST /organizations (Admin Only).
// It generates a new API key, hashes it for storage, and returns the raw
// key ONCE.
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	tier := store.SubscriptionTier(req.Tier)
	if req.Tier == "" {
		tier = store.TierStarter
	}
	limits, ok := tierLimits[tier]
	if !ok {
		h.httpError(w, "Unknown subscription tier", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}

	org := &store.Organization{
		ID:                      uuid.New(),
		Name:                    req.Name,
		Tier:                    tier,
		RateLimit:               limits.rate,
		RateLimitBurst:          limits.burst,
		MaxConcurrentExecutions: limits.concurrent,
		CreatedAt:               time.Now().UTC(),
	}

	if err := h.store.CreateOrganization(ctx, org, auth.HashKey(apiKey)); err != nil {
		h.httpError(w, "Failed to create organization", http.StatusInternalServerError)
		return
	}

	// Return the raw key (this is the only time the caller sees it)
	resp := api.CreateOrganizationResponse{
		ID:     org.ID.String(),
		Name:   org.Name,
		Tier:   string(org.Tier),
		ApiKey: apiKey,
	}
	h.respondJson(w, http.StatusCreated, resp)
}
