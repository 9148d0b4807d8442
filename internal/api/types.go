package api

import (
	"github.com/obsidianstack/pagewatch/internal/health"
	"github.com/obsidianstack/pagewatch/pkg/types"
)

// PageRequest is the body of PUT /api/v1/page.
type PageRequest struct {
	Page *int `json:"page"`
}

// PageAccepted is returned by PUT /api/v1/page.
type PageAccepted struct {
	Page    int  `json:"page"`
	Changed bool `json:"changed"`
}

// OwnerResponse is the payload for GET /api/v1/owner: the state of the
// one-shot owner fetch and, once completed, its result.
type OwnerResponse struct {
	State string       `json:"state"`
	Owner *types.Owner `json:"owner,omitempty"`
	Error string       `json:"error,omitempty"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	health.Snapshot
	Page       int    `json:"page"`
	Generation uint64 `json:"generation"`
	Status     string `json:"status"`
}

// CachedPage is one entry in GET /api/v1/pages.
type CachedPage struct {
	Page       int          `json:"page"`
	Repos      []types.Repo `json:"repos"`
	Generation uint64       `json:"generation"`
	UpdatedAt  string       `json:"updated_at"` // RFC3339
}

type errorResponse struct {
	Error string `json:"error"`
}
