package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/pagewatch/internal/alerts"
	"github.com/obsidianstack/pagewatch/internal/health"
	"github.com/obsidianstack/pagewatch/internal/store"
	"github.com/obsidianstack/pagewatch/pkg/types"
)

// maxBody caps the size of a PUT /api/v1/page body.
const maxBody = 1 << 10

// Backend is the live state the API reads and the one write it performs.
type Backend interface {
	// View returns the latest published page view, if any.
	View() (types.PageView, bool)
	// SetPage moves the watched page. It reports whether the value changed.
	SetPage(page int) bool
	// Owner returns the state of the one-shot owner fetch.
	Owner() OwnerResponse
	// Health returns the fetch health window.
	Health() health.Snapshot
	// Alerts returns firing and recently resolved alerts, newest first.
	Alerts() []alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	backend Backend
	store   *store.Store
	mux     *http.ServeMux
	guard   func(http.Handler) http.Handler
}

// New creates a Handler and registers all routes. guard wraps the write
// endpoint; pass nil to leave it open.
func New(b Backend, st *store.Store, guard func(http.Handler) http.Handler) http.Handler {
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	h := &Handler{backend: b, store: st, mux: http.NewServeMux(), guard: guard}

	h.mux.Handle("/api/v1/page", h.pageRoute())
	h.mux.HandleFunc("/api/v1/pages", h.listPages)
	h.mux.HandleFunc("/api/v1/pages/", h.getPage) // subtree, extracts {n}
	h.mux.HandleFunc("/api/v1/owner", h.owner)
	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// pageRoute dispatches /api/v1/page by method; only writes pass the guard.
func (h *Handler) pageRoute() http.Handler {
	write := h.guard(http.HandlerFunc(h.setPage))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.currentPage(w, r)
		case http.MethodPut, http.MethodPost:
			write.ServeHTTP(w, r)
		default:
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})
}

// currentPage returns GET /api/v1/page, the latest pipeline output.
func (h *Handler) currentPage(w http.ResponseWriter, _ *http.Request) {
	v, ok := h.backend.View()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no page fetched yet")
		return
	}
	jsonResp(w, http.StatusOK, v)
}

// setPage handles PUT /api/v1/page {"page": N}.
func (h *Handler) setPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Page == nil {
		jsonErr(w, http.StatusBadRequest, "page is required")
		return
	}
	if *req.Page < 0 {
		jsonErr(w, http.StatusBadRequest, "page must not be negative")
		return
	}

	changed := h.backend.SetPage(*req.Page)
	jsonResp(w, http.StatusAccepted, PageAccepted{Page: *req.Page, Changed: changed})
}

// listPages returns GET /api/v1/pages, every cached page.
func (h *Handler) listPages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]CachedPage, 0, len(entries))
	for _, e := range entries {
		out = append(out, toCachedPage(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getPage returns GET /api/v1/pages/{n}, one cached page; 404 if absent or expired.
func (h *Handler) getPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/pages/")
	if raw == "" {
		h.listPages(w, r)
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		jsonErr(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}

	e, ok := h.store.Get(n)
	if !ok {
		jsonErr(w, http.StatusNotFound, "page not cached")
		return
	}
	jsonResp(w, http.StatusOK, toCachedPage(e))
}

// owner returns GET /api/v1/owner.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.backend.Owner())
}

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{Snapshot: h.backend.Health(), Status: "pending"}
	if v, ok := h.backend.View(); ok {
		resp.Page = v.Page
		resp.Generation = v.Generation
		resp.Status = v.Status
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts returns GET /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := h.backend.Alerts()
	if out == nil {
		out = []alerts.Alert{}
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toCachedPage(e *store.Entry) CachedPage {
	return CachedPage{
		Page:       e.Page,
		Repos:      e.Repos,
		Generation: e.Generation,
		UpdatedAt:  e.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
