package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/bifrost/internal"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body", "invalid_request_error"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details (e.g. SQLite errors).
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound),
		errors.Is(err, gateway.ErrConflict),
		errors.Is(err, gateway.ErrBadRequest):
		writeError(w, err)
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error", "api_error"))
	}
}

// pathID parses the {id} route parameter. Writes 400 and returns false on
// garbage.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid id", "invalid_request_error"))
		return 0, false
	}
	return id, true
}

// reload rebuilds snapshots after a successful admin write. Reload failures
// are logged but do not fail the write; the row is already persisted.
func (s *server) reload(r *http.Request) {
	if err := s.deps.App.Reload(r.Context()); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "snapshot reload failed",
			slog.String("error", err.Error()))
	}
}

func (s *server) mountAdminRoutes(r chi.Router) {
	r.Get("/health", s.handleAdminHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/reload", s.handleReload)
	r.Get("/config", s.handleGetConfig)
	r.Put("/config", s.handlePutConfig)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", s.handleListUsers)
		r.Post("/", s.handleCreateUser)
		r.Get("/{id}", s.handleGetUser)
		r.Put("/{id}", s.handleUpdateUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})
	r.Route("/keys", func(r chi.Router) {
		r.Get("/", s.handleListKeys)
		r.Post("/", s.handleCreateKey)
		r.Get("/{id}", s.handleGetKey)
		r.Put("/{id}", s.handleUpdateKey)
		r.Delete("/{id}", s.handleDeleteKey)
	})
	r.Route("/providers", func(r chi.Router) {
		r.Get("/", s.handleListProviders)
		r.Post("/", s.handleCreateProvider)
		r.Get("/{id}", s.handleGetProvider)
		r.Put("/{id}", s.handleUpdateProvider)
		r.Delete("/{id}", s.handleDeleteProvider)
	})
	r.Route("/credentials", func(r chi.Router) {
		r.Get("/", s.handleListCredentials)
		r.Post("/", s.handleCreateCredential)
		r.Get("/{id}", s.handleGetCredential)
		r.Put("/{id}", s.handleUpdateCredential)
		r.Delete("/{id}", s.handleDeleteCredential)
	})
	r.Route("/disallow", func(r chi.Router) {
		r.Get("/", s.handleListDisallow)
		r.Post("/", s.handleUpsertDisallow)
		r.Delete("/{id}", s.handleDeleteDisallow)
	})
}

// --- Health / stats / reload ---

func (s *server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.App.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "storage": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.App.Store().Stats(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traffic":   stats,
		"providers": s.deps.Registry.Names(),
	})
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.App.Reload(r.Context()); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Config ---

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.App.Config())
}

// handlePutConfig is the hot-reconfig entry point: it revalidates the DSN,
// reconnects storage, re-emits the bind address, and rebuilds pools.
func (s *server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg gateway.Config
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := s.deps.App.ApplyConfig(r.Context(), &cfg); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.App.Config())
}

// --- Users ---

func (s *server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.deps.App.Store().ListUsers(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if users == nil {
		users = []*gateway.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u gateway.User
	if !decodeJSON(w, r, &u) {
		return
	}
	if u.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("name is required", "invalid_request_error"))
		return
	}
	if err := s.deps.App.Store().CreateUser(r.Context(), &u); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := s.deps.App.Store().GetUser(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var u gateway.User
	if !decodeJSON(w, r, &u) {
		return
	}
	u.ID = id
	if err := s.deps.App.Store().UpdateUser(r.Context(), &u); err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.App.Store().DeleteUser(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	w.WriteHeader(http.StatusNoContent)
}

// --- Keys ---

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, _ := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	keys, err := s.deps.App.Store().ListKeys(r.Context(), userID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*gateway.APIKey{}
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var k gateway.APIKey
	if !decodeJSON(w, r, &k) {
		return
	}
	if k.UserID == 0 || k.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_id and key are required", "invalid_request_error"))
		return
	}
	if err := s.deps.App.Store().CreateKey(r.Context(), &k); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusCreated, k)
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	k, err := s.deps.App.Store().GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, err := s.deps.App.Store().GetKey(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	var update struct {
		UserID  *int64  `json:"user_id,omitempty"`
		Key     *string `json:"key,omitempty"`
		Label   *string `json:"label,omitempty"`
		Enabled *bool   `json:"enabled,omitempty"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.UserID != nil {
		existing.UserID = *update.UserID
	}
	if update.Key != nil {
		existing.Key = *update.Key
	}
	if update.Label != nil {
		existing.Label = *update.Label
	}
	if update.Enabled != nil {
		existing.Enabled = *update.Enabled
	}
	if err := s.deps.App.Store().UpdateKey(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.App.Store().DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	w.WriteHeader(http.StatusNoContent)
}

// --- Providers ---

func (s *server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.deps.App.Store().ListProviders(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if providers == nil {
		providers = []*gateway.ProviderRecord{}
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var p gateway.ProviderRecord
	if !decodeJSON(w, r, &p) {
		return
	}
	if _, err := s.deps.Registry.Get(p.Name); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown provider name", "invalid_request_error"))
		return
	}
	if err := s.deps.App.Store().CreateProvider(r.Context(), &p); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.deps.App.Store().GetProvider(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var p gateway.ProviderRecord
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = id
	if err := s.deps.App.Store().UpdateProvider(r.Context(), &p); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.App.Store().DeleteProvider(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	w.WriteHeader(http.StatusNoContent)
}

// --- Credentials ---

func (s *server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	providerID, _ := strconv.ParseInt(r.URL.Query().Get("provider_id"), 10, 64)
	var creds []*gateway.Credential
	var err error
	if providerID != 0 {
		creds, err = s.deps.App.Store().ListCredentials(r.Context(), providerID)
	} else {
		creds, err = s.deps.App.Store().ListAllCredentials(r.Context())
	}
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if creds == nil {
		creds = []*gateway.Credential{}
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		gateway.Credential
		ProviderName string `json:"provider_name,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	c := req.Credential
	// provider_id wins when both are given.
	if c.ProviderID == 0 && req.ProviderName != "" {
		p, err := s.deps.App.Store().GetProviderByName(r.Context(), req.ProviderName)
		if err != nil {
			writeAdminError(w, r, err)
			return
		}
		c.ProviderID = p.ID
	}
	if c.ProviderID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider_id is required", "invalid_request_error"))
		return
	}
	if _, err := s.deps.App.Store().GetProvider(r.Context(), c.ProviderID); err != nil {
		writeAdminError(w, r, err)
		return
	}
	if err := s.deps.App.Store().CreateCredential(r.Context(), &c); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusCreated, c)
}

func (s *server) handleGetCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := s.deps.App.Store().GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	existing, err := s.deps.App.Store().GetCredential(r.Context(), id)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	var update struct {
		Name    *string          `json:"name,omitempty"`
		Secret  *json.RawMessage `json:"secret,omitempty"`
		Meta    *json.RawMessage `json:"meta,omitempty"`
		Weight  *int             `json:"weight,omitempty"`
		Enabled *bool            `json:"enabled,omitempty"`
	}
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.Name != nil {
		existing.Name = *update.Name
	}
	if update.Secret != nil {
		existing.Secret = *update.Secret
	}
	if update.Meta != nil {
		existing.Meta = *update.Meta
	}
	if update.Weight != nil {
		existing.Weight = *update.Weight
	}
	if update.Enabled != nil {
		existing.Enabled = *update.Enabled
	}
	if err := s.deps.App.Store().UpdateCredential(r.Context(), existing); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.App.Store().DeleteCredential(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	w.WriteHeader(http.StatusNoContent)
}

// --- Disallow ---

func (s *server) handleListDisallow(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.App.Store().ListDisallow(r.Context())
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*gateway.DisallowRecord{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// disallowRequest is the admin payload for manually marking a credential.
type disallowRequest struct {
	CredentialID int64   `json:"credential_id"`
	Model        string  `json:"model,omitempty"` // "" = all models
	Level        string  `json:"level"`
	Until        *string `json:"until,omitempty"` // RFC3339
	Reason       string  `json:"reason,omitempty"`
}

func (s *server) handleUpsertDisallow(w http.ResponseWriter, r *http.Request) {
	var req disallowRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	level, ok := gateway.ParseDisallowLevel(req.Level)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("level must be cooldown, transient, or dead", "invalid_request_error"))
		return
	}
	var until *time.Time
	if req.Until != nil {
		t, err := time.Parse(time.RFC3339, *req.Until)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse("invalid until format, use RFC3339", "invalid_request_error"))
			return
		}
		until = &t
	}
	if level == gateway.LevelCooldown && until == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("cooldown requires until", "invalid_request_error"))
		return
	}
	rec := &gateway.DisallowRecord{
		CredentialID: req.CredentialID,
		Scope:        gateway.ScopeModel(req.Model),
		Level:        level,
		Until:        until,
		Reason:       req.Reason,
		UpdatedAt:    time.Now().UTC(),
	}
	if req.Model == "" {
		rec.Scope = gateway.ScopeAllModels()
	}
	if err := s.deps.App.Store().UpsertDisallow(r.Context(), rec); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *server) handleDeleteDisallow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.App.Store().DeleteDisallow(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	s.reload(r)
	w.WriteHeader(http.StatusNoContent)
}
