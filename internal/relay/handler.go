package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/gcsewala/authbridge/internal/cookie"
	"github.com/gcsewala/authbridge/internal/crypto"
	"github.com/gcsewala/authbridge/internal/hostenv"
	jsonwriter "github.com/gcsewala/authbridge/internal/json"
	"github.com/gcsewala/authbridge/internal/log"
	"github.com/gcsewala/authbridge/internal/storage"
)

const (
	DefaultPath       = "/v1/bridge"
	DefaultSessionTTL = time.Hour
	DefaultCacheSize  = 1000

	SessionPath    = "/v1/session"
	HostLogoutPath = "/v1/host/logout"
)

// HandlerConfig configures the served side of the relay.
type HandlerConfig struct {
	// Path of the set_token/clear_token endpoint.
	Path string
	// SessionTTL applies when a token carries no exp claim.
	SessionTTL time.Duration
	CacheSize  int
	// Env scopes the mirror cookies cleared on host logout.
	Env hostenv.Environment
}

// SessionResponse is returned by GET /v1/session.
type SessionResponse struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler records which tokens the host may treat as signed in.
type Handler struct {
	storage  storage.Storage
	hasher   *crypto.TokenHasher
	verifier *Verifier
	cache    gcache.Cache
	cfg      HandlerConfig
	now      func() time.Time
}

// NewHandler builds the relay handler. verifier may be nil, in which case
// tokens are accepted without signature checks and the identity endpoints
// (session lookup and host logout) are not served.
func NewHandler(store storage.Storage, hasher *crypto.TokenHasher, verifier *Verifier, cfg HandlerConfig) *Handler {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	return &Handler{
		storage:  store,
		hasher:   hasher,
		verifier: verifier,
		cache:    gcache.New(cfg.CacheSize).LRU().Build(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register mounts the relay endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST "+h.cfg.Path, h.handleBridge)
	if !h.ServesIdentity() {
		log.LogWarnWithFields("relay", "Identity endpoints disabled, tokens are not verified", map[string]any{
			"disabled": []string{SessionPath, HostLogoutPath},
		})
		return
	}
	mux.HandleFunc("GET "+SessionPath, h.handleSession)
	mux.HandleFunc("POST "+HostLogoutPath, h.handleHostLogout)
}

// ServesIdentity reports whether stored sessions can be looked up. An
// unverified token proves nothing about the user pushed with it.
func (h *Handler) ServesIdentity() bool {
	return h.verifier != nil
}

func (h *Handler) handleBridge(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := jsonwriter.Decode(r, &req); err != nil {
		log.LogDebugWithFields("relay", "Rejected malformed relay request", map[string]any{
			"error": err.Error(),
		})
		writeResult(w, http.StatusBadRequest, Response{Error: "Invalid JSON"})
		return
	}
	if req.Token == "" {
		req.Token = bearerToken(r)
	}

	switch req.Action {
	case ActionSetToken:
		h.setToken(w, r, req)
	case ActionClearToken:
		h.clearToken(w, r, req)
	default:
		writeResult(w, http.StatusBadRequest, Response{Error: "Invalid action"})
	}
}

func (h *Handler) setToken(w http.ResponseWriter, r *http.Request, req Request) {
	if req.Token == "" {
		writeResult(w, http.StatusBadRequest, Response{Error: "Missing token"})
		return
	}
	if req.User == nil || req.User.ID == "" {
		writeResult(w, http.StatusBadRequest, Response{Error: "Missing user"})
		return
	}

	now := h.now()
	expiresAt := now.Add(h.cfg.SessionTTL)
	if h.verifier != nil {
		claims, err := h.verifier.Verify(req.Token, req.User.ID)
		if err != nil {
			log.LogWarnWithFields("relay", "Rejected token", map[string]any{
				"user_id": req.User.ID,
				"error":   err.Error(),
			})
			writeResult(w, http.StatusUnauthorized, Response{Error: "Invalid token"})
			return
		}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time
		}
	} else if exp, ok := unverifiedExpiry(req.Token); ok {
		expiresAt = exp
	}

	session := &storage.BridgedSession{
		TokenHash: h.hasher.Hash(req.Token),
		UserID:    req.User.ID,
		Email:     req.User.Email,
		Name:      req.User.Name,
		ExpiresAt: expiresAt,
		UpdatedAt: now,
	}
	if err := h.storage.PutSession(r.Context(), session); err != nil {
		log.LogErrorWithFields("relay", "Failed to store session", map[string]any{
			"user_id": session.UserID,
			"error":   err.Error(),
		})
		writeResult(w, http.StatusInternalServerError, Response{Error: "Failed to store session"})
		return
	}
	h.remember(session)

	log.LogInfoWithFields("relay", "Token set", map[string]any{
		"user_id":    session.UserID,
		"expires_at": session.ExpiresAt,
	})
	writeResult(w, http.StatusOK, Response{Success: true, Message: "Token set successfully"})
}

func (h *Handler) clearToken(w http.ResponseWriter, r *http.Request, req Request) {
	token := req.Token
	if token == "" {
		token = h.cookieToken(w, r)
	}
	if token != "" {
		if err := h.forget(r.Context(), token); err != nil {
			log.LogErrorWithFields("relay", "Failed to clear session", map[string]any{
				"error": err.Error(),
			})
			writeResult(w, http.StatusInternalServerError, Response{Error: "Failed to clear session"})
			return
		}
	}
	writeResult(w, http.StatusOK, Response{Success: true, Message: "Token cleared successfully"})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = h.cookieToken(w, r)
	}
	if token == "" {
		jsonwriter.WriteUnauthorized(w, "No session token")
		return
	}

	session, err := h.lookup(r.Context(), h.hasher.Hash(token))
	if errors.Is(err, storage.ErrSessionNotFound) {
		jsonwriter.WriteNotFound(w, "Session not found")
		return
	}
	if err != nil {
		log.LogErrorWithFields("relay", "Session lookup failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Session lookup failed")
		return
	}

	_ = jsonwriter.Write(w, SessionResponse{
		User:      User{ID: session.UserID, Email: session.Email, Name: session.Name},
		ExpiresAt: session.ExpiresAt,
	})
}

// handleHostLogout signs the user out from the host side: the bridged
// session is dropped and both mirror cookies are deleted on the shared domain.
func (h *Handler) handleHostLogout(w http.ResponseWriter, r *http.Request) {
	store := cookie.NewStore(cookie.NewHTTPJar(w, r), h.cfg.Env)
	token := bearerToken(r)
	if token == "" {
		token, _ = store.Get(cookie.TokenCookie)
	}
	if token != "" {
		if err := h.forget(r.Context(), token); err != nil {
			log.LogErrorWithFields("relay", "Failed to clear session on host logout", map[string]any{
				"error": err.Error(),
			})
		}
	}
	store.ClearMirror()
	writeResult(w, http.StatusOK, Response{Success: true, Message: "Signed out"})
}

func (h *Handler) lookup(ctx context.Context, hash string) (*storage.BridgedSession, error) {
	if v, err := h.cache.Get(hash); err == nil {
		session := v.(*storage.BridgedSession)
		if !session.Expired(h.now()) {
			return session, nil
		}
		h.cache.Remove(hash)
	}

	session, err := h.storage.GetSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	h.remember(session)
	return session, nil
}

func (h *Handler) remember(session *storage.BridgedSession) {
	ttl := session.ExpiresAt.Sub(h.now())
	if ttl <= 0 {
		return
	}
	_ = h.cache.SetWithExpire(session.TokenHash, session, ttl)
}

func (h *Handler) forget(ctx context.Context, token string) error {
	hash := h.hasher.Hash(token)
	h.cache.Remove(hash)
	return h.storage.DeleteSession(ctx, hash)
}

func (h *Handler) cookieToken(w http.ResponseWriter, r *http.Request) string {
	token, err := cookie.NewStore(cookie.NewHTTPJar(w, r), h.cfg.Env).Get(cookie.TokenCookie)
	if err != nil {
		return ""
	}
	return token
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func writeResult(w http.ResponseWriter, status int, resp Response) {
	_ = jsonwriter.WriteResponse(w, status, resp)
}
