package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/korzewarrior/discord-countingbot/internal/config"
	"github.com/korzewarrior/discord-countingbot/internal/counter"
	"github.com/korzewarrior/discord-countingbot/internal/domain"
	"github.com/korzewarrior/discord-countingbot/internal/identity"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

type Server struct {
	cfg    config.Config
	engine *counter.Engine
}

func NewServer(cfg config.Config, engine *counter.Engine) *Server {
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Post("/bot/start", s.handleStart)
		protected.Post("/bot/stop", s.handleStop)
		protected.Get("/bot/status", s.handleStatus)
		protected.Post("/bot/configure", s.handleConfigure)
		protected.Post("/bot/fix", s.handleFix)
		protected.Post("/bot/rescan", s.handleRescan)
		protected.Post("/bot/reconnect", s.handleReconnect)
		protected.Get("/identities", s.handleListIdentities)
		protected.Post("/identities", s.handleAddIdentity)
		protected.Delete("/identities/{name}", s.handleRemoveIdentity)
		protected.Get("/events", s.handleListEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ForceReset bool `json:"force_reset"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.engine.Start(req.ForceReset); err != nil {
		switch {
		case errors.Is(err, counter.ErrAlreadyActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, counter.ErrResetDetected):
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":  err.Error(),
				"status": s.engine.Status(),
			})
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var opts counter.Options
	if err := decodeJSON(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	settings, err := s.engine.Configure(opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.FixCount(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": res.Outcome,
		"status":  s.engine.Status(),
	})
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.DeepRescan(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": res.Outcome,
		"status":  s.engine.Status(),
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.engine.ReconnectAll()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identities": st.Identities,
		"count":      len(st.Identities),
	})
}

func (s *Server) handleAddIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
		Token       string `json:"token"`
		UserAgent   string `json:"user_agent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.engine.AddIdentity(r.Context(), domain.IdentityRecord{
		DisplayName: req.DisplayName,
		Token:       req.Token,
		UserAgent:   req.UserAgent,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, identity.ErrDuplicateToken) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

func (s *Server) handleRemoveIdentity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.engine.RemoveIdentity(name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, identity.ErrIdentityMissing) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	events := s.engine.Events(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
