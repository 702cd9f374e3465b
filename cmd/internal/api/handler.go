// Package api serves the REST surface of the chat core: conversation
// history, sending, and friend management for the authenticated caller.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"parley/cmd/identity"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/friends"
)

const defaultMaxBodyBytes = 1 << 20 // 1 MiB

// Config controls request handling limits.
type Config struct {
	MaxBodyBytes int64
}

// Authenticator resolves a bearer token to the calling user.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (identity.Principal, error)
}

// Handler wires HTTP endpoints to the conversation and friend services.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	validate *validator.Validate

	auth    Authenticator
	dir     identity.Directory
	chat    *chat.Service
	friends *friends.Service
}

// NewHandler constructs a Handler. All collaborators are required.
func NewHandler(log *slog.Logger, auth Authenticator, dir identity.Directory, chatSvc *chat.Service, friendSvc *friends.Service, cfg Config) (*Handler, error) {
	switch {
	case auth == nil:
		return nil, errors.New("api: nil authenticator")
	case dir == nil:
		return nil, errors.New("api: nil directory")
	case chatSvc == nil:
		return nil, errors.New("api: nil chat service")
	case friendSvc == nil:
		return nil, errors.New("api: nil friend service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		auth:     auth,
		dir:      dir,
		chat:     chatSvc,
		friends:  friendSvc,
	}, nil
}

// Register wires the REST routes onto r. Every route requires a caller.
func (h *Handler) Register(r chi.Router) {
	if h == nil || r == nil {
		return
	}

	// Friend-add answers unauthenticated callers in its own outcome shape.
	r.Group(func(g chi.Router) {
		g.Use(h.requireAuth(writeAddFriendUnauthorized))
		g.Post("/add-friend", h.handleAddFriend)
		g.Post("/api/friends", h.handleAddFriend)
	})

	r.Group(func(g chi.Router) {
		g.Use(h.requireAuth(writeUnauthorized))

		g.Get("/api/messages", h.handleAllMessages)
		g.Post("/api/messages/delivered", h.handleMarkDelivered)
		g.Get("/api/messages/{friendID}", h.handleHistory)
		g.Post("/api/messages/send/{friendID}", h.handleSend)

		g.Get("/api/friends", h.handleListFriends)
		g.Delete("/api/friends/{friendID}", h.handleRemoveFriend)
		g.Put("/api/friends/{friendID}/category", h.handleSetCategory)
	})
}

// ---- auth ----

func (h *Handler) requireAuth(unauthorized func(http.ResponseWriter, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := identity.TokenFromRequest(r)
			if raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			p, err := h.auth.Authenticate(r.Context(), raw)
			if err != nil {
				if identity.IsNotAuthenticated(err) {
					unauthorized(w, "invalid token")
					return
				}
				h.log.Error("api.auth.fail", "err", err)
				writeError(w, http.StatusInternalServerError, "server_error", "internal error")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", msg)
}

func writeAddFriendUnauthorized(w http.ResponseWriter, _ string) {
	writeJSON(w, http.StatusUnauthorized, addFriendResponse{Success: false, Message: "Not authenticated."})
}

// principal is always present behind requireAuth.
func principal(r *http.Request) identity.Principal {
	p, _ := identity.PrincipalFrom(r.Context())
	return p
}

// ---- helpers ----

func pathID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// requireUser writes 404 when id does not resolve and reports whether the
// caller may continue.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request, id int64, op string) bool {
	_, err := h.dir.UserByID(r.Context(), id)
	if err == nil {
		return true
	}
	if identity.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return false
	}
	h.log.Error(op+".lookup.fail", "user_id", id, "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	return false
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
