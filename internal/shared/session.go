package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/inventra/internal/authz"
	"github.com/odyssey-erp/inventra/internal/guard"
)

// SessionManager orchestrates cookie based sessions backed by Redis. API
// clients may present the session id as a bearer token instead of a cookie.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session holds per-request session data.
type Session struct {
	ID         string
	values     map[string]string
	userID     int64
	role       authz.Role
	businessID int64
	dirty      bool
	destroyed  bool
}

type sessionPayload struct {
	Values     map[string]string `json:"values"`
	UserID     int64             `json:"user_id"`
	Role       string            `json:"role"`
	BusinessID int64             `json:"business_id,omitempty"`
}

var _ guard.SessionProvider = (*SessionManager)(nil)

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load loads or creates a new session for request.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	id := sm.requestSessionID(r)
	if id == "" {
		return sm.newSession(), nil
	}

	payload, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sm.newSession(), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}

	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}

	sess := sm.newSession()
	sess.ID = id
	sess.values = stored.Values
	sess.userID = stored.UserID
	if role, ok := authz.ParseRole(stored.Role); ok {
		sess.role = role
	}
	sess.businessID = stored.BusinessID
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed. Anonymous
// sessions that were never written to are not persisted.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     sm.cookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return nil
	}

	if !sess.dirty {
		return nil
	}
	if err := sm.persist(ctx, sess); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	})
	return nil
}

// Issue creates and stores a session for an identity established elsewhere.
// The returned ID is usable as a bearer token.
func (sm *SessionManager) Issue(ctx context.Context, userID int64, role authz.Role, businessID int64) (*Session, error) {
	if userID <= 0 || !role.Valid() {
		return nil, fmt.Errorf("%w: session needs a user and a known role", authz.ErrValidation)
	}
	sess := sm.newSession()
	sess.SetIdentity(userID, role, businessID)
	if err := sm.persist(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return sess, nil
}

func (sm *SessionManager) persist(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sessionPayload{
		Values:     sess.values,
		UserID:     sess.userID,
		Role:       string(sess.role),
		BusinessID: sess.businessID,
	})
	if err != nil {
		return err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return err
	}
	sess.dirty = false
	return nil
}

// Destroy marks the session for deletion.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// Identity implements guard.SessionProvider using the session the middleware
// attached to the request.
func (sm *SessionManager) Identity(r *http.Request) (guard.Identity, bool) {
	sess := SessionFromContext(r.Context())
	if sess == nil || sess.destroyed || sess.userID <= 0 || sess.role == "" {
		return guard.Identity{}, false
	}
	return guard.Identity{UserID: sess.userID, Role: sess.role, BusinessID: sess.businessID}, true
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Session helpers

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetIdentity associates the session with an authenticated user. The
// identity provider calls this after login; role must be a known role.
func (s *Session) SetIdentity(userID int64, role authz.Role, businessID int64) {
	s.userID = userID
	s.role = role
	s.businessID = businessID
	s.dirty = true
}

// User returns the current user ID, zero when anonymous.
func (s *Session) User() int64 {
	return s.userID
}

// Role returns the current role.
func (s *Session) Role() authz.Role {
	return s.role
}

// Business returns the current business id, zero when none is selected.
func (s *Session) Business() int64 {
	return s.businessID
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:     sm.generateSessionID(),
		values: make(map[string]string),
	}
}

func (sm *SessionManager) requestSessionID(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (sm *SessionManager) redisKey(id string) string {
	return "session:" + id
}

func (sm *SessionManager) generateSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return base64.RawURLEncoding.EncodeToString([]byte(time.Now().Format(time.RFC3339Nano)))
	}
	if len(sm.secret) > 0 {
		for i := range b {
			b[i] ^= sm.secret[i%len(sm.secret)]
		}
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
