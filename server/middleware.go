package server

import (
	"io"
	"net/http"
	stdtime "time"

	"github.com/google/uuid"

	"github.com/dhannusch/pincer/auth"
	"github.com/dhannusch/pincer/db/kv"
	"github.com/dhannusch/pincer/errs"
)

const (
	sessionCookieName = "pincer_session"
	csrfHeaderName    = "x-pincer-csrf"
	requestIDHeader   = "x-request-id"

	// Hard ceiling on any inbound body; per-action limits are far lower.
	maxRequestBody = 2 << 20
)

// commonMiddleware tags every request with an id and disables response
// caching across the whole surface.
func (s *Service) commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		w.Header().Set("cache-control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type runtimeHandler func(w http.ResponseWriter, r *http.Request, keyID string, body []byte)

// withRuntimeAuth reads the body once and enforces signed-request
// verification before dispatching.
func (s *Service) withRuntimeAuth(next runtimeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeError(w, errs.NewMsg(errs.KindInternal, http.StatusInternalServerError, err.Error()))
			return
		}
		keyID, err := s.cfg.Verifier.Verify(r.Context(), r.Method, r.URL.Path, body, auth.HeadersFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, keyID, body)
	}
}

type adminHandler func(w http.ResponseWriter, r *http.Request, sess *kv.Session)

// withSession enforces an admin session, issuing a fresh cookie on rotation
// and an expired cookie when the presented session is rejected.
func (s *Service) withSession(requireCsrf bool, next adminHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := sessionIDFromRequest(r)
		sess, rotated, err := s.cfg.Admin.Authenticate(r.Context(), sessionID, r.Header.Get(csrfHeaderName), requireCsrf)
		if err != nil {
			if errs.As(err).Status == http.StatusUnauthorized {
				http.SetCookie(w, expiredSessionCookie())
			}
			writeError(w, err)
			return
		}
		if rotated {
			http.SetCookie(w, sessionCookie(sess))
		}
		next(w, r, sess)
	}
}

func sessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func sessionCookie(sess *kv.Session) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  stdtime.UnixMilli(sess.AbsoluteExpiry),
	}
}

func expiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  stdtime.Unix(0, 0),
	}
}
