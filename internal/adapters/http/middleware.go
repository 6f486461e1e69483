package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aretw0/dwsm/internal/logging"
	"github.com/aretw0/dwsm/pkg/domain"
)

type sessionContextKey struct{}

// FromContext returns the session attached by SessionMiddleware.
func FromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*domain.Session)
	return s, ok && s != nil
}

// SessionMiddleware resolves the request's session cookie, records the access and
// attaches the session to the request context. When create is set, requests
// without a live session get a new one and a fresh cookie.
func SessionMiddleware(sessions Sessions, cookie CookieOptions, create bool, logger *slog.Logger) func(http.Handler) http.Handler {
	cookie = cookie.normalize()
	if logger == nil {
		logger = logging.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess, err := resolve(ctx, sessions, r, cookie.Name)
			if err != nil {
				logger.Error("Session lookup failed", "err", err)
				http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
				return
			}

			if sess == nil && create {
				sess, err = sessions.NewSession(ctx)
				if err == nil {
					err = sessions.Persist(ctx, sess)
				}
				if err != nil {
					logger.Error("Session creation failed", "err", err)
					http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
					return
				}
			}

			if sess == nil {
				if _, err := r.Cookie(cookie.Name); err == nil {
					ClearCookie(w, cookie)
				}
				next.ServeHTTP(w, r)
				return
			}

			// Slide the cookie expiry along with the session.
			SetCookie(w, sess, cookie)
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionContextKey{}, sess)))
		})
	}
}

// resolve returns the live session named by the cookie, or nil.
func resolve(ctx context.Context, sessions Sessions, r *http.Request, name string) (*domain.Session, error) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return nil, nil
	}

	sess, err := sessions.GetSession(ctx, c.Value)
	if err != nil || sess == nil {
		return nil, err
	}

	if err := sessions.Touch(ctx, sess); err != nil {
		if errors.Is(err, domain.ErrSessionInvalid) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}
