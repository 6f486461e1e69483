package http

import (
	"net/http"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
)

// DefaultCookieName names the session cookie when none is configured.
const DefaultCookieName = "DWSMSESSIONID"

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

// SetCookie issues the session cookie. Sessions that never expire get a browser-session cookie.
func SetCookie(w http.ResponseWriter, s *domain.Session, opts CookieOptions) {
	opts = opts.normalize()

	c := &http.Cookie{
		Name:     opts.Name,
		Value:    s.ID(),
		Path:     opts.Path,
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	}
	if secs := s.MaxInactiveInterval(); secs > 0 {
		last := time.UnixMilli(s.LastAccessedTime())
		c.Expires = last.Add(time.Duration(secs) * time.Second)
	}
	http.SetCookie(w, c)
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	opts = opts.normalize()

	http.SetCookie(w, &http.Cookie{
		Name:     opts.Name,
		Value:    "",
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
