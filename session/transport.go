package session

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxAge matches the default session token lifetime.
const DefaultMaxAge = 30 * 24 * time.Hour

// Source says where [Transport.Extract] found the token.
type Source string

const (
	SourceNone   Source = ""
	SourceCookie Source = "cookie"
	SourceBearer Source = "bearer"
)

// Config defines the session cookie.
type Config struct {
	Name     string
	Domain   string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	SameSite http.SameSite
}

// DefaultConfig returns development cookie settings.
func DefaultConfig() Config {
	return Config{
		Name:     "session",
		Path:     "/",
		MaxAge:   DefaultMaxAge,
		SameSite: http.SameSiteLaxMode,
	}
}

// ForDeployment returns cookie settings for production or development.
// Production cookies must survive cross-site requests from the frontend
// origin, which browsers only allow for SameSite=None with Secure.
func ForDeployment(production bool, domain string) Config {
	cfg := DefaultConfig()
	cfg.Domain = domain
	if production {
		cfg.SameSite = http.SameSiteNoneMode
		cfg.Secure = true
	}
	return cfg
}

// Validate rejects combinations browsers refuse.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("session cookie name must be set")
	}
	if strings.ContainsAny(c.Name, " \t\r\n;,=") {
		return errors.New("session cookie name contains invalid characters")
	}
	if c.MaxAge <= 0 {
		return errors.New("session cookie MaxAge must be > 0")
	}
	if c.SameSite == http.SameSiteNoneMode && !c.Secure {
		return errors.New("SameSite=None requires Secure")
	}
	return nil
}

// Transport reads and writes session tokens on HTTP messages.
type Transport struct {
	cfg Config
}

// NewTransport validates cfg and fills in defaults for an empty Path.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Transport{cfg: cfg}, nil
}

// Config returns the cookie settings in use.
func (t *Transport) Config() Config {
	return t.cfg
}

func (t *Transport) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     t.cfg.Name,
		Value:    value,
		Path:     t.cfg.Path,
		Domain:   t.cfg.Domain,
		MaxAge:   maxAge,
		Secure:   t.cfg.Secure,
		HttpOnly: true,
		SameSite: t.cfg.SameSite,
	}
}

// Set writes token as the session cookie.
func (t *Transport) Set(w http.ResponseWriter, token string) {
	c := t.cookie(token, int(t.cfg.MaxAge/time.Second))
	c.Expires = time.Now().Add(t.cfg.MaxAge).UTC()
	http.SetCookie(w, c)
}

// Clear expires the session cookie with the attributes it was set with.
func (t *Transport) Clear(w http.ResponseWriter) {
	c := t.cookie("", -1)
	c.Expires = time.Unix(0, 0).UTC()
	http.SetCookie(w, c)
}

// Extract returns the session token on r. The cookie wins over the
// Authorization header when both are present.
func (t *Transport) Extract(r *http.Request) (string, Source, bool) {
	if c, err := r.Cookie(t.cfg.Name); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v, SourceCookie, true
		}
	}
	if token, ok := BearerToken(r.Header.Get("Authorization")); ok {
		return token, SourceBearer, true
	}
	return "", SourceNone, false
}

// BearerToken parses an Authorization header value. The scheme is matched
// case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
