package authkit

import (
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

// RouterRequest adapts a go-router context to the RequestContext the
// resolver consumes. Session mutations buffer in the cookie container;
// Flush writes them out before the response leaves.
type RouterRequest struct {
	ctx     router.Context
	cfg     Config
	signer  *CookieSigner
	session *CookieSessionContainer
}

var _ RequestContext = (*RouterRequest)(nil)

// NewRouterRequest wraps one inbound request. Build one per request;
// the session container is decoded lazily on first use.
func NewRouterRequest(ctx router.Context, cfg Config, signer *CookieSigner) *RouterRequest {
	return &RouterRequest{
		ctx:    ctx,
		cfg:    cfg.WithDefaults(),
		signer: signer,
	}
}

func (r *RouterRequest) ClientIP() string {
	if ip := r.ctx.Header("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.ctx.Header("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return ""
}

func (r *RouterRequest) UserAgent() string {
	return r.ctx.Header("User-Agent")
}

func (r *RouterRequest) AllowTracking() bool {
	return r.ctx.Header("X-Do-Not-Track") != "1" && r.ctx.Header("DNT") != "1"
}

func (r *RouterRequest) OriginalURL() string {
	return r.ctx.OriginalURL()
}

func (r *RouterRequest) Session() SessionContainer {
	if r.session == nil {
		r.session = NewCookieSessionContainer(r.signer, r.ctx.Cookies(r.cfg.SessionCookieName))
	}
	return r.session
}

// Flush writes the session container back to its cookie when dirty.
func (r *RouterRequest) Flush() error {
	if r.session == nil || !r.session.Dirty() {
		return nil
	}

	encoded, err := r.session.Encode()
	if err != nil {
		return err
	}

	r.ctx.Cookie(&router.Cookie{
		Name:     r.cfg.SessionCookieName,
		Value:    encoded,
		HTTPOnly: true,
		Secure:   r.cfg.SecureCookies,
		SameSite: "Lax",
	})
	return nil
}

func (r *RouterRequest) RememberCookie() string {
	raw := r.ctx.Cookies(r.cfg.RememberCookieName)
	if raw == "" {
		return ""
	}
	value, ok := r.signer.Verify(raw)
	if !ok {
		return ""
	}
	return value
}

func (r *RouterRequest) SetRememberCookie(value string, ttl time.Duration) {
	r.ctx.Cookie(&router.Cookie{
		Name:     r.cfg.RememberCookieName,
		Value:    r.signer.Sign(value),
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   r.cfg.SecureCookies,
		SameSite: "Lax",
	})
}

func (r *RouterRequest) DeleteRememberCookie() {
	r.ctx.Cookie(&router.Cookie{
		Name:     r.cfg.RememberCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   r.cfg.SecureCookies,
		SameSite: "Lax",
	})
}

func (r *RouterRequest) Local(key string) (any, bool) {
	v := r.ctx.Locals(key)
	return v, v != nil
}

func (r *RouterRequest) SetLocal(key string, value any) {
	r.ctx.Locals(key, value)
}

func (r *RouterRequest) DeleteLocal(key string) {
	r.ctx.Locals(key, nil)
}
