package authkit

import (
	"encoding/json"
)

// Session container keys the core reads and writes.
const (
	sessionKeyUserSession = "user_session_id"
	sessionKeyTimeZone    = "time_zone"
	sessionKeyReturnURL   = "return_url"
)

// MemorySessionContainer is a plain map backed container used by tests
// and by adapters that manage their own persistence.
type MemorySessionContainer struct {
	values map[string]string
}

var _ SessionContainer = (*MemorySessionContainer)(nil)

func NewMemorySessionContainer() *MemorySessionContainer {
	return &MemorySessionContainer{values: map[string]string{}}
}

func (c *MemorySessionContainer) Get(key string) string {
	return c.values[key]
}

func (c *MemorySessionContainer) Set(key, value string) {
	if c.values == nil {
		c.values = map[string]string{}
	}
	c.values[key] = value
}

func (c *MemorySessionContainer) Delete(key string) {
	delete(c.values, key)
}

func (c *MemorySessionContainer) Reset() {
	c.values = map[string]string{}
}

// CookieSessionContainer serializes the container into one signed
// cookie, the way framework cookie session stores do. Mutations are
// buffered; the adapter flushes through Encode when the response goes
// out.
type CookieSessionContainer struct {
	signer *CookieSigner
	values map[string]string
	dirty  bool
}

var _ SessionContainer = (*CookieSessionContainer)(nil)

// NewCookieSessionContainer decodes the inbound cookie value. A missing
// or tampered cookie yields an empty container; there is nothing a
// caller could do with the difference.
func NewCookieSessionContainer(signer *CookieSigner, cookieValue string) *CookieSessionContainer {
	c := &CookieSessionContainer{
		signer: signer,
		values: map[string]string{},
	}

	if cookieValue == "" {
		return c
	}

	raw, ok := signer.Verify(cookieValue)
	if !ok {
		return c
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return c
	}
	c.values = decoded

	return c
}

func (c *CookieSessionContainer) Get(key string) string {
	return c.values[key]
}

func (c *CookieSessionContainer) Set(key, value string) {
	c.values[key] = value
	c.dirty = true
}

func (c *CookieSessionContainer) Delete(key string) {
	if _, ok := c.values[key]; ok {
		delete(c.values, key)
		c.dirty = true
	}
}

// Reset drops every key. The next Encode writes a brand new cookie, so
// no residual identifiers survive a login or logout.
func (c *CookieSessionContainer) Reset() {
	c.values = map[string]string{}
	c.dirty = true
}

// Dirty reports whether the container needs flushing.
func (c *CookieSessionContainer) Dirty() bool {
	return c.dirty
}

// Encode signs the current state for the outbound cookie.
func (c *CookieSessionContainer) Encode() (string, error) {
	raw, err := json.Marshal(c.values)
	if err != nil {
		return "", err
	}
	return c.signer.Sign(string(raw)), nil
}
