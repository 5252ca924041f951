package authkit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func testDB(t *testing.T) *bun.DB {
	t.Helper()

	// One shared in-memory database per test; a single connection keeps
	// every query on the same memory store.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, model := range []any{
		(*User)(nil),
		(*UserSession)(nil),
		(*AuthAccount)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	return db
}

func testConfig() Config {
	return Config{
		SigningKey: "test-signing-key-please-rotate",
	}.WithDefaults()
}

func testRepo(t *testing.T) RepositoryManager {
	t.Helper()
	return NewRepositoryManager(testDB(t), testConfig())
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func createTestUser(t *testing.T, repo RepositoryManager, email, password string) *User {
	t.Helper()

	user := &User{Email: email}
	if password != "" {
		require.NoError(t, SetPassword(user, password, password))
	}

	record, err := repo.Users().Register(context.Background(), user)
	require.NoError(t, err)
	return record
}

// testRequest is an in-memory RequestContext for driving the resolver
// without a router.
type testRequest struct {
	ip      string
	ua      string
	url     string
	dnt     bool
	session *MemorySessionContainer

	remember        string
	rememberTTL     time.Duration
	rememberDeleted bool

	locals map[string]any
}

var _ RequestContext = (*testRequest)(nil)

func newTestRequest() *testRequest {
	return &testRequest{
		ip:      "203.0.113.7",
		ua:      "harness/1.0",
		url:     "/protected",
		session: NewMemorySessionContainer(),
		locals:  map[string]any{},
	}
}

func (r *testRequest) ClientIP() string          { return r.ip }
func (r *testRequest) UserAgent() string         { return r.ua }
func (r *testRequest) AllowTracking() bool       { return !r.dnt }
func (r *testRequest) OriginalURL() string       { return r.url }
func (r *testRequest) Session() SessionContainer { return r.session }
func (r *testRequest) RememberCookie() string    { return r.remember }

func (r *testRequest) SetRememberCookie(value string, ttl time.Duration) {
	r.remember = value
	r.rememberTTL = ttl
	r.rememberDeleted = false
}

func (r *testRequest) DeleteRememberCookie() {
	r.remember = ""
	r.rememberDeleted = true
}

func (r *testRequest) Local(key string) (any, bool) {
	v, ok := r.locals[key]
	return v, ok
}

func (r *testRequest) SetLocal(key string, value any) {
	r.locals[key] = value
}

func (r *testRequest) DeleteLocal(key string) {
	delete(r.locals, key)
}

// nextRequest simulates a fresh request from the same client: locals are
// per request, cookies and the session container survive.
func (r *testRequest) nextRequest() *testRequest {
	clone := *r
	clone.locals = map[string]any{}
	return &clone
}

// countingRepo wraps a RepositoryManager so tests can assert how many
// store lookups a resolution performed.
type countingRepo struct {
	RepositoryManager
	users    *countingUsers
	sessions *countingSessions
}

func newCountingRepo(inner RepositoryManager) *countingRepo {
	return &countingRepo{
		RepositoryManager: inner,
		users:             &countingUsers{Users: inner.Users()},
		sessions:          &countingSessions{UserSessions: inner.UserSessions()},
	}
}

func (r *countingRepo) Users() Users               { return r.users }
func (r *countingRepo) UserSessions() UserSessions { return r.sessions }

type countingUsers struct {
	Users
	getByID atomic.Int32
}

func (u *countingUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*User, error) {
	u.getByID.Add(1)
	return u.Users.GetByID(ctx, id, criteria...)
}

type countingSessions struct {
	UserSessions
	getActive        atomic.Int32
	getActiveByToken atomic.Int32
}

func (s *countingSessions) GetActive(ctx context.Context, id uuid.UUID) (*UserSession, error) {
	s.getActive.Add(1)
	return s.UserSessions.GetActive(ctx, id)
}

func (s *countingSessions) GetActiveByToken(ctx context.Context, token string) (*UserSession, error) {
	s.getActiveByToken.Add(1)
	return s.UserSessions.GetActiveByToken(ctx, token)
}

// capturingSink collects activity events for assertions.
type capturingSink struct {
	events []ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt ActivityEvent) error {
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []ActivityEventType {
	out := make([]ActivityEventType, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType)
	}
	return out
}

// capturingMailer collects deliveries for assertions.
type capturingMailer struct {
	confirmations []string
	resets        []string
	welcomes      []string
	lastToken     string
}

func (m *capturingMailer) SendConfirmation(_ context.Context, user *User, token string) error {
	m.confirmations = append(m.confirmations, user.ConfirmationEmail)
	m.lastToken = token
	return nil
}

func (m *capturingMailer) SendPasswordReset(_ context.Context, user *User, token string) error {
	m.resets = append(m.resets, user.Email)
	m.lastToken = token
	return nil
}

func (m *capturingMailer) SendWelcome(_ context.Context, user *User) error {
	m.welcomes = append(m.welcomes, user.Email)
	return nil
}
