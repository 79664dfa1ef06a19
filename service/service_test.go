package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/passage/adapters/hasher"
	"github.com/layer-3/passage/adapters/store"
	"github.com/layer-3/passage/adapters/tokenizer"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/ports"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testClock is a settable clock shared by services and the tokenizer
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSender keeps the last code sent to each address
type recordingSender struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
}

func newRecordingSender() *recordingSender {
	return &recordingSender{codes: make(map[string]string)}
}

func (r *recordingSender) SendCode(ctx context.Context, address, code string, purpose core.Purpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[string(purpose)+"|"+address] = code
	r.sent++
	return nil
}

func (r *recordingSender) last(purpose core.Purpose, address string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[string(purpose)+"|"+address]
}

type MockCodeSender struct {
	mock.Mock
}

func (m *MockCodeSender) SendCode(ctx context.Context, address, code string, purpose core.Purpose) error {
	return m.Called(ctx, address, code, purpose).Error(0)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishRevocation(ctx context.Context, subjectID string, entry core.RevocationEntry) error {
	return m.Called(ctx, subjectID, entry).Error(0)
}

type fixture struct {
	clock       *testClock
	principals  ports.PrincipalStore
	revocations ports.RevocationStore
	challenges  ports.ChallengeStore
	sender      *recordingSender
	events      *MockEventPublisher
	auth        *AuthService
	enrollment  *EnrollmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		clock:       newTestClock(),
		principals:  store.NewMemoryPrincipalStore(),
		revocations: store.NewMemoryStore(),
		challenges:  store.NewMemoryChallengeStore(),
		sender:      newRecordingSender(),
		events:      new(MockEventPublisher),
	}
	f.events.On("PublishRevocation", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	pw := hasher.NewBcryptHasher(bcrypt.MinCost)
	tk := tokenizer.NewJWTTokenizer(key, tokenizer.WithClock(f.clock.Now))
	f.auth = NewAuthService(tk, f.principals, f.revocations, pw, f.events, time.Hour, WithClock(f.clock.Now))
	f.enrollment = NewEnrollmentService(f.challenges, f.principals, pw, f.sender, DefaultEnrollmentConfig(), WithClock(f.clock.Now))
	return f
}

// register runs the full code flow for a new principal
func (f *fixture) register(t *testing.T, email, password string) *core.Profile {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.enrollment.RequestCode(ctx, core.PurposeEnrollment, email))
	profile, err := f.enrollment.Register(ctx, RegisterInput{
		Email:       email,
		Code:        f.sender.last(core.PurposeEnrollment, core.NormalizeEmail(email)),
		DisplayName: "Alice",
		Password:    password,
	})
	require.NoError(t, err)
	return profile
}
