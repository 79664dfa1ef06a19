package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/layer-3/passage/adapters/hasher"
	"github.com/layer-3/passage/adapters/tokenizer"
	"github.com/layer-3/passage/core"
	"github.com/layer-3/passage/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthenticateThenVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	profile := f.register(t, "Alice@Example.com ", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "  alice@example.COM", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, *profile, session.Profile)
	assert.Len(t, session.TokenID, 64)
	assert.True(t, session.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)))

	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, claims.SubjectID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, session.TokenID, claims.TokenID)
}

func TestAuthenticateIssuesDistinctTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "s3cret-pass")

	first, err := f.auth.Authenticate(context.Background(), "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	second, err := f.auth.Authenticate(context.Background(), "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, first.TokenID, second.TokenID)
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "s3cret-pass")

	_, unknown := f.auth.Authenticate(context.Background(), "bob@example.com", "s3cret-pass")
	_, wrong := f.auth.Authenticate(context.Background(), "alice@example.com", "wrong")

	require.ErrorIs(t, unknown, core.ErrInvalidCredentials)
	require.ErrorIs(t, wrong, core.ErrInvalidCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())
}

type MockPrincipalStore struct {
	mock.Mock
}

func (m *MockPrincipalStore) Create(ctx context.Context, p *core.Principal) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPrincipalStore) GetByEmail(ctx context.Context, email string) (*core.Principal, error) {
	args := m.Called(ctx, email)
	p, _ := args.Get(0).(*core.Principal)
	return p, args.Error(1)
}

func (m *MockPrincipalStore) GetByID(ctx context.Context, id string) (*core.Principal, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*core.Principal)
	return p, args.Error(1)
}

func (m *MockPrincipalStore) Update(ctx context.Context, p *core.Principal) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockPrincipalStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func TestAuthenticateStoreOutageIsNotInvalidCredentials(t *testing.T) {
	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)

	principals := new(MockPrincipalStore)
	principals.On("GetByEmail", mock.Anything, "alice@example.com").
		Return(nil, errors.Join(core.ErrStoreUnavailable, errors.New("dial tcp: refused")))

	auth := NewAuthService(tokenizer.NewJWTTokenizer(key), principals, new(MockRevocationStore),
		hasher.NewBcryptHasher(bcrypt.MinCost), nil, time.Hour)

	_, err = auth.Authenticate(context.Background(), "alice@example.com", "pw")
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestAuthenticateRateLimited(t *testing.T) {
	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)
	f := newFixture(t)

	auth := NewAuthService(tokenizer.NewJWTTokenizer(key), f.principals, f.revocations,
		hasher.NewBcryptHasher(bcrypt.MinCost), nil, time.Hour,
		WithRateLimiter(ratelimit.NewKeyed(1, 2)))

	for i := 0; i < 2; i++ {
		_, err := auth.Authenticate(context.Background(), "alice@example.com", "pw")
		require.ErrorIs(t, err, core.ErrInvalidCredentials)
	}
	_, err = auth.Authenticate(context.Background(), "ALICE@example.com", "pw")
	assert.ErrorIs(t, err, core.ErrRateLimited)
}

func TestVerifyRejectsRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, claims))

	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrRevoked)

	f.events.AssertCalled(t, "PublishRevocation", mock.Anything, claims.SubjectID, mock.MatchedBy(func(e core.RevocationEntry) bool {
		return e.TokenID == session.TokenID && e.Reason == core.ReasonLogout
	}))
}

func TestRevocationEntryExpiryMatchesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)
	require.NoError(t, f.auth.Logout(ctx, claims))

	// Still listed just before the token would expire on its own
	removed, err := f.revocations.Sweep(ctx, session.ExpiresAt)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = f.revocations.Sweep(ctx, session.ExpiresAt.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	f.clock.Advance(time.Hour)
	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrExpired, "a swept token is still rejected by its own expiry")
}

func TestLogoutIsIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.auth.Logout(ctx, claims))
		}()
	}
	wg.Wait()

	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrRevoked)
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Verify(context.Background(), "garbage")
	assert.ErrorIs(t, err, core.ErrMalformed)
}

func TestRevocationPublishFailureDoesNotFailLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	events := new(MockEventPublisher)
	events.On("PublishRevocation", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f.auth.eventPub = events

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	require.NoError(t, f.auth.Logout(ctx, claims))
	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrRevoked)
	events.AssertExpectations(t)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	require.NoError(t, f.auth.DeleteAccount(ctx, claims))

	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrRevoked)
	_, err = f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	_, err = f.auth.ChangePassword(ctx, claims, "not-current", "new-pass-123")
	require.ErrorIs(t, err, core.ErrInvalidCredentials)

	fresh, err := f.auth.ChangePassword(ctx, claims, "s3cret-pass", "new-pass-123")
	require.NoError(t, err)
	assert.NotEqual(t, session.TokenID, fresh.TokenID)

	_, err = f.auth.Verify(ctx, session.Token)
	assert.ErrorIs(t, err, core.ErrRevoked)
	_, err = f.auth.Verify(ctx, fresh.Token)
	assert.NoError(t, err)

	_, err = f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	_, err = f.auth.Authenticate(ctx, "alice@example.com", "new-pass-123")
	assert.NoError(t, err)
}

func TestChangePasswordRegistryOutageLeavesPasswordUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	key, err := tokenizer.GenerateKey()
	require.NoError(t, err)
	revocations := new(MockRevocationStore)
	revocations.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)
	revocations.On("Revoke", mock.Anything, mock.Anything).
		Return(errors.Join(core.ErrStoreUnavailable, errors.New("dial tcp: refused")))

	pw := hasher.NewBcryptHasher(bcrypt.MinCost)
	auth := NewAuthService(tokenizer.NewJWTTokenizer(key, tokenizer.WithClock(f.clock.Now)),
		f.principals, revocations, pw, nil, time.Hour, WithClock(f.clock.Now))

	session, err := auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	_, err = auth.ChangePassword(ctx, claims, "s3cret-pass", "new-pass-123")
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
	revocations.AssertExpectations(t)

	_, err = auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	assert.NoError(t, err, "the old password still works")
	_, err = auth.Authenticate(ctx, "alice@example.com", "new-pass-123")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
}

func TestRenameAndMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "s3cret-pass")

	session, err := f.auth.Authenticate(ctx, "alice@example.com", "s3cret-pass")
	require.NoError(t, err)
	claims, err := f.auth.Verify(ctx, session.Token)
	require.NoError(t, err)

	_, err = f.auth.Rename(ctx, claims, "   ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	profile, err := f.auth.Rename(ctx, claims, " Alice Liddell ")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", profile.DisplayName)

	me, err := f.auth.Me(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, *profile, *me)
}
