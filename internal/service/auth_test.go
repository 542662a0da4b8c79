package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/pastedb/internal/model"
	"github.com/dtroode/pastedb/internal/password"
	pointermemory "github.com/dtroode/pastedb/internal/repository/memory"
	"github.com/dtroode/pastedb/internal/testutil"
	"github.com/dtroode/pastedb/internal/token"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Generate() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

type mockHasher struct {
	mock.Mock
}

func (m *mockHasher) Hash(pw string) (string, string, error) {
	args := m.Called(pw)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockHasher) Verify(pw, hash, salt string) bool {
	args := m.Called(pw, hash, salt)
	return args.Bool(0)
}

type authFixture struct {
	auth     *Auth
	store    *Store
	backend  *recordingBackend
	pointers *pointermemory.PointerStore
	clock    *fakeClock
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		backend:  newRecordingBackend(),
		pointers: pointermemory.NewPointerStore(),
		clock:    newFakeClock(),
	}
	f.store = NewStore(f.backend, f.pointers, testutil.MakeNoopLogger(), WithClock(f.clock.Now))
	f.auth = f.newAuth(t, password.NewPBKDF2(1, 16), token.NewRandom(32))
	return f
}

func (f *authFixture) newAuth(t *testing.T, hasher model.PasswordHasher, tokens model.TokenGenerator) *Auth {
	t.Helper()
	a, err := NewAuth(context.Background(), f.store, hasher, tokens, testutil.MakeNoopLogger(), WithAuthClock(f.clock.Now))
	require.NoError(t, err)
	return a
}

// reopen simulates a new process over the same backend and pointer store.
func (f *authFixture) reopen(t *testing.T) *Auth {
	t.Helper()
	f.store = NewStore(f.backend, f.pointers, testutil.MakeNoopLogger(), WithClock(f.clock.Now))
	return f.newAuth(t, password.NewPBKDF2(1, 16), token.NewRandom(32))
}

func TestAuth_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	userID, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(userID, "user_"))

	user, err := f.auth.AuthenticateUser(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, userID, user.ID)

	user, err = f.auth.AuthenticateUser(ctx, "a@x.com", "wrong")
	require.NoError(t, err)
	assert.Nil(t, user)

	tok, err := f.auth.CreateSession(ctx, userID, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	view, err := f.auth.ValidateSession(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "alice", view.Username)
	assert.Equal(t, "Alice", view.DisplayName)
	assert.Equal(t, model.RoleUser, view.Role)

	raw, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")

	ok, err := f.auth.InvalidateSession(ctx, tok)
	require.NoError(t, err)
	assert.True(t, ok)

	view, err = f.auth.ValidateSession(ctx, tok)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestAuth_CreateUserDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	_, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	stores := f.backend.stores

	tests := []struct {
		name     string
		email    string
		username string
		wantErr  error
	}{
		{name: "same email other case", email: "A@X.COM", username: "alice2", wantErr: model.ErrDuplicateEmail},
		{name: "same username other case", email: "b@x.com", username: "ALICE", wantErr: model.ErrDuplicateUsername},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.CreateUser(ctx, tt.email, "pw", tt.username, "X")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, stores, f.backend.stores)
		})
	}
}

func TestAuth_CreateUserStoresHashedPassword(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "secret-pw", "alice", "Alice")
	require.NoError(t, err)

	rec, err := f.store.Read(ctx, userKey(id))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.NotContains(t, string(rec.Data), "secret-pw")
	assert.Equal(t, map[string]string{"type": "user", "username": "alice", "email": "a@x.com"}, rec.Metadata)

	var stored model.User
	require.NoError(t, rec.Data.Decode(&stored))
	assert.Len(t, stored.PasswordSalt, 32)
	assert.Len(t, stored.PasswordHash, 64)
	assert.True(t, password.NewPBKDF2(1, 16).Verify("secret-pw", stored.PasswordHash, stored.PasswordSalt))
}

func TestAuth_CreateUserHashFailure(t *testing.T) {
	f := newAuthFixture(t)
	hasher := &mockHasher{}
	hasher.On("Hash", "pw").Return("", "", errors.New("no entropy"))
	a := f.newAuth(t, hasher, token.NewRandom(32))

	_, err := a.CreateUser(context.Background(), "a@x.com", "pw", "alice", "Alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to hash password")
	hasher.AssertExpectations(t)
}

func TestAuth_CreateUserIndexSaveFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	// user record and its index snapshot succeed, the email index record fails
	f.backend.failStoreAt = f.backend.stores + 3

	_, err := f.auth.CreateUser(ctx, "a@x.com", "pw", "alice", "Alice")
	require.Error(t, err)

	user, err := f.auth.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = f.auth.CreateUser(ctx, "a@x.com", "pw", "alice", "Alice")
	require.NoError(t, err)
}

func TestAuth_CreateUserUsernameIndexFailureRestoresEmailIndex(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	// user record, its index snapshot and the email index succeed; the username index fails
	f.backend.failStoreAt = f.backend.stores + 5

	_, err := f.auth.CreateUser(ctx, "a@x.com", "pw", "alice", "Alice")
	require.Error(t, err)

	reopened := f.reopen(t)
	_, ok := reopened.emails.Get("a@x.com")
	assert.False(t, ok)

	_, err = reopened.CreateUser(ctx, "a@x.com", "pw", "alice", "Alice")
	require.NoError(t, err)
}

func TestAuth_AuthenticateIndistinguishableFailures(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	_, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)

	wrongPassword, err1 := f.auth.AuthenticateUser(ctx, "a@x.com", "nope")
	unknownEmail, err2 := f.auth.AuthenticateUser(ctx, "ghost@x.com", "p1")

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.Nil(t, wrongPassword)
	assert.Nil(t, unknownEmail)
}

func TestAuth_AuthenticateUpdatesLastLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	_, err := f.auth.CreateUser(ctx, "Mixed@X.com", "p1", "alice", "Alice")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)

	user, err := f.auth.AuthenticateUser(ctx, "mixed@x.COM", "p1")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, user.LastLoginAt)
	assert.Equal(t, f.clock.Now().Unix(), *user.LastLoginAt)
	assert.Equal(t, f.clock.Now().Unix(), user.UpdatedAt)

	stored, err := f.auth.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, *user.LastLoginAt, *stored.LastLoginAt)
}

func TestAuth_CreateSessionUnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.CreateSession(context.Background(), "user_missing", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnknownUser)
}

func TestAuth_CreateSessionRecordsClient(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	tokens := &mockTokens{}
	tokens.On("Generate").Return("fixed-token", nil).Once()
	a := f.newAuth(t, password.NewPBKDF2(1, 16), tokens)

	id, err := a.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)

	ip, ua := "10.0.0.1", "curl/8"
	tok, err := a.CreateSession(ctx, id, &ip, &ua)
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", tok)
	tokens.AssertExpectations(t)

	rec, err := f.store.Read(ctx, SessionsIndexKey)
	require.NoError(t, err)
	require.NotNil(t, rec)

	var sessions map[string]model.Session
	require.NoError(t, rec.Data.Decode(&sessions))
	require.Contains(t, sessions, "fixed-token")

	s := sessions["fixed-token"]
	assert.Equal(t, id, s.UserID)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, f.clock.Now().Unix(), s.CreatedAt)
	assert.Equal(t, f.clock.Now().Add(30*24*time.Hour).Unix(), s.ExpiresAt)
	require.NotNil(t, s.IPAddress)
	assert.Equal(t, ip, *s.IPAddress)
	require.NotNil(t, s.UserAgent)
	assert.Equal(t, ua, *s.UserAgent)
}

func TestAuth_CreateSessionTokenFailure(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	tokens := &mockTokens{}
	tokens.On("Generate").Return("", errors.New("rng broken"))
	a := f.newAuth(t, password.NewPBKDF2(1, 16), tokens)

	id, err := a.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)

	_, err = a.CreateSession(ctx, id, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rng broken")
}

func TestAuth_SessionExpiry(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	tok, err := f.auth.CreateSession(ctx, id, nil, nil)
	require.NoError(t, err)

	f.clock.Advance(30*24*time.Hour - time.Second)
	view, err := f.auth.ValidateSession(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, view)

	f.clock.Advance(time.Second)
	view, err = f.auth.ValidateSession(ctx, tok)
	require.NoError(t, err)
	assert.Nil(t, view)

	stats, err := f.auth.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSessions)

	// The sweep was persisted.
	reopened := f.reopen(t)
	stats, err = reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveSessions)
}

func TestAuth_ExpiredSessionStillInStoredIndex(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	tok, err := f.auth.CreateSession(ctx, id, nil, nil)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	// The stored snapshot still lists the session.
	rec, err := f.store.Read(ctx, SessionsIndexKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, string(rec.Data), tok)

	reopened := f.reopen(t)
	view, err := reopened.ValidateSession(ctx, tok)
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestAuth_SessionOfDeletedUserIsPurged(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	tok, err := f.auth.CreateSession(ctx, id, nil, nil)
	require.NoError(t, err)

	ok, err := f.store.Delete(ctx, userKey(id))
	require.NoError(t, err)
	require.True(t, ok)

	view, err := f.auth.ValidateSession(ctx, tok)
	require.NoError(t, err)
	assert.Nil(t, view)

	ok, err = f.auth.InvalidateSession(ctx, tok)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuth_InvalidateUnknown(t *testing.T) {
	f := newAuthFixture(t)

	ok, err := f.auth.InvalidateSession(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuth_StateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	tok, err := f.auth.CreateSession(ctx, id, nil, nil)
	require.NoError(t, err)

	reopened := f.reopen(t)

	user, err := reopened.AuthenticateUser(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	require.NotNil(t, user)

	view, err := reopened.ValidateSession(ctx, tok)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, id, view.ID)

	_, err = reopened.CreateUser(ctx, "A@x.com", "p2", "other", "Other")
	assert.ErrorIs(t, err, model.ErrDuplicateEmail)
}

func TestAuth_GetUserByUsername(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "Alice", "Alice A.")
	require.NoError(t, err)

	user, err := f.auth.GetUserByUsername(ctx, "aLiCe")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "Alice", user.Username)

	user, err = f.auth.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuth_UpdateUser(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	created := f.clock.Now().Unix()
	f.clock.Advance(time.Hour)

	ok, err := f.auth.UpdateUser(ctx, id, doc(`{
		"display_name": "Alice Liddell",
		"bio": "down the rabbit hole",
		"fans_count": 7,
		"id": "hijack",
		"password_hash": "deadbeef",
		"created_at": 1
	}`))
	require.NoError(t, err)
	require.True(t, ok)

	user, err := f.auth.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, "Alice Liddell", user.DisplayName)
	require.NotNil(t, user.Bio)
	assert.Equal(t, "down the rabbit hole", *user.Bio)
	assert.Equal(t, 7, user.FansCount)
	assert.Equal(t, created, user.CreatedAt)
	assert.Equal(t, f.clock.Now().Unix(), user.UpdatedAt)

	// The password survives the update.
	authed, err := f.auth.AuthenticateUser(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	assert.NotNil(t, authed)
}

func TestAuth_UpdateUserRenames(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	_, err = f.auth.CreateUser(ctx, "b@x.com", "p2", "bob", "Bob")
	require.NoError(t, err)

	ok, err := f.auth.UpdateUser(ctx, id, doc(`{"username":"BOB"}`))
	require.ErrorIs(t, err, model.ErrDuplicateUsername)
	assert.False(t, ok)

	ok, err = f.auth.UpdateUser(ctx, id, doc(`{"email":"b@x.com"}`))
	require.ErrorIs(t, err, model.ErrDuplicateEmail)
	assert.False(t, ok)

	ok, err = f.auth.UpdateUser(ctx, id, doc(`{"username":"alicia","email":"alicia@x.com"}`))
	require.NoError(t, err)
	require.True(t, ok)

	old, err := f.auth.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, old)

	renamed, err := f.auth.GetUserByUsername(ctx, "alicia")
	require.NoError(t, err)
	require.NotNil(t, renamed)
	assert.Equal(t, id, renamed.ID)

	user, err := f.auth.AuthenticateUser(ctx, "alicia@x.com", "p1")
	require.NoError(t, err)
	assert.NotNil(t, user)

	user, err = f.auth.AuthenticateUser(ctx, "a@x.com", "p1")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAuth_UpdateUserUnknownOrInvalid(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	ok, err := f.auth.UpdateUser(ctx, "user_missing", doc(`{"bio":"x"}`))
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)

	_, err = f.auth.UpdateUser(ctx, id, doc(`["not","an","object"]`))
	assert.Error(t, err)

	_, err = f.auth.UpdateUser(ctx, id, doc(`{"fans_count":"lots"}`))
	assert.Error(t, err)
}

func TestAuth_ListUsers(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := f.auth.CreateUser(ctx, name+"@x.com", "pw", name, strings.ToUpper(name))
		require.NoError(t, err)
	}

	users, err := f.auth.ListUsers(ctx, 0)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, "ALICE", users[0].DisplayName)
	assert.Equal(t, "carol", users[2].Username)

	raw, err := json.Marshal(users)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "email")

	users, err = f.auth.ListUsers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestAuth_Stats(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.CreateUser(ctx, "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	_, err = f.auth.CreateUser(ctx, "b@x.com", "p2", "bob", "Bob")
	require.NoError(t, err)
	_, err = f.auth.CreateSession(ctx, id, nil, nil)
	require.NoError(t, err)

	stats, err := f.auth.Stats(ctx)
	require.NoError(t, err)

	info, err := f.store.Info(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.Stats{
		TotalUsers:     2,
		TotalEmails:    2,
		ActiveSessions: 1,
		Backend:        "memory",
		BackendURL:     "memory://memory",
		IndexID:        info.IndexID,
	}, stats)
}

func TestAuth_Test(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	id, err := f.auth.Test(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	f.backend.SetFailing(errBoom)
	_, err = f.auth.Test(ctx)
	assert.Error(t, err)
}
