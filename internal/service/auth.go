package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

// DefaultListLimit caps ListUsers when no positive limit is given.
const DefaultListLimit = 50

// Fields UpdateUser never overwrites.
var protectedUserFields = map[string]struct{}{
	"id":            {},
	"password_hash": {},
	"password_salt": {},
	"created_at":    {},
}

type saver interface {
	Save(ctx context.Context) error
}

// AuthOption configures Auth.
type AuthOption func(*Auth)

// WithAuthClock replaces time.Now, mostly for tests.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *Auth) {
		a.now = now
	}
}

// WithSessionTTL sets the lifetime of new sessions.
func WithSessionTTL(ttl time.Duration) AuthOption {
	return func(a *Auth) {
		if ttl > 0 {
			a.sessionTTL = ttl
		}
	}
}

// Auth manages user accounts and login sessions on top of a RecordStore.
type Auth struct {
	store      model.RecordStore
	hasher     model.PasswordHasher
	tokens     model.TokenGenerator
	logger     *logger.Logger
	now        func() time.Time
	sessionTTL time.Duration

	mu        sync.Mutex
	emails    *Index[model.UserRef]
	usernames *Index[model.UserRef]
	sessions  *Index[model.Session]
}

// NewAuth creates the account manager and loads its indices.
func NewAuth(
	ctx context.Context,
	store model.RecordStore,
	hasher model.PasswordHasher,
	tokens model.TokenGenerator,
	logger *logger.Logger,
	opts ...AuthOption,
) (*Auth, error) {
	a := &Auth{
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
		sessionTTL: model.DefaultSessionTTL,
		emails:     NewIndex[model.UserRef](store, EmailIndexKey, "email_index", logger),
		usernames:  NewIndex[model.UserRef](store, UsernameIndexKey, "username_index", logger),
		sessions:   NewIndex[model.Session](store, SessionsIndexKey, "sessions_index", logger),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.emails.Load(ctx); err != nil {
		return nil, err
	}
	if err := a.usernames.Load(ctx); err != nil {
		return nil, err
	}
	if err := a.sessions.Load(ctx); err != nil {
		return nil, err
	}
	a.sweep()

	a.logger.Debug("Auth service: indices loaded",
		"users", a.usernames.Len(),
		"emails", a.emails.Len(),
		"sessions", a.sessions.Len())

	return a, nil
}

// CreateUser registers a new account and returns its id.
// Email and username must be unique ignoring case.
func (a *Auth) CreateUser(ctx context.Context, email, password, username, displayName string) (string, error) {
	a.logger.Debug("Auth service: creating user",
		"username", username,
		"email", email)

	a.mu.Lock()
	defer a.mu.Unlock()

	emailKey := strings.ToLower(email)
	usernameKey := strings.ToLower(username)

	if _, ok := a.emails.Get(emailKey); ok {
		a.logger.Info("Auth service: email already registered",
			"email", email)
		return "", fmt.Errorf("%w: %s", model.ErrDuplicateEmail, email)
	}
	if _, ok := a.usernames.Get(usernameKey); ok {
		a.logger.Info("Auth service: username already registered",
			"username", username)
		return "", fmt.Errorf("%w: %s", model.ErrDuplicateUsername, username)
	}

	hash, salt, err := a.hasher.Hash(password)
	if err != nil {
		a.logger.Error("Auth service: failed to hash password",
			"username", username,
			"error", err.Error())
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := a.now().Unix()
	user := model.User{
		ID:           "user_" + ksuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		PasswordSalt: salt,
		DisplayName:  displayName,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := model.NewDocument(user)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Create(ctx, userKey(user.ID), data, userMetadata(user)); err != nil {
		a.logger.Error("Auth service: failed to store user",
			"username", username,
			"error", err.Error())
		return "", fmt.Errorf("failed to store user: %w", err)
	}

	a.emails.Put(emailKey, model.UserRef{UserID: user.ID, Username: username})
	a.usernames.Put(usernameKey, model.UserRef{UserID: user.ID, Email: email})

	if err := a.saveIndices(ctx, a.emails, a.usernames); err != nil {
		a.emails.Remove(emailKey)
		a.usernames.Remove(usernameKey)
		if _, derr := a.store.Delete(ctx, userKey(user.ID)); derr != nil {
			a.logger.Warn("Auth service: failed to remove orphaned user",
				"user_id", user.ID,
				"error", derr.Error())
		}
		// The email index may already hold the new entry remotely.
		if serr := a.emails.Save(ctx); serr != nil {
			a.logger.Warn("Auth service: failed to restore email index",
				"user_id", user.ID,
				"error", serr.Error())
		}
		return "", err
	}

	a.logger.Info("Auth service: user created",
		"user_id", user.ID,
		"username", username)

	return user.ID, nil
}

// AuthenticateUser checks credentials and returns the user on success.
// Unknown emails and wrong passwords both return nil.
func (a *Auth) AuthenticateUser(ctx context.Context, email, password string) (*model.UserView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ref, ok := a.emails.Get(strings.ToLower(email))
	if !ok {
		a.logger.Info("Auth service: authentication failed",
			"email", email)
		return nil, nil
	}

	user, err := a.loadUser(ctx, ref.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !a.hasher.Verify(password, user.PasswordHash, user.PasswordSalt) {
		a.logger.Info("Auth service: authentication failed",
			"email", email)
		return nil, nil
	}

	now := a.now().Unix()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := a.saveUser(ctx, user); err != nil {
		a.logger.Warn("Auth service: failed to record last login",
			"user_id", user.ID,
			"error", err.Error())
	}

	a.logger.Info("Auth service: user authenticated",
		"user_id", user.ID,
		"username", user.Username)

	view := user.View()
	return &view, nil
}

// CreateSession opens a session for userID and returns its token.
func (a *Auth) CreateSession(ctx context.Context, userID string, ipAddress, userAgent *string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sweep()

	user, err := a.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		a.logger.Info("Auth service: session requested for unknown user",
			"user_id", userID)
		return "", fmt.Errorf("%w: %s", model.ErrUnknownUser, userID)
	}

	token, err := a.tokens.Generate()
	if err != nil {
		a.logger.Error("Auth service: failed to generate session token",
			"user_id", userID,
			"error", err.Error())
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := a.now()
	a.sessions.Put(token, model.Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(a.sessionTTL).Unix(),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})

	if err := a.saveIndices(ctx, a.sessions); err != nil {
		a.sessions.Remove(token)
		return "", err
	}

	a.logger.Info("Auth service: session created",
		"user_id", user.ID,
		"username", user.Username)

	return token, nil
}

// ValidateSession returns the user owning token, or nil when the token is
// unknown, expired, or belongs to a user that no longer exists.
func (a *Auth) ValidateSession(ctx context.Context, token string) (*model.UserView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dirty := a.sweep() > 0

	session, ok := a.sessions.Get(token)
	if ok && session.Expired(a.now()) {
		a.sessions.Remove(token)
		dirty = true
		ok = false
	}
	if !ok {
		a.persistSweep(ctx, dirty)
		return nil, nil
	}

	user, err := a.loadUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		a.logger.Info("Auth service: dropping session of missing user",
			"user_id", session.UserID)
		a.sessions.Remove(token)
		a.persistSweep(ctx, true)
		return nil, nil
	}

	a.persistSweep(ctx, dirty)

	view := user.View()
	return &view, nil
}

// InvalidateSession removes token and reports whether it existed.
func (a *Auth) InvalidateSession(ctx context.Context, token string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, ok := a.sessions.Get(token)
	if !ok {
		return false, nil
	}

	a.sessions.Remove(token)
	if err := a.saveIndices(ctx, a.sessions); err != nil {
		a.sessions.Put(token, session)
		return false, err
	}

	a.logger.Info("Auth service: session invalidated",
		"username", session.Username)

	return true, nil
}

// GetUserByUsername looks a user up ignoring case.
func (a *Auth) GetUserByUsername(ctx context.Context, username string) (*model.UserView, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ref, ok := a.usernames.Get(strings.ToLower(username))
	if !ok {
		return nil, nil
	}

	user, err := a.loadUser(ctx, ref.UserID)
	if err != nil || user == nil {
		return nil, err
	}

	view := user.View()
	return &view, nil
}

// UpdateUser merges the top-level fields of updates into the stored user.
// id, password_hash, password_salt and created_at are ignored. Changing the
// username or email keeps the lookup indices in step and enforces uniqueness.
func (a *Auth) UpdateUser(ctx context.Context, userID string, updates model.Document) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(updates, &fields); err != nil {
		return false, fmt.Errorf("failed to decode updates: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.store.Read(ctx, userKey(userID))
	if err != nil || rec == nil {
		return false, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(rec.Data, &merged); err != nil {
		return false, fmt.Errorf("failed to decode user: %w", err)
	}
	var before model.User
	if err := json.Unmarshal(rec.Data, &before); err != nil {
		return false, fmt.Errorf("failed to decode user: %w", err)
	}

	for k, v := range fields {
		if _, protected := protectedUserFields[k]; protected {
			continue
		}
		merged[k] = v
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("failed to encode user: %w", err)
	}
	var after model.User
	if err := json.Unmarshal(raw, &after); err != nil {
		return false, fmt.Errorf("invalid user update: %w", err)
	}
	after.UpdatedAt = a.now().Unix()

	oldEmail, newEmail := strings.ToLower(before.Email), strings.ToLower(after.Email)
	oldName, newName := strings.ToLower(before.Username), strings.ToLower(after.Username)

	if newEmail != oldEmail {
		if _, taken := a.emails.Get(newEmail); taken {
			return false, fmt.Errorf("%w: %s", model.ErrDuplicateEmail, after.Email)
		}
	}
	if newName != oldName {
		if _, taken := a.usernames.Get(newName); taken {
			return false, fmt.Errorf("%w: %s", model.ErrDuplicateUsername, after.Username)
		}
	}

	if err := a.saveUser(ctx, &after); err != nil {
		return false, err
	}

	var changed []saver
	if newEmail != oldEmail || after.Username != before.Username {
		a.emails.Remove(oldEmail)
		a.emails.Put(newEmail, model.UserRef{UserID: after.ID, Username: after.Username})
		changed = append(changed, a.emails)
	}
	if newName != oldName || after.Email != before.Email {
		a.usernames.Remove(oldName)
		a.usernames.Put(newName, model.UserRef{UserID: after.ID, Email: after.Email})
		changed = append(changed, a.usernames)
	}
	if len(changed) > 0 {
		if err := a.saveIndices(ctx, changed...); err != nil {
			return false, err
		}
	}

	a.logger.Info("Auth service: user updated",
		"user_id", userID)

	return true, nil
}

// ListUsers returns public profiles ordered by username.
// A non-positive limit means DefaultListLimit.
func (a *Auth) ListUsers(ctx context.Context, limit int) ([]model.PublicProfile, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	profiles := []model.PublicProfile{}
	for _, name := range a.usernames.Keys() {
		if len(profiles) >= limit {
			break
		}
		ref, _ := a.usernames.Get(name)
		user, err := a.loadUser(ctx, ref.UserID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			profiles = append(profiles, user.Public())
		}
	}

	return profiles, nil
}

// Stats reports index sizes after dropping expired sessions.
func (a *Auth) Stats(ctx context.Context) (model.Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.persistSweep(ctx, a.sweep() > 0)

	info, err := a.store.Info(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to get store info: %w", err)
	}

	return model.Stats{
		TotalUsers:     a.usernames.Len(),
		TotalEmails:    a.emails.Len(),
		ActiveSessions: a.sessions.Len(),
		Backend:        info.Backend,
		BackendURL:     info.BackendURL,
		IndexID:        info.IndexID,
	}, nil
}

// Test checks that the underlying store can write and read back a record.
func (a *Auth) Test(ctx context.Context) (string, error) {
	return a.store.Test(ctx, "connectivity_test")
}

// sweep drops expired sessions from memory and returns how many went.
func (a *Auth) sweep() int {
	now := a.now()
	n := a.sessions.RemoveFunc(func(_ string, s model.Session) bool {
		return s.Expired(now)
	})
	if n > 0 {
		a.logger.Debug("Auth service: expired sessions removed",
			"count", n)
	}
	return n
}

// persistSweep saves the sessions index after a sweep changed it.
// Failures are logged; the next mutation retries the save.
func (a *Auth) persistSweep(ctx context.Context, dirty bool) {
	if !dirty {
		return
	}
	if err := a.saveIndices(ctx, a.sessions); err != nil {
		a.logger.Warn("Auth service: failed to save sessions index",
			"error", err.Error())
	}
}

func (a *Auth) saveIndices(ctx context.Context, indices ...saver) error {
	for _, idx := range indices {
		if err := idx.Save(ctx); err != nil {
			a.logger.Error("Auth service: failed to save index",
				"error", err.Error())
			return err
		}
	}
	return nil
}

// loadUser returns nil when the user record is absent or unreadable.
func (a *Auth) loadUser(ctx context.Context, id string) (*model.User, error) {
	rec, err := a.store.Read(ctx, userKey(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	var user model.User
	if err := rec.Data.Decode(&user); err != nil {
		a.logger.Warn("Auth service: failed to decode user",
			"user_id", id,
			"error", err.Error())
		return nil, nil
	}
	return &user, nil
}

func (a *Auth) saveUser(ctx context.Context, user *model.User) error {
	data, err := model.NewDocument(user)
	if err != nil {
		return err
	}
	ok, err := a.store.Update(ctx, userKey(user.ID), data, userMetadata(*user))
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if !ok {
		return fmt.Errorf("failed to update user %s: %w", user.ID, model.ErrNotFound)
	}
	return nil
}

func userKey(id string) string {
	return model.UserKeyPrefix + id
}

func userMetadata(u model.User) map[string]string {
	return map[string]string{
		"type":     "user",
		"username": u.Username,
		"email":    u.Email,
	}
}
