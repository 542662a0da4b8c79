package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/pastedb/internal/model"
	"github.com/dtroode/pastedb/internal/password"
	pointermemory "github.com/dtroode/pastedb/internal/repository/memory"
	"github.com/dtroode/pastedb/internal/service"
	"github.com/dtroode/pastedb/internal/storage/memory"
	"github.com/dtroode/pastedb/internal/testutil"
	"github.com/dtroode/pastedb/internal/token"
)

type harness struct {
	router   *Router
	out      *bytes.Buffer
	backend  *memory.Backend
	accounts int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		out:     &bytes.Buffer{},
		backend: memory.New("memory"),
	}
	log := testutil.MakeNoopLogger()
	store := service.NewStore(h.backend, pointermemory.NewPointerStore(), log)

	var auth *service.Auth
	factory := func(ctx context.Context) (Accounts, error) {
		h.accounts++
		if auth != nil {
			return auth, nil
		}
		a, err := service.NewAuth(ctx, store, password.NewPBKDF2(1, 16), token.NewRandom(32), log)
		if err != nil {
			return nil, err
		}
		auth = a
		return auth, nil
	}

	h.router = NewRouter(store, factory, h.out, log)
	return h
}

// run executes args and decodes the single JSON document printed.
func (h *harness) run(t *testing.T, args ...string) (json.RawMessage, error) {
	t.Helper()
	h.out.Reset()

	err := h.router.Run(context.Background(), args)

	var raw json.RawMessage
	dec := json.NewDecoder(h.out)
	require.NoError(t, dec.Decode(&raw), "output: %q", h.out.String())
	assert.False(t, dec.More(), "more than one document printed")
	return raw, err
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type result struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	Message      string `json:"message"`
	Key          string `json:"key"`
	PasteID      string `json:"paste_id"`
	SessionToken string `json:"session_token"`
}

func TestRouter_DBLifecycle(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "db", "create", "-metadata", `{"type":"post"}`, "post:1", `{"title":"Olá","n":1}`)
	require.NoError(t, err)
	created := decode[result](t, raw)
	assert.True(t, created.Success)
	assert.Equal(t, "post:1", created.Key)
	assert.NotEmpty(t, created.PasteID)

	raw, err = h.run(t, "db", "read", "post:1")
	require.NoError(t, err)
	rec := decode[model.Record](t, raw)
	assert.Equal(t, created.PasteID, rec.ID)
	assert.JSONEq(t, `{"title":"Olá","n":1}`, string(rec.Data))
	assert.Equal(t, map[string]string{"type": "post"}, rec.Metadata)

	raw, err = h.run(t, "db", "update", "post:1", `{"title":"Tchau"}`)
	require.NoError(t, err)
	assert.True(t, decode[result](t, raw).Success)

	raw, err = h.run(t, "db", "search", "-field", "title", "tch")
	require.NoError(t, err)
	assert.Equal(t, []string{"post:1"}, decode[[]string](t, raw))

	raw, err = h.run(t, "db", "list_keys")
	require.NoError(t, err)
	assert.Equal(t, []string{"post:1"}, decode[[]string](t, raw))

	raw, err = h.run(t, "db", "count")
	require.NoError(t, err)
	assert.Equal(t, 1, decode[int](t, raw))

	raw, err = h.run(t, "db", "delete", "post:1")
	require.NoError(t, err)
	assert.True(t, decode[result](t, raw).Success)

	raw, err = h.run(t, "db", "read", "post:1")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))

	raw, err = h.run(t, "db", "delete", "post:1")
	require.NoError(t, err)
	assert.False(t, decode[result](t, raw).Success)

	assert.Zero(t, h.accounts)
}

func TestRouter_DBUpdateMissing(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "db", "update", "ghost", `{}`)
	require.NoError(t, err)
	res := decode[result](t, raw)
	assert.False(t, res.Success)
	assert.Equal(t, "ghost", res.Key)
}

func TestRouter_DBListEmpty(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "db", "list_keys")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	raw, err = h.run(t, "db", "search", "x")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestRouter_DBBackupInfoTest(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "db", "create", "k", `{}`)
	require.NoError(t, err)

	raw, err := h.run(t, "db", "backup", "snap.json")
	require.NoError(t, err)
	backup := decode[backupResult](t, raw)
	assert.True(t, backup.Success)
	assert.Equal(t, "snap.json", backup.Filename)
	assert.Equal(t, "memory://memory/"+backup.BackupID, backup.BackupURL)

	raw, err = h.run(t, "db", "info")
	require.NoError(t, err)
	info := decode[model.Info](t, raw)
	assert.Equal(t, "memory", info.Backend)
	assert.Equal(t, 1, info.TotalRecords)
	assert.Equal(t, []string{"memory"}, info.AvailableBackends)

	raw, err = h.run(t, "db", "test")
	require.NoError(t, err)
	res := decode[testResult](t, raw)
	assert.True(t, res.Success)
	assert.Equal(t, "memory", res.Service)
	assert.NotEmpty(t, res.TestPasteID)
}

func TestRouter_Failures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		args      []string
		wantError string
	}{
		{
			name:      "no operation",
			args:      nil,
			wantError: "usage: no operation specified",
		},
		{
			name:      "db without verb",
			args:      []string{"db"},
			wantError: "usage: db requires an operation",
		},
		{
			name:      "create missing data",
			args:      []string{"db", "create", "k"},
			wantError: "usage: create requires key and data",
		},
		{
			name:      "invalid data",
			args:      []string{"db", "create", "k", "{nope"},
			wantError: "validation error: data: invalid JSON document",
		},
		{
			name:      "invalid metadata",
			args:      []string{"db", "create", "-metadata", `{"n":1}`, "k", "{}"},
			wantError: "usage: metadata must be a JSON object of strings",
		},
		{
			name: "duplicate key",
			setup: func(h *harness) {
				_, err := h.router.db.Create(context.Background(), "k", model.Document(`{}`), nil)
				if err != nil {
					panic(err)
				}
			},
			args:      []string{"db", "create", "k", "{}"},
			wantError: "validation error: key already exists: k",
		},
		{
			name:      "backend down",
			setup:     func(h *harness) { h.backend.SetFailing(errors.New("connection refused")) },
			args:      []string{"db", "create", "k", "{}"},
			wantError: "backend error: ",
		},
		{
			name:      "unknown flag",
			args:      []string{"db", "create", "-bogus", "x", "k", "{}"},
			wantError: "usage: ",
		},
		{
			name:      "auth without verb",
			args:      []string{"auth"},
			wantError: "usage: auth requires an operation",
		},
		{
			name:      "register missing fields",
			args:      []string{"auth", "register", "a@x.com", "pw"},
			wantError: "usage: register requires email, password, username and display name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			raw, err := h.run(t, tt.args...)
			require.Error(t, err)

			res := decode[result](t, raw)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.wantError)
		})
	}
}

func TestRouter_UnknownVerb(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "db", "explode")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUsage)
	res := decode[result](t, raw)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "explode")
}

func TestRouter_HandlerErrorsReachCaller(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "db", "create", "k", "{}")
	require.NoError(t, err)

	raw, err := h.run(t, "db", "create", "k", "{}")
	require.ErrorIs(t, err, model.ErrDuplicateKey)
	assert.Equal(t, "validation error: key already exists: k", decode[result](t, raw).Error)
}

func TestRouter_DBUpdateEmptyMetadataKeepsPrevious(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "db", "create", "-metadata", `{"owner":"x"}`, "k", `{"v":1}`)
	require.NoError(t, err)

	raw, err := h.run(t, "db", "update", "-metadata", `{}`, "k", `{"v":2}`)
	require.NoError(t, err)
	assert.True(t, decode[result](t, raw).Success)

	raw, err = h.run(t, "db", "read", "k")
	require.NoError(t, err)
	rec := decode[model.Record](t, raw)
	assert.JSONEq(t, `{"v":2}`, string(rec.Data))
	assert.Equal(t, map[string]string{"owner": "x"}, rec.Metadata)
}

func TestRouter_DBReadRedactsUserRecords(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "auth", "register", "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	reg := decode[accountResult](t, raw)

	raw, err = h.run(t, "db", "read", model.UserKeyPrefix+reg.User.ID)
	require.NoError(t, err)
	rec := decode[model.Record](t, raw)
	assert.NotContains(t, string(rec.Data), "password_hash")
	assert.NotContains(t, string(rec.Data), "password_salt")

	username, ok := rec.Data.Field("username")
	assert.True(t, ok)
	assert.Equal(t, "alice", username)
}

func TestRouter_AuthScenario(t *testing.T) {
	h := newHarness(t)

	raw, err := h.run(t, "auth", "register", "-ip", "10.0.0.1", "a@x.com", "p1", "alice", "Alice")
	require.NoError(t, err)
	reg := decode[accountResult](t, raw)
	assert.True(t, reg.Success)
	assert.Equal(t, "a@x.com", reg.User.Email)
	assert.Equal(t, "alice", reg.Profile.Username)
	assert.Equal(t, model.RoleUser, reg.Profile.Role)
	assert.NotEmpty(t, reg.SessionToken)
	assert.NotContains(t, string(raw), "password")

	raw, err = h.run(t, "auth", "register", "A@X.com", "p2", "other", "Other")
	require.Error(t, err)
	assert.Contains(t, decode[result](t, raw).Error, "email is already in use")

	raw, err = h.run(t, "auth", "login", "a@x.com", "wrong")
	require.NoError(t, err)
	failed := decode[result](t, raw)
	assert.False(t, failed.Success)
	assert.Equal(t, "invalid email or password", failed.Error)

	raw, err = h.run(t, "auth", "login", "a@x.com", "p1")
	require.NoError(t, err)
	login := decode[accountResult](t, raw)
	assert.True(t, login.Success)
	assert.NotEmpty(t, login.SessionToken)
	assert.NotEqual(t, reg.SessionToken, login.SessionToken)

	raw, err = h.run(t, "auth", "validate", login.SessionToken)
	require.NoError(t, err)
	valid := decode[accountResult](t, raw)
	assert.True(t, valid.Success)
	assert.Equal(t, reg.User.ID, valid.Profile.ID)
	assert.Empty(t, valid.SessionToken)

	raw, err = h.run(t, "auth", "logout", login.SessionToken)
	require.NoError(t, err)
	assert.True(t, decode[result](t, raw).Success)

	raw, err = h.run(t, "auth", "logout", login.SessionToken)
	require.NoError(t, err)
	out := decode[result](t, raw)
	assert.False(t, out.Success)
	assert.Equal(t, "session not found", out.Message)

	raw, err = h.run(t, "auth", "validate", login.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "invalid or expired session", decode[result](t, raw).Error)

	raw, err = h.run(t, "auth", "stats")
	require.NoError(t, err)
	stats := decode[statsResult](t, raw)
	assert.True(t, stats.Success)
	assert.Equal(t, 1, stats.Stats.TotalUsers)
	assert.Equal(t, 1, stats.Stats.ActiveSessions)

	raw, err = h.run(t, "auth", "test")
	require.NoError(t, err)
	assert.True(t, decode[testResult](t, raw).Success)
}

func TestRouter_AccountsFactoryFailure(t *testing.T) {
	out := &bytes.Buffer{}
	factory := func(context.Context) (Accounts, error) {
		return nil, fmt.Errorf("failed to load indices: %w", model.ErrNoBackendAvailable)
	}
	r := NewRouter(nil, factory, out, testutil.MakeNoopLogger())

	err := r.Run(context.Background(), []string{"auth", "stats"})
	require.Error(t, err)
	assert.JSONEq(t, `{"success":false,"error":"no backend available"}`, out.String())
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want string
	}{
		{
			name: "duplicate username",
			in:   fmt.Errorf("%w: bob", model.ErrDuplicateUsername),
			want: "validation error: username is already in use: bob",
		},
		{
			name: "unknown user",
			in:   fmt.Errorf("%w: user_1", model.ErrUnknownUser),
			want: "validation error: user not found: user_1",
		},
		{
			name: "backend error",
			in:   model.NewBackendError("dpaste", "store", errors.New("status 500")),
			want: "backend error: dpaste: store failed: status 500",
		},
		{
			name: "other",
			in:   errors.New("boom"),
			want: "internal error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorMessage(tt.in))
		})
	}
}
