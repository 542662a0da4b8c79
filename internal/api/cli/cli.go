// Package cli exposes the store and the account manager as command verbs
// that print exactly one JSON document each.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/bobg/subcmd"
	pkgerrors "github.com/pkg/errors"

	"github.com/dtroode/pastedb/internal/logger"
	"github.com/dtroode/pastedb/internal/model"
)

// DB is the keyed object store as seen by the command surface.
type DB interface {
	Create(ctx context.Context, key string, data model.Document, metadata map[string]string) (string, error)
	Read(ctx context.Context, key string) (*model.Record, error)
	Update(ctx context.Context, key string, data model.Document, metadata map[string]string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context) ([]string, error)
	Search(ctx context.Context, query, field string) ([]string, error)
	Count(ctx context.Context) (int, error)
	Backup(ctx context.Context, name string) (string, error)
	Info(ctx context.Context) (model.Info, error)
	Test(ctx context.Context, kind string) (string, error)
}

// Accounts is the account and session manager as seen by the command surface.
type Accounts interface {
	CreateUser(ctx context.Context, email, password, username, displayName string) (string, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.UserView, error)
	CreateSession(ctx context.Context, userID string, ipAddress, userAgent *string) (string, error)
	ValidateSession(ctx context.Context, token string) (*model.UserView, error)
	InvalidateSession(ctx context.Context, token string) (bool, error)
	GetUserByUsername(ctx context.Context, username string) (*model.UserView, error)
	Stats(ctx context.Context) (model.Stats, error)
	Test(ctx context.Context) (string, error)
}

// AccountsFactory builds the account manager on first use, so db verbs
// never pay for loading the account indices.
type AccountsFactory func(ctx context.Context) (Accounts, error)

// ErrUsage is returned for missing or malformed command arguments.
var ErrUsage = errors.New("usage")

// Router dispatches `db` and `auth` verbs.
type Router struct {
	db       DB
	accounts AccountsFactory
	out      io.Writer
	logger   *logger.Logger
}

// NewRouter creates a Router writing results to out.
func NewRouter(db DB, accounts AccountsFactory, out io.Writer, logger *logger.Logger) *Router {
	return &Router{
		db:       db,
		accounts: accounts,
		out:      out,
		logger:   logger,
	}
}

// Subcmds implements subcmd.Cmd.
func (r *Router) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"db", r.dbCmd, nil,
		"auth", r.authCmd, nil,
	)
}

// Run executes args. Every failure is also written to out as
// {"success": false, "error": "..."}.
func (r *Router) Run(ctx context.Context, args []string) error {
	var err error
	if len(args) == 0 {
		err = usagef("no operation specified, want db or auth")
	} else {
		err = unwrapRun(subcmd.Run(ctx, r, args))
	}
	if err == nil {
		return nil
	}

	r.logger.Error("CLI: command failed",
		"command", strings.Join(args[:min(2, len(args))], " "),
		"error", err.Error())

	if werr := r.write(failure(err)); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

// unwrapRun strips the "running <verb>" context subcmd adds, so callers see
// the handler's own error. Dispatch and flag errors become usage errors.
func unwrapRun(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, subcmd.ErrUnknown),
		errors.Is(err, subcmd.ErrNoArgs),
		errors.Is(err, flag.ErrHelp):
		return fmt.Errorf("%w: %s", ErrUsage, err)
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if strings.HasPrefix(e.Error(), "parsing args: ") {
			return fmt.Errorf("%w: %s", ErrUsage, e)
		}
	}
	return pkgerrors.Cause(err)
}

// envelope is the common shape of command results.
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func failure(err error) envelope {
	return envelope{Success: false, Error: errorMessage(err)}
}

// errorMessage turns an error into the text callers see.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrUsage):
		return err.Error()
	case errors.Is(err, model.ErrDuplicateKey),
		errors.Is(err, model.ErrReservedKey),
		errors.Is(err, model.ErrDuplicateEmail),
		errors.Is(err, model.ErrDuplicateUsername),
		errors.Is(err, model.ErrUnknownUser),
		errors.Is(err, model.ErrInvalidDocument):
		return "validation error: " + err.Error()
	case errors.Is(err, model.ErrNoBackendAvailable):
		return "no backend available"
	case model.IsBackendError(err):
		return "backend error: " + err.Error()
	default:
		return "internal error: " + err.Error()
	}
}

// Fail writes the failure document for err to w. It is meant for errors
// raised before a Router exists.
func Fail(w io.Writer, err error) error {
	return encode(w, failure(err))
}

func (r *Router) write(v any) error {
	return encode(r.out, v)
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUsage}, args...)...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
