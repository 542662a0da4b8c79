package cli

import (
	"context"

	"github.com/bobg/subcmd"

	"github.com/dtroode/pastedb/internal/model"
)

type authCommands struct {
	*Router
	svc Accounts
}

func (r *Router) authCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("auth requires an operation")
	}
	accounts, err := r.accounts(ctx)
	if err != nil {
		return err
	}
	return subcmd.Run(ctx, authCommands{Router: r, svc: accounts}, args)
}

func (c authCommands) Subcmds() subcmd.Map {
	client := func() []subcmd.Param {
		return subcmd.Params(
			"ip", subcmd.String, "", "client IP address",
			"ua", subcmd.String, "", "client user agent",
		)
	}
	return subcmd.Commands(
		"register", c.register, client(),
		"login", c.login, client(),
		"validate", c.validate, nil,
		"logout", c.logout, nil,
		"stats", c.stats, nil,
		"test", c.test, nil,
	)
}

// accountUser is the account part of a login result.
type accountUser struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	EmailConfirmedAt *string `json:"email_confirmed_at"`
	CreatedAt        int64   `json:"created_at"`
}

// accountProfile is the profile part of a login result.
type accountProfile struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	DisplayName      string     `json:"display_name"`
	PhotoURL         *string    `json:"photo_url"`
	Relationship     *string    `json:"relationship"`
	Location         *string    `json:"location"`
	Birthday         *string    `json:"birthday"`
	Bio              *string    `json:"bio"`
	FansCount        int        `json:"fans_count"`
	CreatedAt        int64      `json:"created_at"`
	EmailConfirmed   bool       `json:"email_confirmed"`
	EmailConfirmedAt *string    `json:"email_confirmed_at"`
	Role             model.Role `json:"role"`
}

type accountResult struct {
	Success      bool           `json:"success"`
	User         accountUser    `json:"user"`
	Profile      accountProfile `json:"profile"`
	SessionToken string         `json:"session_token,omitempty"`
	Message      string         `json:"message,omitempty"`
}

func newAccountResult(u *model.UserView, token, message string) accountResult {
	return accountResult{
		Success: true,
		User: accountUser{
			ID:               u.ID,
			Email:            u.Email,
			EmailConfirmedAt: u.EmailConfirmedAt,
			CreatedAt:        u.CreatedAt,
		},
		Profile: accountProfile{
			ID:               u.ID,
			Username:         u.Username,
			DisplayName:      u.DisplayName,
			PhotoURL:         u.PhotoURL,
			Relationship:     u.Relationship,
			Location:         u.Location,
			Birthday:         u.Birthday,
			Bio:              u.Bio,
			FansCount:        u.FansCount,
			CreatedAt:        u.CreatedAt,
			EmailConfirmed:   u.EmailConfirmed,
			EmailConfirmedAt: u.EmailConfirmedAt,
			Role:             u.Role,
		},
		SessionToken: token,
		Message:      message,
	}
}

func (c authCommands) register(ctx context.Context, ip, ua string, args []string) error {
	if len(args) < 4 {
		return usagef("register requires email, password, username and display name")
	}
	email, password, username, displayName := args[0], args[1], args[2], args[3]

	userID, err := c.svc.CreateUser(ctx, email, password, username, displayName)
	if err != nil {
		return err
	}

	user, err := c.svc.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user == nil {
		return c.write(envelope{Error: "created user could not be read back"})
	}

	token, err := c.svc.CreateSession(ctx, userID, optional(ip), optional(ua))
	if err != nil {
		return err
	}

	return c.write(newAccountResult(user, token, "user "+username+" created"))
}

func (c authCommands) login(ctx context.Context, ip, ua string, args []string) error {
	if len(args) < 2 {
		return usagef("login requires email and password")
	}

	user, err := c.svc.AuthenticateUser(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if user == nil {
		return c.write(envelope{Error: "invalid email or password"})
	}

	token, err := c.svc.CreateSession(ctx, user.ID, optional(ip), optional(ua))
	if err != nil {
		return err
	}

	return c.write(newAccountResult(user, token, "logged in as "+user.Username))
}

func (c authCommands) validate(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usagef("validate requires session token")
	}

	user, err := c.svc.ValidateSession(ctx, args[0])
	if err != nil {
		return err
	}
	if user == nil {
		return c.write(envelope{Error: "invalid or expired session"})
	}

	return c.write(newAccountResult(user, "", "session valid for "+user.Username))
}

func (c authCommands) logout(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usagef("logout requires session token")
	}

	ok, err := c.svc.InvalidateSession(ctx, args[0])
	if err != nil {
		return err
	}

	msg := "logged out"
	if !ok {
		msg = "session not found"
	}
	return c.write(envelope{Success: ok, Message: msg})
}

type statsResult struct {
	Success bool        `json:"success"`
	Stats   model.Stats `json:"stats"`
}

func (c authCommands) stats(ctx context.Context, _ []string) error {
	stats, err := c.svc.Stats(ctx)
	if err != nil {
		return err
	}
	return c.write(statsResult{Success: true, Stats: stats})
}

func (c authCommands) test(ctx context.Context, _ []string) error {
	id, err := c.svc.Test(ctx)
	if err != nil {
		return err
	}
	stats, err := c.svc.Stats(ctx)
	if err != nil {
		return err
	}
	return c.write(testResult{
		Success:     true,
		Service:     stats.Backend,
		ServiceURL:  stats.BackendURL,
		TestPasteID: id,
		Message:     "connectivity test passed",
	})
}
