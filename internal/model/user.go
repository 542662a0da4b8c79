package model

// UserKeyPrefix prefixes the store key of every user record.
const UserKeyPrefix = "user:"

// Role is the permission level of a user.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// User is the stored account, including password material.
type User struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Email            string  `json:"email"`
	PasswordHash     string  `json:"password_hash"`
	PasswordSalt     string  `json:"password_salt"`
	DisplayName      string  `json:"display_name"`
	PhotoURL         *string `json:"photo_url"`
	Bio              *string `json:"bio"`
	Location         *string `json:"location"`
	Birthday         *string `json:"birthday"`
	Relationship     *string `json:"relationship"`
	Role             Role    `json:"role"`
	FansCount        int     `json:"fans_count"`
	EmailConfirmed   bool    `json:"email_confirmed"`
	EmailConfirmedAt *string `json:"email_confirmed_at"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
	LastLoginAt      *int64  `json:"last_login_at"`
}

// UserView is the caller-facing projection of a User. It never carries
// password material.
type UserView struct {
	ID               string  `json:"id"`
	Username         string  `json:"username"`
	Email            string  `json:"email"`
	DisplayName      string  `json:"display_name"`
	PhotoURL         *string `json:"photo_url"`
	Bio              *string `json:"bio"`
	Location         *string `json:"location"`
	Birthday         *string `json:"birthday"`
	Relationship     *string `json:"relationship"`
	Role             Role    `json:"role"`
	FansCount        int     `json:"fans_count"`
	EmailConfirmed   bool    `json:"email_confirmed"`
	EmailConfirmedAt *string `json:"email_confirmed_at"`
	CreatedAt        int64   `json:"created_at"`
	UpdatedAt        int64   `json:"updated_at"`
	LastLoginAt      *int64  `json:"last_login_at"`
}

// View strips password material.
func (u User) View() UserView {
	return UserView{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		PhotoURL:         u.PhotoURL,
		Bio:              u.Bio,
		Location:         u.Location,
		Birthday:         u.Birthday,
		Relationship:     u.Relationship,
		Role:             u.Role,
		FansCount:        u.FansCount,
		EmailConfirmed:   u.EmailConfirmed,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
		LastLoginAt:      u.LastLoginAt,
	}
}

// PublicProfile is what list operations expose about other users.
type PublicProfile struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName string  `json:"display_name"`
	PhotoURL    *string `json:"photo_url"`
	Bio         *string `json:"bio"`
	Location    *string `json:"location"`
	FansCount   int     `json:"fans_count"`
	CreatedAt   int64   `json:"created_at"`
}

// Public returns the public profile of u.
func (u User) Public() PublicProfile {
	return PublicProfile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
		Bio:         u.Bio,
		Location:    u.Location,
		FansCount:   u.FansCount,
		CreatedAt:   u.CreatedAt,
	}
}

// UserRef is the value stored in the email and username indices.
type UserRef struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// PasswordHasher derives and verifies salted password hashes.
type PasswordHasher interface {
	Hash(password string) (hash, salt string, err error)
	Verify(password, hash, salt string) bool
}
