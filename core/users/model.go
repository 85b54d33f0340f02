package users

// Role controls access to administrative commands.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the persistent identity of a Telegram account.
// Username is nil for accounts without a public @username.
type User struct {
	ID         int64   `db:"id"`
	TelegramID int64   `db:"telegram_id"`
	Username   *string `db:"username"`
	FullName   string  `db:"full_name"`
	IsBot      bool    `db:"is_bot"`
	Role       Role    `db:"role"`
}

// IsAdmin reports whether the user may run administrative commands.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DisplayName returns the @username when present, the full name otherwise.
func (u *User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return "@" + *u.Username
	}
	return u.FullName
}
