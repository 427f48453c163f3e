package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultProvider labels identities whose user id carries no provider prefix.
const DefaultProvider = "default"

// SessionClaims is the JWT payload minted by the identity provider. UserID is
// usually provider-qualified, e.g. "google:1234".
type SessionClaims struct {
	UserID          string   `json:"user_id"`
	UserEmail       string   `json:"user_email"`
	UserDisplayName string   `json:"user_display_name"`
	UserAvatarURL   string   `json:"user_avatar_url"`
	UserRoles       []string `json:"user_roles"`
	jwt.RegisteredClaims
}

// Identity splits the claims into a provider and a provider-local subject.
// The subject falls back to the registered subject, then to the email address.
func (c SessionClaims) Identity() (provider string, subject string) {
	provider = DefaultProvider
	subject = strings.TrimSpace(c.Subject)

	if raw := strings.TrimSpace(c.UserID); raw != "" {
		prefix, rest, found := strings.Cut(raw, ":")
		prefix, rest = strings.TrimSpace(prefix), strings.TrimSpace(rest)
		switch {
		case found && prefix != "" && rest != "":
			provider, subject = prefix, rest
		case !found && subject == "":
			subject = raw
		}
	}

	if subject == "" {
		subject = strings.TrimSpace(c.UserEmail)
	}
	return provider, subject
}
