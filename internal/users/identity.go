package users

import (
	"strings"
	"time"
)

// Identity maps a provider login to the owner id stamped on cases.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Roles       string    `gorm:"column:roles;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Identity) TableName() string {
	return "owner_identities"
}

// Profile is the caller-facing view of an identity.
type Profile struct {
	OwnerID     string   `json:"owner_id"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

func (i Identity) Profile() Profile {
	return Profile{
		OwnerID:     i.OwnerID,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		Roles:       splitRoles(i.Roles),
	}
}

func joinRoles(roles []string) string {
	cleaned := make([]string, 0, len(roles))
	for _, role := range roles {
		if trimmed := normalize(role); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitRoles(raw string) []string {
	if normalize(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
