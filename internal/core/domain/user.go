package domain

import (
	"strings"
	"time"
)

type UserID string

// UserProfile is the subset of the account record the watch party needs.
type UserProfile struct {
	ID          UserID
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// Name picks what other members see: the display name, else the email's
// local part, else a placeholder.
func (p *UserProfile) Name() string {
	if p == nil {
		return "Anonymous"
	}
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	return "Anonymous"
}

func (p *UserProfile) AsMember() Member {
	return Member{
		UserID:      p.ID,
		DisplayName: p.Name(),
		AvatarRef:   p.AvatarURL,
	}
}
