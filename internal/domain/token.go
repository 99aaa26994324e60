package domain

import "time"

// Token is an issued access/refresh pair. Records are never updated in place:
// rotation inserts a new record and deletes the old one.
type Token struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// ValidAt reports whether the token is still usable at now.
func (t *Token) ValidAt(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}
