// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

// Status is the user's presence status as shown to other members.
type Status string

const (
	StatusOnline Status = "online"
	StatusIdle   Status = "idle"
	StatusDND    Status = "dnd"
	StatusGone   Status = "gn"
)

type User struct {
	ID               UserID    `json:"id"`
	Username         string    `json:"username"`
	Avatar           string    `json:"avatar,omitempty"`
	Status           Status    `json:"status"`
	CurrentServerID  ServerID  `json:"currentServerId,omitempty"`
	CurrentChannelID ChannelID `json:"currentChannelId,omitempty"`
	LastActiveAt     time.Time `json:"lastActiveAt"`
	PasswordHash     string    `json:"-"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username string) (*User, error) {
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{
		ID:           UserID(uuid.NewString()),
		Username:     username,
		Status:       StatusGone,
		LastActiveAt: time.Now(),
	}, nil
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
