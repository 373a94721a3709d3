package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxServerNameLen = 36

var ErrServerNameEmpty = errors.New("server name empty")

type ServerID string

// Visibility controls who may discover and enter a server or channel.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityInvisible Visibility = "invisible"
	VisibilityReadonly  Visibility = "readonly"
	VisibilityMember    Visibility = "member"
	VisibilityPrivate   Visibility = "private"
)

type Server struct {
	ID         ServerID   `json:"id"`
	Name       string     `json:"name"`
	OwnerID    UserID     `json:"ownerId"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func NewServer(name string, owner UserID) (*Server, error) {
	if len(name) == 0 {
		return nil, ErrServerNameEmpty
	}
	if len(name) > MaxServerNameLen {
		name = name[:MaxServerNameLen]
	}
	return &Server{
		ID:         ServerID(uuid.NewString()),
		Name:       name,
		OwnerID:    owner,
		Visibility: VisibilityPublic,
		CreatedAt:  time.Now(),
	}, nil
}
