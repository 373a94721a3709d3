package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrChannelNameEmpty = errors.New("channel name empty")

type ChannelID string

type Channel struct {
	ID         ChannelID  `json:"id"`
	ServerID   ServerID   `json:"serverId"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func NewChannel(serverID ServerID, name string) (*Channel, error) {
	if len(name) == 0 {
		return nil, ErrChannelNameEmpty
	}
	if len(name) > MaxServerNameLen {
		name = name[:MaxServerNameLen]
	}
	return &Channel{
		ID:         ChannelID(uuid.NewString()),
		ServerID:   serverID,
		Name:       name,
		Visibility: VisibilityPublic,
		CreatedAt:  time.Now(),
	}, nil
}
