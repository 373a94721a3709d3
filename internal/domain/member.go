package domain

import "time"

// Permission tiers for a server membership. Guest is never persisted;
// a created membership starts at the lowest non-guest tier.
const (
	PermGuest     = 0
	PermMember    = 1
	PermRegular   = 2
	PermTrusted   = 3
	PermModerator = 4
	PermOwner     = 5
)

// Member represents a user's participation meta for a server.
// No transport or lifecycle logic here.
type Member struct {
	UserID          UserID    `json:"userId"`
	ServerID        ServerID  `json:"serverId"`
	PermissionLevel int       `json:"permissionLevel"`
	Contribution    int64     `json:"contribution"`
	IsBlocked       bool      `json:"isBlocked"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewMember avoids raw literals in callers and keeps defaults obvious.
func NewMember(userID UserID, serverID ServerID) *Member {
	return &Member{
		UserID:          userID,
		ServerID:        serverID,
		PermissionLevel: PermMember,
		CreatedAt:       time.Now(),
	}
}
