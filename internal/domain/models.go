// Package domain defines the core models shared by the relay: the persisted
// chat message handed to the persistence collaborator, presence statuses, and
// message origin tags. Message is mapped with GORM; the other types are plain
// values used on the wire and in memory.
package domain

import (
	"strings"
	"time"
)

// Source tags where a message-class event originated.
type Source string

const (
	// SourceServer marks events injected by the web tier through the bridge.
	SourceServer Source = "server-originated"
	// SourceClient marks events authored over a live connection.
	SourceClient Source = "client-originated"
)

// Valid reports whether s belongs to the closed set of sources.
func (s Source) Valid() bool {
	return s == SourceServer || s == SourceClient
}

// Status is a user's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
	StatusDND     Status = "dnd"
)

// ParseStatus normalizes a client-supplied status string. The second return
// value is false for anything outside online|away|offline|dnd.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusOffline, StatusDND:
		return st, true
	}
	return "", false
}

// Message is a chat message persisted on behalf of the relay. Exactly one of
// ChannelID or RoomID is set: channel messages carry ChannelID, direct
// messages carry RoomID.
//
// Fields:
//   - ID: UUID primary key (char(36)), returned to clients as messageId.
//   - ChannelID / RoomID: the conversation target (indexed with CreatedAt).
//   - AuthorID / Username: the authenticated sender at the time of sending.
//   - Content: message body after normalization.
//   - MessageType: client-declared kind ("text", "image", ...).
//   - ClientTimestamp: the client-supplied timestamp used for dedup.
//   - Source: client-originated or server-originated.
type Message struct {
	ID              string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ChannelID       string    `json:"channelId,omitempty" gorm:"type:varchar(64);not null;default:'';index:idx_channel_msgs,priority:1"`
	RoomID          string    `json:"roomId,omitempty"    gorm:"type:varchar(64);not null;default:'';index:idx_room_msgs,priority:1"`
	AuthorID        string    `json:"userId"          gorm:"type:varchar(64);not null;index"`
	Username        string    `json:"username"        gorm:"type:varchar(255);not null;default:''"`
	Content         string    `json:"content"         gorm:"type:text;not null"`
	MessageType     string    `json:"messageType"     gorm:"type:varchar(32);not null;default:'text'"`
	ClientTimestamp string    `json:"timestamp"       gorm:"type:varchar(64);not null;default:''"`
	Source          Source    `json:"source"          gorm:"type:varchar(32);not null;check:chk_messages_source,source IN ('server-originated','client-originated')"`
	CreatedAt       time.Time `json:"createdAt"       gorm:"index:idx_channel_msgs,priority:2;index:idx_room_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
