package telegram

import (
	"time"
)

// ChatKind is an explicit tag for the chat entity variants instead of
// runtime type inspection of the raw api types.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
	ChatChannel ChatKind = "channel"
)

// Chat describes a dialog the bot can operate in.
type Chat struct {
	ID    int64
	Title string
	Kind  ChatKind
	// Megagroup is meaningful for ChatChannel only.
	Megagroup bool
	// ParticipantCount is best-effort; 0 when unknown.
	ParticipantCount int
}

// Conversational reports whether the chat supports regular member messages
// (private dialogs, groups and megagroups; broadcast channels do not).
func (c Chat) Conversational() bool {
	switch c.Kind {
	case ChatPrivate, ChatGroup:
		return true
	case ChatChannel:
		return c.Megagroup
	}
	return false
}

// Message represents a parsed chat message.
type Message struct {
	ID        int
	ChatID    int64
	SenderID  int64
	Text      string
	Date      time.Time
	Forwarded bool
	// ReplyToID is the id of the message this one replies to, 0 if none.
	ReplyToID int
}

// VideoAttributes carries inline-playback metadata attached to a video file.
type VideoAttributes struct {
	Duration time.Duration
	Width    int
	Height   int
}
