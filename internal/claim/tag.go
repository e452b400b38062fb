// Package claim implements the distributed link-ownership protocol.
//
// Several bot instances may watch the same chats. Before acting on a link,
// an instance stamps its output with a per-session ClaimTag and scans recent
// messages for tags of other instances. The protocol is best-effort by
// design: a randomized delay plus polling reduces collision probability but
// does not guarantee exclusivity.
package claim

import (
	"regexp"

	"github.com/google/uuid"
)

// Tag is the per-session marker stamped into every bot-authored message.
// Exactly one Tag exists per running instance-session; a fresh one is
// generated on every successful authentication.
type Tag string

// NewTag generates a new session tag.
func NewTag() Tag {
	return Tag(uuid.NewString())
}

// signatureRe matches the trailing stamp in bot-authored messages.
var signatureRe = regexp.MustCompile(`\[BotSignature:([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\]`)

// Stamp appends the tag marker to text.
func (t Tag) Stamp(text string) string {
	return text + "\n[BotSignature:" + string(t) + "]"
}

// ExtractTag returns the claim tag embedded in text, if any.
func ExtractTag(text string) (Tag, bool) {
	m := signatureRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return Tag(m[1]), true
}

// HasForeignTag reports whether text carries a claim tag belonging to a
// different instance.
func HasForeignTag(text string, own Tag) bool {
	tag, ok := ExtractTag(text)
	return ok && tag != own
}
