package downloads

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/clipvault/backend/internal/models"
)

const maxAttachmentBase = 120

// deriveFileName builds a destination filename unique per request. The title
// is not known before the download runs, so the base is a fixed placeholder;
// the nanosecond token keeps concurrent submissions for the same URL from
// colliding.
func deriveFileName(kind string) string {
	return fmt.Sprintf("media-%d.%s", time.Now().UnixNano(), models.Ext(kind))
}

// sanitizeTitle turns a reported media title into a safe attachment base name.
// Path separators and control characters are dropped, whitespace runs collapse
// to single spaces. Returns "media" when nothing usable remains.
func sanitizeTitle(title string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			// strip characters invalid in common filesystems
		case unicode.IsControl(r):
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			b.WriteRune(r)
			lastSpace = false
		}
		if b.Len() >= maxAttachmentBase {
			break
		}
	}
	out := strings.Trim(b.String(), " .")
	if out == "" {
		return "media"
	}
	return out
}
