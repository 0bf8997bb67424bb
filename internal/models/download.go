package models

import (
	"time"

	"github.com/google/uuid"
)

// MediaKind selects audio-only (mp3) or full video (mp4) extraction.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// ValidKind reports whether k is a recognized media kind.
func ValidKind(k string) bool {
	return k == KindAudio || k == KindVideo
}

// Ext returns the file extension for a media kind ("mp3" or "mp4").
func Ext(kind string) string {
	if kind == KindAudio {
		return "mp3"
	}
	return "mp4"
}

// Download is one completed media download. Rows are written only after the
// external downloader succeeded and the file was confirmed on disk; they are
// never updated afterwards. StoragePath is the local filesystem path and must
// never reach an API response.
type Download struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	SourceURL     string    `json:"source_url"`
	FileName      string    `json:"file_name"`
	Kind          string    `json:"kind"`
	FileSize      int64     `json:"file_size"`
	DurationLabel string    `json:"duration,omitempty"`
	ThumbnailURL  string    `json:"thumbnail_url,omitempty"`
	StoragePath   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
