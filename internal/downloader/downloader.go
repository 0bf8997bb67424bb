// Package downloader wraps the external media download tool (yt-dlp) behind a
// small capability interface so the pipeline can be tested without spawning
// subprocesses.
package downloader

import "context"

// Metadata is what the external tool reports about a fetched media item.
// Every field is best-effort; absence never fails a download.
type Metadata struct {
	Title         string
	DurationLabel string // human duration, e.g. "3:12"
	ThumbnailURL  string
}

// ProgressFunc receives download progress in whole percent [0,100].
// Implementations must tolerate out-of-order and repeated values.
type ProgressFunc func(percent int)

// Downloader fetches a media URL to a local destination path. Fetch blocks
// until the external tool finishes or ctx is done; it is the pipeline's only
// suspension point. On any error the implementation must leave no partial
// destination file behind.
type Downloader interface {
	Fetch(ctx context.Context, sourceURL, kind, destPath string, progress ProgressFunc) (*Metadata, error)
}
