package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clipvault/backend/internal/models"
)

// stderr kept for diagnostics is capped to avoid unbounded buffers on
// misbehaving URLs.
const maxStderrBytes = 16 * 1024

// YtDlp shells out to the yt-dlp binary. One subprocess per Fetch call; no
// state is shared between calls.
type YtDlp struct {
	binPath string
	logger  *zap.Logger
}

// NewYtDlp creates a yt-dlp backed downloader. binPath may be a bare name
// resolved via PATH.
func NewYtDlp(binPath string, logger *zap.Logger) *YtDlp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YtDlp{binPath: binPath, logger: logger}
}

// buildArgs assembles the yt-dlp command line for one fetch.
// --newline gives one parseable progress line per update; --print-json emits
// the info JSON on stdout after the download finishes.
//
// Audio fetches use an %(ext)s output template so the pre-extraction
// container keeps its real extension; the mp3 post-processor then produces
// the final destPath. A literal .mp3 target would make yt-dlp skip
// conversion for sources it already believes are mp3.
func buildArgs(sourceURL, kind, destPath string) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"--print-json",
	}
	if kind == models.KindAudio {
		tmpl := strings.TrimSuffix(destPath, filepath.Ext(destPath)) + ".%(ext)s"
		args = append(args, "-o", tmpl, "-x", "--audio-format", "mp3", "--audio-quality", "0")
	} else {
		args = append(args, "-o", destPath, "-f", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", "--merge-output-format", "mp4")
	}
	return append(args, sourceURL)
}

// Fetch runs yt-dlp and blocks until it exits. Progress lines are forwarded to
// progress; the trailing info JSON becomes the returned Metadata. On failure
// any partial output file is removed before returning.
func (y *YtDlp) Fetch(ctx context.Context, sourceURL, kind, destPath string, progress ProgressFunc) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, y.binPath, buildArgs(sourceURL, kind, destPath)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &limitedWriter{b: &stderr, max: maxStderrBytes}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start yt-dlp: %w", err)
	}

	var meta *Metadata
	lastPercent := -1
	reader := bufio.NewReaderSize(stdout, 64*1024)
	// Info JSON lines can run to several megabytes; ReadString grows without
	// a per-line cap, and the loop drains stdout to EOF so the subprocess
	// never blocks on a full pipe.
	for {
		line, readErr := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "{") {
			if m, err := parseInfoJSON(line); err == nil {
				meta = m
			}
		} else if pct, ok := parseProgressLine(line); ok && progress != nil && pct != lastPercent {
			lastPercent = pct
			progress(pct)
		}
		if readErr != nil {
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		removePartial(destPath)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw := strings.TrimSpace(stderr.String())
		y.logger.Error("yt-dlp failed", zap.String("kind", kind), zap.String("stderr", raw))
		if diag := sanitizeDiagnostic(raw, destPath); diag != "" {
			return nil, fmt.Errorf("yt-dlp: %s: %w", diag, err)
		}
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}

	if meta == nil {
		meta = &Metadata{}
	}
	y.logger.Debug("yt-dlp finished", zap.String("kind", kind), zap.String("title", meta.Title))
	return meta, nil
}

// sanitizeDiagnostic removes the destination path and its directory from tool
// output before it is wrapped into an error. Errors travel to API responses,
// which must never reveal where files live on disk.
func sanitizeDiagnostic(diag, destPath string) string {
	diag = strings.TrimSpace(diag)
	if destPath == "" {
		return diag
	}
	diag = strings.ReplaceAll(diag, destPath, filepath.Base(destPath))
	if dir := filepath.Dir(destPath); dir != "." && dir != string(filepath.Separator) {
		diag = strings.ReplaceAll(diag, dir+string(filepath.Separator), "")
		diag = strings.ReplaceAll(diag, dir, "")
	}
	return diag
}

// removePartial deletes the destination along with any intermediate files
// sharing its stem: yt-dlp's .part temp file and, for audio fetches, the
// pre-extraction container left behind by the %(ext)s template.
func removePartial(destPath string) {
	stem := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	if matches, err := filepath.Glob(stem + ".*"); err == nil {
		for _, m := range matches {
			_ = os.Remove(m)
		}
	}
	_ = os.Remove(destPath)
}

// parseProgressLine extracts the whole percent from a "--newline" progress
// line, e.g. "[download]  42.1% of 10.00MiB at 1.00MiB/s ETA 00:06".
func parseProgressLine(line string) (int, bool) {
	if !strings.HasPrefix(line, "[download]") {
		return 0, false
	}
	fields := strings.Fields(line)
	for _, f := range fields[1:] {
		if !strings.HasSuffix(f, "%") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			return 0, false
		}
		if v < 0 {
			v = 0
		}
		if v > 100 {
			v = 100
		}
		return int(v), true
	}
	return 0, false
}

// infoJSON is the subset of yt-dlp's info dict we keep.
type infoJSON struct {
	Title          string  `json:"title"`
	Duration       float64 `json:"duration"`
	DurationString string  `json:"duration_string"`
	Thumbnail      string  `json:"thumbnail"`
}

func parseInfoJSON(line string) (*Metadata, error) {
	var info infoJSON
	if err := json.Unmarshal([]byte(line), &info); err != nil {
		return nil, err
	}
	label := info.DurationString
	if label == "" && info.Duration > 0 {
		label = formatDuration(int(info.Duration))
	}
	return &Metadata{
		Title:         info.Title,
		DurationLabel: label,
		ThumbnailURL:  info.Thumbnail,
	}, nil
}

// formatDuration renders seconds as m:ss or h:mm:ss, matching yt-dlp's own
// duration_string format.
func formatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// limitedWriter keeps at most max bytes, dropping the rest.
type limitedWriter struct {
	b   *strings.Builder
	max int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if remaining := w.max - w.b.Len(); remaining > 0 {
		if len(p) > remaining {
			w.b.Write(p[:remaining])
		} else {
			w.b.Write(p)
		}
	}
	return len(p), nil
}
