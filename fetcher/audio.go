package fetcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"ewintr.nl/tubedigest/model"
)

// AudioDownloader stores the audio track of a video in a local file and
// returns its path. The caller removes the file.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, video model.Video) (string, error)
}

// YtDlp downloads a low bitrate mono audio track with yt-dlp. Speech
// recognition does not need more and it keeps uploads small.
type YtDlp struct {
	Binary string
	Dir    string
}

func NewYtDlp(binary, dir string) *YtDlp {
	if binary == "" {
		binary = "yt-dlp"
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return &YtDlp{Binary: binary, Dir: dir}
}

func (y *YtDlp) DownloadAudio(ctx context.Context, video model.Video) (string, error) {
	if err := os.MkdirAll(y.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	base := filepath.Join(y.Dir, string(video.ID))
	path := base + ".m4a"

	cmd := exec.CommandContext(ctx, y.Binary, y.args(video, base)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("yt-dlp %s: %w: %s", video.ID, err, tail(out, 512))
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp %s: no audio file written: %w", video.ID, err)
	}

	return path, nil
}

func (y *YtDlp) args(video model.Video, base string) []string {
	return []string{
		"--quiet",
		"--no-warnings",
		"--no-playlist",
		"--force-overwrites",
		"-f", "bestaudio[abr<50]/worstaudio",
		"--extract-audio",
		"--audio-format", "m4a",
		"--postprocessor-args", "ffmpeg:-ar 8000 -ac 1 -b:a 8k",
		"-o", base + ".%(ext)s",
		video.URL(),
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}
