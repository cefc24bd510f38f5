// Package audio converts voice messages the remote does not accept.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path"
	"strings"
	"time"

	"github.com/ericfisherdev/mastobridge/internal/domain/model"
	"github.com/ericfisherdev/mastobridge/internal/domain/port/driven"
)

const defaultTimeout = 2 * time.Minute

// rejected lists encodings Mastodon refuses as uploads.
var rejected = map[string]bool{
	"aac":         true,
	"audio/aac":   true,
	"audio/x-aac": true,
}

// FFmpeg transcodes rejected audio to MP3 with an ffmpeg binary.
type FFmpeg struct {
	bin     string
	timeout time.Duration
}

var _ driven.Transcoder = (*FFmpeg)(nil)

// NewFFmpeg creates a transcoder running bin, "ffmpeg" when empty.
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, timeout: defaultTimeout}
}

// NeedsTranscode reports whether media is an AAC file.
func (f *FFmpeg) NeedsTranscode(media model.MediaFile) bool {
	return rejected[media.Ext()] || rejected[strings.ToLower(media.ContentType)]
}

// Transcode pipes media through ffmpeg and returns an MP3 named after the
// original file.
func (f *FFmpeg) Transcode(ctx context.Context, media model.MediaFile) (model.MediaFile, error) {
	if !f.NeedsTranscode(media) {
		return model.MediaFile{}, fmt.Errorf("%s: %w", media.Name, driven.ErrUnsupportedMedia)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "mp3", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(media.Data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return model.MediaFile{}, fmt.Errorf("%s not installed: %w", f.bin, driven.ErrUnsupportedMedia)
		}
		return model.MediaFile{}, fmt.Errorf("ffmpeg %s: %w: %s", media.Name, err, strings.TrimSpace(stderr.String()))
	}

	name := strings.TrimSuffix(media.Name, path.Ext(media.Name))
	if name == "" {
		name = "audio"
	}
	return model.MediaFile{
		Name:        name + ".mp3",
		ContentType: "audio/mpeg",
		Data:        stdout.Bytes(),
	}, nil
}
