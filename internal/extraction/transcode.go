package extraction

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Codec describes an output encoding for clips.
type Codec struct {
	Name        string
	Encoder     string // ffmpeg -c:a value
	Ext         string
	ContentType string
}

var codecs = map[string]Codec{
	"mp3":  {Name: "mp3", Encoder: "libmp3lame", Ext: ".mp3", ContentType: "audio/mpeg"},
	"wav":  {Name: "wav", Encoder: "pcm_s16le", Ext: ".wav", ContentType: "audio/wav"},
	"opus": {Name: "opus", Encoder: "libopus", Ext: ".ogg", ContentType: "audio/ogg"},
	"aac":  {Name: "aac", Encoder: "aac", Ext: ".m4a", ContentType: "audio/mp4"},
	"flac": {Name: "flac", Encoder: "flac", Ext: ".flac", ContentType: "audio/flac"},
}

// LookupCodec returns the codec registered under name.
func LookupCodec(name string) (Codec, error) {
	c, ok := codecs[strings.ToLower(name)]
	if !ok {
		return Codec{}, fmt.Errorf("extraction: unsupported codec %q", name)
	}
	return c, nil
}

// ContentTypeForExt maps a clip extension back to its content type.
func ContentTypeForExt(ext string) string {
	for _, c := range codecs {
		if c.Ext == ext {
			return c.ContentType
		}
	}
	return "application/octet-stream"
}

type TranscodeRequest struct {
	Input              string
	Output             string
	StartOffsetSeconds float64
	DurationSeconds    float64
	Codec              Codec
}

// Transcoder slices and re-encodes one clip. It blocks until the output is
// complete or the call fails.
type Transcoder interface {
	Transcode(ctx context.Context, req TranscodeRequest) error
}

// FFmpeg runs the ffmpeg binary once per clip, bounded by Timeout.
type FFmpeg struct {
	Path    string
	Timeout time.Duration
}

func (f FFmpeg) args(req TranscodeRequest) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(req.StartOffsetSeconds, 'f', 3, 64),
		"-i", req.Input,
		"-t", strconv.FormatFloat(req.DurationSeconds, 'f', 3, 64),
		"-vn", "-c:a", req.Codec.Encoder,
		req.Output,
	}
}

func (f FFmpeg) Transcode(ctx context.Context, req TranscodeRequest) error {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, path, f.args(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(req.Output)
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
