package providers

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSubtitleGenerator renders cached transcript segments into subtitle
// files on disk. Unlike Transcriber/TopicExtractor, subtitle rendering is
// pure formatting over data already produced by the transcription step, so
// it needs no external backend.
type LocalSubtitleGenerator struct{}

func (LocalSubtitleGenerator) GenerateSubtitles(ctx context.Context, segments []TranscriptSegment, outDir string, formats []SubtitleFormat) (map[SubtitleFormat]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("providers: creating subtitle output dir: %w", err)
	}
	out := make(map[SubtitleFormat]string, len(formats))
	for _, format := range formats {
		var body []byte
		switch format {
		case SubtitleFileFormat:
			body = renderSRT(segments)
		case WebSubtitleFormat:
			body = renderVTT(segments)
		default:
			return nil, fmt.Errorf("providers: unsupported subtitle format %q", format)
		}
		path := filepath.Join(outDir, "subtitles."+string(format))
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return nil, fmt.Errorf("providers: writing %s: %w", path, err)
		}
		out[format] = path
	}
	return out, nil
}

func renderSRT(segments []TranscriptSegment) []byte {
	var buf bytes.Buffer
	for i, s := range segments {
		fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(s.StartSec), srtTimestamp(s.EndSec), s.Text)
	}
	return buf.Bytes()
}

func renderVTT(segments []TranscriptSegment) []byte {
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		fmt.Fprintf(&buf, "%s --> %s\n%s\n\n", vttTimestamp(s.StartSec), vttTimestamp(s.EndSec), s.Text)
	}
	return buf.Bytes()
}

func srtTimestamp(sec float64) string {
	return formatTimestamp(sec, ",")
}

func vttTimestamp(sec float64) string {
	return formatTimestamp(sec, ".")
}

func formatTimestamp(sec float64, msSep string) string {
	total := int64(sec * 1000)
	ms := total % 1000
	total /= 1000
	s := total % 60
	total /= 60
	m := total % 60
	total /= 60
	h := total
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, msSep, ms)
}
