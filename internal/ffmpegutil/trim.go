package ffmpegutil

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/meetcast/core/internal/providers"
)

// TrimParams mirrors the config keys spec.md §4.9.2 reads: silence
// threshold in dBFS, minimum silence duration to count, and padding
// applied on either side of the detected speech bounds.
type TrimParams struct {
	SilenceThresholdDBFS float64
	MinSilenceDurationSec float64
	PaddingBeforeSec      float64
	PaddingAfterSec       float64
}

// TrimResult reports whether the source was re-encoded and the bounds
// used, for stage_meta persistence.
type TrimResult struct {
	ReEncoded bool
	StartSec  float64
	EndSec    float64
}

var silenceStartRE = regexp.MustCompile(`silence_start:\s*(-?[\d.]+)`)
var silenceEndRE = regexp.MustCompile(`silence_end:\s*(-?[\d.]+)`)

// Trim implements the two-phase algorithm from spec.md §4.9.2: extract
// audio, detect speech bounds from the (cheaper) audio-only analysis, and
// only re-encode when there's something to cut. tempAudioPath is removed
// on every exit path.
func Trim(ctx context.Context, rawVideoPath, processedVideoPath, processedAudioPath, tempAudioPath string, params TrimParams) (TrimResult, error) {
	defer os.Remove(tempAudioPath)

	if err := extractAudio(ctx, rawVideoPath, tempAudioPath); err != nil {
		return TrimResult{}, fmt.Errorf("ffmpegutil: extracting audio: %w", err)
	}

	probe, err := (providers.Probe{}).ProbeFile(ctx, tempAudioPath)
	if err != nil {
		return TrimResult{}, fmt.Errorf("ffmpegutil: probing extracted audio: %w", err)
	}

	firstNonSilent, lastNonSilent, err := detectSpeechBounds(ctx, tempAudioPath, probe.DurationSec, params)
	if err != nil {
		return TrimResult{}, fmt.Errorf("ffmpegutil: detecting silence: %w", err)
	}

	if firstNonSilent <= 0 && lastNonSilent >= probe.DurationSec {
		// step 3: no re-encode, but the full extracted audio still becomes
		// the final processed audio rather than being discarded.
		if err := copyFile(tempAudioPath, processedAudioPath); err != nil {
			return TrimResult{}, fmt.Errorf("ffmpegutil: promoting full audio to processed path: %w", err)
		}
		return TrimResult{ReEncoded: false, StartSec: 0, EndSec: probe.DurationSec}, nil
	}

	start := firstNonSilent - params.PaddingBeforeSec
	if start < 0 {
		start = 0
	}
	end := lastNonSilent + params.PaddingAfterSec
	if end > probe.DurationSec {
		end = probe.DurationSec
	}

	if err := trimStreamCopy(ctx, rawVideoPath, processedVideoPath, start, end, true); err != nil {
		return TrimResult{}, fmt.Errorf("ffmpegutil: trimming video: %w", err)
	}
	if err := trimStreamCopy(ctx, tempAudioPath, processedAudioPath, start, end, false); err != nil {
		return TrimResult{}, fmt.Errorf("ffmpegutil: trimming audio: %w", err)
	}

	return TrimResult{ReEncoded: true, StartSec: start, EndSec: end}, nil
}

func extractAudio(ctx context.Context, videoPath, outAudioPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", videoPath, "-vn", "-acodec", "pcm_s16le", outAudioPath)
	return Run(cmd)
}

// detectSpeechBounds runs ffmpeg's silencedetect filter over the audio and
// derives the first and last non-silent instants from the reported
// silence intervals: if silence starts at 0, speech begins where that
// silence ends; if the final reported silence interval runs to the end of
// the file, speech ends where that interval begins.
func detectSpeechBounds(ctx context.Context, audioPath string, duration float64, params TrimParams) (first, last float64, err error) {
	filter := fmt.Sprintf("silencedetect=noise=%gdB:d=%g", params.SilenceThresholdDBFS, params.MinSilenceDurationSec)
	cmd := exec.CommandContext(ctx, "ffmpeg", "-i", audioPath, "-af", filter, "-f", "null", "-")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if startErr := cmd.Run(); startErr != nil {
		if _, ok := startErr.(*exec.ExitError); !ok {
			return 0, 0, startErr
		}
	}

	starts, ends := parseSilenceIntervals(stderr.String())
	first, last = speechBoundsFromIntervals(starts, ends, duration)
	return first, last, nil
}

// speechBoundsFromIntervals derives the first/last non-silent instants
// from the silence intervals ffmpeg reported: if silence starts at 0,
// speech begins where that silence ends; if the final silence interval
// runs to (approximately) the end of the file, speech ends where that
// interval begins.
func speechBoundsFromIntervals(starts, ends []float64, duration float64) (first, last float64) {
	first, last = 0, duration

	if len(starts) > 0 && starts[0] <= 0.01 {
		if len(ends) > 0 {
			first = ends[0]
		}
	}
	if n := len(starts); n > 0 {
		lastStart := starts[n-1]
		lastEnd := duration
		if len(ends) >= n {
			lastEnd = ends[n-1]
		}
		if lastEnd >= duration-0.05 {
			last = lastStart
		}
	}
	return first, last
}

func parseSilenceIntervals(output string) (starts, ends []float64) {
	scanner := bufio.NewScanner(bytes.NewBufferString(output))
	for scanner.Scan() {
		line := scanner.Text()
		if m := silenceStartRE.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				starts = append(starts, v)
			}
		}
		if m := silenceEndRE.FindStringSubmatch(line); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				ends = append(ends, v)
			}
		}
	}
	return starts, ends
}

func trimStreamCopy(ctx context.Context, srcPath, dstPath string, start, end float64, isVideo bool) error {
	args := []string{"-y", "-ss", fmt.Sprintf("%g", start), "-to", fmt.Sprintf("%g", end), "-i", srcPath, "-c", "copy"}
	if !isVideo {
		args = append(args, "-vn")
	}
	args = append(args, dstPath)
	return Run(exec.CommandContext(ctx, "ffmpeg", args...))
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}
