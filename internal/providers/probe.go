package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"
)

// Probe wraps ffprobe the way the teacher's video.Probe does, adapted to
// answer the two questions this module actually needs: a file's duration
// (for blank-record detection, spec.md §4.10) and whether it carries an
// audio track (trim needs to know before extracting one, spec.md §4.9.2).
type Probe struct{}

type ProbeResult struct {
	DurationSec float64
	HasAudio    bool
	HasVideo    bool
}

func (p Probe) ProbeFile(ctx context.Context, path string) (ProbeResult, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(b, 3)); err != nil {
		return ProbeResult{}, fmt.Errorf("probing %s: %w", path, err)
	}
	return parseProbeData(data)
}

func parseProbeData(data *ffprobe.ProbeData) (ProbeResult, error) {
	if data.Format == nil {
		return ProbeResult{}, errors.New("providers: probe returned no format information")
	}
	return ProbeResult{
		DurationSec: data.Format.DurationSeconds,
		HasAudio:    data.FirstAudioStream() != nil,
		HasVideo:    data.FirstVideoStream() != nil,
	}, nil
}
