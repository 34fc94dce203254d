package ffmpegutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSilenceIntervalsExtractsStartsAndEnds(t *testing.T) {
	output := `
[silencedetect @ 0x1] silence_start: 0
[silencedetect @ 0x1] silence_end: 1.5 | silence_duration: 1.5
[silencedetect @ 0x1] silence_start: 58.2
`
	starts, ends := parseSilenceIntervals(output)
	assert.Equal(t, []float64{0, 58.2}, starts)
	assert.Equal(t, []float64{1.5}, ends)
}

func TestParseSilenceIntervalsEmptyOutput(t *testing.T) {
	starts, ends := parseSilenceIntervals("no silence detected here")
	assert.Empty(t, starts)
	assert.Empty(t, ends)
}

func TestSpeechBoundsNoSilenceAtAll(t *testing.T) {
	first, last := speechBoundsFromIntervals(nil, nil, 60)
	assert.Equal(t, 0.0, first)
	assert.Equal(t, 60.0, last)
}

func TestSpeechBoundsLeadingSilenceOnly(t *testing.T) {
	first, last := speechBoundsFromIntervals([]float64{0}, []float64{2.5}, 60)
	assert.Equal(t, 2.5, first)
	assert.Equal(t, 60.0, last)
}

func TestSpeechBoundsTrailingSilenceOnly(t *testing.T) {
	first, last := speechBoundsFromIntervals([]float64{55}, []float64{}, 60)
	assert.Equal(t, 0.0, first)
	assert.Equal(t, 55.0, last)
}

func TestSpeechBoundsLeadingAndTrailingSilence(t *testing.T) {
	first, last := speechBoundsFromIntervals([]float64{0, 55}, []float64{2.5}, 60)
	assert.Equal(t, 2.5, first)
	assert.Equal(t, 55.0, last)
}

func TestSpeechBoundsInteriorSilenceDoesNotTrimEnds(t *testing.T) {
	first, last := speechBoundsFromIntervals([]float64{20}, []float64{22}, 60)
	assert.Equal(t, 0.0, first)
	assert.Equal(t, 60.0, last)
}
