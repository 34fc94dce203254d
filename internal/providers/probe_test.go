package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"
)

func TestParseProbeDataRejectsMissingFormat(t *testing.T) {
	_, err := parseProbeData(&ffprobe.ProbeData{})
	require.ErrorContains(t, err, "no format information")
}

func TestParseProbeDataReportsAudioAndVideoPresence(t *testing.T) {
	result, err := parseProbeData(&ffprobe.ProbeData{
		Format: &ffprobe.Format{DurationSeconds: 42.5},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", CodecName: "h264"},
			{CodecType: "audio", CodecName: "aac"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 42.5, result.DurationSec)
	assert.True(t, result.HasVideo)
	assert.True(t, result.HasAudio)
}

func TestParseProbeDataAudioOnly(t *testing.T) {
	result, err := parseProbeData(&ffprobe.ProbeData{
		Format:  &ffprobe.Format{DurationSeconds: 10},
		Streams: []*ffprobe.Stream{{CodecType: "audio", CodecName: "aac"}},
	})
	require.NoError(t, err)
	assert.False(t, result.HasVideo)
	assert.True(t, result.HasAudio)
}
