package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorePaths(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "user_000042"), s.UserRoot(42))
	assert.Equal(t, filepath.Join(root, "user_000042", "video", "rec1.mp4"), s.RecordingVideo(42, "rec1", ".mp4"))
	assert.Equal(t, filepath.Join(root, "user_000042", "processed_audio", "rec1.wav"), s.RecordingAudio(42, "rec1", ".wav"))
	assert.Equal(t, filepath.Join(root, "user_000042", "transcriptions", "rec1"), s.TranscriptionDir(42, "rec1"))
	assert.Equal(t, filepath.Join(root, "temp"), s.TempDir())
}

func TestValidateUnderRootRejectsEscape(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	assert.NoError(t, s.ValidateUnderRoot(1, s.RecordingVideo(1, "rec1", ".mp4")))
	assert.Error(t, s.ValidateUnderRoot(1, s.RecordingVideo(2, "rec1", ".mp4")))
	assert.Error(t, s.ValidateUnderRoot(1, filepath.Join(root, "..", "etc", "passwd")))
}

func TestCalcUserStorageBytes(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	videoDir := filepath.Join(s.UserRoot(7), "video")
	require.NoError(t, os.MkdirAll(videoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(videoDir, "a.mp4"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(videoDir, "b.mp4"), make([]byte, 50), 0o644))

	total, err := s.CalcUserStorageBytes(7)
	require.NoError(t, err)
	assert.EqualValues(t, 150, total)
}

func TestCalcUserStorageBytesMissingUserIsZero(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	total, err := s.CalcUserStorageBytes(999)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
}

func TestS3RootResolvesCanonicalKeys(t *testing.T) {
	s, err := New("s3://my-bucket/prefix")
	require.NoError(t, err)
	assert.Equal(t, "s3://my-bucket/prefix/user_000042", s.UserRoot(42))
	assert.Equal(t, "s3://my-bucket/prefix/user_000042/video/rec1.mp4", s.RecordingVideo(42, "rec1", ".mp4"))
}
