// Package artifacts resolves (user slug, recording id) to canonical
// artifact paths (spec.md §4.1). It never performs pipeline logic; callers
// (internal/executors) are expected to only read/write through the paths
// this package hands back, mirroring the teacher's pattern of routing every
// transfer through clients.InputCopy / clients.NewObjectStoreClient rather
// than letting callers build their own paths.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const (
	dirVideo          = "video"
	dirProcessedAudio = "processed_audio"
	dirTranscriptions = "transcriptions"
	dirThumbnails     = "thumbnails"
	dirTemp           = "temp"
)

// Store resolves canonical paths under a root that is either a local
// filesystem directory or an s3://bucket/prefix URL (spec.md §4.1 +
// SPEC_FULL.md §4.1). Access control: callers must only receive paths
// through this component; ValidateUnderRoot is the boundary check for any
// path that arrived from outside it.
type Store struct {
	root    string
	isS3    bool
	bucket  string
	prefix  string
	s3      *s3.S3
	uploader *s3manager.Uploader
}

// New builds a Store rooted at root. An "s3://bucket/prefix" root switches
// the store into S3 mode; anything else is treated as a local filesystem
// root (created if missing).
func New(root string) (*Store, error) {
	if strings.HasPrefix(root, "s3://") {
		return newS3Store(root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: creating root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func newS3Store(root string) (*Store, error) {
	rest := strings.TrimPrefix(root, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("artifacts: creating aws session: %w", err)
	}
	return &Store{
		root:     root,
		isS3:     true,
		bucket:   bucket,
		prefix:   prefix,
		s3:       s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func userDir(slug int64) string {
	return fmt.Sprintf("user_%06d", slug)
}

// UserRoot returns the root directory/prefix for one user.
func (s *Store) UserRoot(slug int64) string {
	return s.join(userDir(slug))
}

// RecordingVideo returns the canonical path for a recording's source video.
func (s *Store) RecordingVideo(slug int64, recordingID, ext string) string {
	return s.join(userDir(slug), dirVideo, recordingID+ext)
}

// RecordingAudio returns the canonical path for a recording's processed audio.
func (s *Store) RecordingAudio(slug int64, recordingID, ext string) string {
	return s.join(userDir(slug), dirProcessedAudio, recordingID+ext)
}

// TranscriptionDir returns the per-recording transcription directory.
func (s *Store) TranscriptionDir(slug int64, recordingID string) string {
	return s.join(userDir(slug), dirTranscriptions, recordingID)
}

// UserThumbnailsDir returns the per-user thumbnails directory.
func (s *Store) UserThumbnailsDir(slug int64) string {
	return s.join(userDir(slug), dirThumbnails)
}

// TempDir returns the shared scratch directory, not scoped to any user.
func (s *Store) TempDir() string {
	return s.join(dirTemp)
}

func (s *Store) join(elems ...string) string {
	if s.isS3 {
		parts := append([]string{}, elems...)
		if s.prefix != "" {
			parts = append([]string{s.prefix}, parts...)
		}
		return "s3://" + s.bucket + "/" + strings.Join(parts, "/")
	}
	return filepath.Join(append([]string{s.root}, elems...)...)
}

// ValidateUnderRoot rejects any path that was not obtained through this
// Store's own builders, enforcing spec.md §4.1's access-control rule: any
// path passed in from outside must fall under the caller's own user root.
func (s *Store) ValidateUnderRoot(slug int64, path string) error {
	root := s.UserRoot(slug)
	if s.isS3 {
		if !strings.HasPrefix(path, root) {
			return fmt.Errorf("artifacts: path %s is outside user root %s", path, root)
		}
		return nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) && absPath != absRoot {
		return fmt.Errorf("artifacts: path %s is outside user root %s", path, root)
	}
	return nil
}

// Create opens path for writing, creating parent directories as needed on
// the local backend or streaming a multipart upload on the S3 backend.
// Executors write media artifacts through this rather than touching
// os.Create directly, so they work unmodified against either backend.
func (s *Store) Create(path string) (io.WriteCloser, error) {
	if s.isS3 {
		return s.createS3(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: creating parent dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: creating %s: %w", path, err)
	}
	return f, nil
}

func (s *Store) createS3(path string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	key := s.s3Key(path)
	done := make(chan error, 1)
	go func() {
		_, err := s.uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		done <- err
	}()
	return &s3PipeWriter{pw: pw, done: done}, nil
}

type s3PipeWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *s3PipeWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *s3PipeWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.done
}

// Open opens path for reading from either backend.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	if s.isS3 {
		out, err := s.s3.GetObject(&s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.s3Key(path))})
		if err != nil {
			return nil, fmt.Errorf("artifacts: opening %s: %w", path, err)
		}
		return out.Body, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifacts: opening %s: %w", path, err)
	}
	return f, nil
}

// IsRemote reports whether this store is S3-backed; callers that must
// shell out to a local CLI (ffmpeg) stage files locally first when true.
func (s *Store) IsRemote() bool { return s.isS3 }

// Delete removes path from either backend. A missing local file is not an
// error; retention sweeps call this for paths that may already be gone.
func (s *Store) Delete(path string) error {
	if path == "" {
		return nil
	}
	if s.isS3 {
		if _, err := s.s3.DeleteObject(&s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.s3Key(path))}); err != nil {
			return fmt.Errorf("artifacts: deleting %s: %w", path, err)
		}
		return nil
	}
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifacts: deleting %s: %w", path, err)
	}
	return nil
}

// CalcUserStorageBytes sums file sizes under a user's root. For the S3
// backend this uses ListObjectsV2 rather than a filesystem walk.
func (s *Store) CalcUserStorageBytes(slug int64) (int64, error) {
	if s.isS3 {
		return s.calcS3StorageBytes(slug)
	}
	var total int64
	root := s.UserRoot(slug)
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("artifacts: walking user root: %w", err)
	}
	return total, nil
}

func (s *Store) calcS3StorageBytes(slug int64) (int64, error) {
	key := s.s3Key(s.UserRoot(slug))
	var total int64
	err := s.s3.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			total += aws.Int64Value(obj.Size)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("artifacts: listing s3 objects under %s: %w", key, err)
	}
	return total, nil
}

func (s *Store) s3Key(canonicalPath string) string {
	return strings.TrimPrefix(strings.TrimPrefix(canonicalPath, "s3://"+s.bucket), "/")
}

// CopyTemplatesToUser copies the named template files from srcDir into the
// user's thumbnails directory, grounded on the teacher's file_copy.go
// local-copy helper (clients.CopyFile's non-HTTP branch).
func (s *Store) CopyTemplatesToUser(slug int64, srcDir string, names []string) error {
	if s.isS3 {
		return s.copyTemplatesToUserS3(slug, srcDir, names)
	}
	dst := s.UserThumbnailsDir(slug)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("artifacts: creating thumbnails dir: %w", err)
	}
	for _, name := range names {
		in, err := os.Open(filepath.Join(srcDir, name))
		if err != nil {
			return fmt.Errorf("artifacts: opening template %s: %w", name, err)
		}
		out, err := os.Create(filepath.Join(dst, name))
		if err != nil {
			in.Close()
			return fmt.Errorf("artifacts: creating %s: %w", name, err)
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("artifacts: copying template %s: %w", name, copyErr)
		}
	}
	return nil
}

func (s *Store) copyTemplatesToUserS3(slug int64, srcDir string, names []string) error {
	for _, name := range names {
		f, err := os.Open(filepath.Join(srcDir, name))
		if err != nil {
			return fmt.Errorf("artifacts: opening template %s: %w", name, err)
		}
		key := s.s3Key(s.join(userDir(slug), dirThumbnails, name))
		_, err = s.uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("artifacts: uploading template %s: %w", name, err)
		}
	}
	return nil
}
