package executors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/meetcast/core/internal/models"
	"github.com/meetcast/core/internal/providers"
)

// fakeRepo is an in-memory Repository, mirroring internal/failure's and
// internal/pipeline's own fakeRepo test pattern.
type fakeRepo struct {
	mu sync.Mutex

	recordings map[string]*models.Recording
	targets    map[string]*models.OutputTarget

	stageInProgress []models.StageType
	stageCompleted  []models.StageType
	stageMeta       map[models.StageType]map[string]interface{}

	downloadPath     string
	processedVideo   string
	processedAudio   string
	transcriptionDir string
	mainTopics       []string
	withTimestamps   []models.TopicTimestamp

	uploadingTargets []string
	failedTargets    []string
	failedReasons    []string
	savedResult      *models.OutputTarget
}

func newFakeRepo(rec *models.Recording) *fakeRepo {
	return &fakeRepo{
		recordings: map[string]*models.Recording{rec.ID: rec},
		targets:    map[string]*models.OutputTarget{},
		stageMeta:  map[models.StageType]map[string]interface{}{},
	}
}

func (f *fakeRepo) GetByID(ctx context.Context, userID, rid string) (*models.Recording, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recordings[rid]
	if !ok {
		return nil, fmt.Errorf("not found: %s", rid)
	}
	return rec, nil
}

func (f *fakeRepo) MarkStageInProgress(ctx context.Context, rid string, stageType models.StageType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageInProgress = append(f.stageInProgress, stageType)
	return nil
}

func (f *fakeRepo) MarkStageCompleted(ctx context.Context, rid string, stageType models.StageType, stageMeta map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageCompleted = append(f.stageCompleted, stageType)
	f.stageMeta[stageType] = stageMeta
	return nil
}

func (f *fakeRepo) SetDownloadResult(ctx context.Context, rid, localVideoPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadPath = localVideoPath
	return nil
}

func (f *fakeRepo) SetTrimResult(ctx context.Context, rid, processedVideoPath, processedAudioPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processedVideo = processedVideoPath
	f.processedAudio = processedAudioPath
	return nil
}

func (f *fakeRepo) SetTranscriptionDir(ctx context.Context, rid, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptionDir = dir
	return nil
}

func (f *fakeRepo) SetTopics(ctx context.Context, rid string, mainTopics []string, withTimestamps []models.TopicTimestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mainTopics = mainTopics
	f.withTimestamps = withTimestamps
	return nil
}

func (f *fakeRepo) GetOrCreateOutputTarget(ctx context.Context, rid string, targetType models.TargetType, presetID *string) (*models.OutputTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.targets[string(targetType)]; ok {
		return t, nil
	}
	t := &models.OutputTarget{ID: "target-" + string(targetType), RecordingID: rid, TargetType: targetType, Status: models.TargetNotUploaded, PresetID: presetID}
	f.targets[string(targetType)] = t
	return t, nil
}

func (f *fakeRepo) MarkOutputUploading(ctx context.Context, rid, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadingTargets = append(f.uploadingTargets, targetID)
	return nil
}

func (f *fakeRepo) MarkOutputFailed(ctx context.Context, rid, targetID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedTargets = append(f.failedTargets, targetID)
	f.failedReasons = append(f.failedReasons, reason)
	return nil
}

func (f *fakeRepo) SaveUploadResult(ctx context.Context, rid, targetID, externalVideoID, externalVideoURL string, resultMeta map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedResult = &models.OutputTarget{ID: targetID, RecordingID: rid, ExternalVideoID: externalVideoID, ExternalVideoURL: externalVideoURL, ResultMeta: resultMeta}
	return nil
}

// fakeStore is an in-memory ArtifactStore backed by a map of byte buffers,
// so executor tests never touch the real filesystem.
type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: map[string][]byte{}}
}

func (s *fakeStore) RecordingVideo(slug int64, recordingID, ext string) string {
	return fmt.Sprintf("videos/%d/%s%s", slug, recordingID, ext)
}

func (s *fakeStore) RecordingAudio(slug int64, recordingID, ext string) string {
	return fmt.Sprintf("audio/%d/%s%s", slug, recordingID, ext)
}

func (s *fakeStore) TranscriptionDir(slug int64, recordingID string) string {
	return fmt.Sprintf("transcripts/%d/%s", slug, recordingID)
}

func (s *fakeStore) TempDir() string { return "tmp" }

type fakeWriteCloser struct {
	buf  *bytes.Buffer
	path string
	s    *fakeStore
}

func (w *fakeWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriteCloser) Close() error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.files[w.path] = w.buf.Bytes()
	return nil
}

func (s *fakeStore) Create(path string) (io.WriteCloser, error) {
	return &fakeWriteCloser{buf: &bytes.Buffer{}, path: path, s: s}, nil
}

func (s *fakeStore) Open(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, fmt.Errorf("fakeStore: no such file: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
}

// fakeDownloader is a providers.Downloader test double.
type fakeDownloader struct {
	body []byte
	err  error
}

func (d *fakeDownloader) Download(ctx context.Context, sourceURL, accessToken string, dst io.WriteCloser) error {
	if d.err != nil {
		return d.err
	}
	_, err := dst.Write(d.body)
	return err
}

// fakeTranscriber is a providers.Transcriber test double.
type fakeTranscriber struct {
	result providers.TranscriptionResult
	err    error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, req providers.TranscriptionRequest) (providers.TranscriptionResult, error) {
	return t.result, t.err
}

// fakeTopicExtractor is a providers.TopicExtractor test double.
type fakeTopicExtractor struct {
	topics []providers.Topic
	err    error
}

func (e *fakeTopicExtractor) ExtractTopics(ctx context.Context, req providers.TopicExtractionRequest) ([]providers.Topic, error) {
	return e.topics, e.err
}

// fakeSubtitleGenerator is a providers.SubtitleGenerator test double.
type fakeSubtitleGenerator struct {
	paths map[providers.SubtitleFormat]string
	err   error
}

func (g *fakeSubtitleGenerator) GenerateSubtitles(ctx context.Context, segments []providers.TranscriptSegment, outDir string, formats []providers.SubtitleFormat) (map[providers.SubtitleFormat]string, error) {
	return g.paths, g.err
}

// fakeUploader is a providers.PlatformUploader test double.
type fakeUploader struct {
	result providers.UploadResult
	err    error
}

func (u *fakeUploader) Upload(ctx context.Context, req providers.UploadRequest) (providers.UploadResult, error) {
	return u.result, u.err
}
