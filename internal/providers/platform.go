package providers

import (
	"context"
	"fmt"
)

// Registry maps a platform target type to its PlatformUploader, letting
// the upload executor stay ignorant of which concrete SDK backs any given
// platform (spec.md §4.9.6). Swapping or adding a platform never touches
// the executor.
type Registry struct {
	uploaders map[string]PlatformUploader
}

func NewRegistry() *Registry {
	return &Registry{uploaders: map[string]PlatformUploader{}}
}

func (r *Registry) Register(platform string, u PlatformUploader) {
	r.uploaders[platform] = u
}

func (r *Registry) Get(platform string) (PlatformUploader, error) {
	u, ok := r.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("providers: no uploader registered for platform %q", platform)
	}
	return u, nil
}

// NopUploader rejects every upload with FailureResourceMissing; it exists
// only as a Registry placeholder for platforms not yet wired to a real
// SDK, so a misconfigured preset fails loudly instead of silently
// succeeding.
type NopUploader struct{}

func (NopUploader) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	return UploadResult{}, &UploadError{Tag: FailureResourceMissing, Err: fmt.Errorf("providers: no uploader configured")}
}
