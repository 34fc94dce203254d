package storagepg

import (
	"context"
	"fmt"
)

// GetUserSlug resolves the stable numeric ordinal internal/artifacts uses
// to root a tenant's filesystem paths (models.User.Slug), so renaming a
// user never invalidates already-written artifact paths.
func (r *Repository) GetUserSlug(ctx context.Context, userID string) (int64, error) {
	var slug int64
	err := r.db.QueryRowContext(ctx, `select slug from users where id=$1`, userID).Scan(&slug)
	if err != nil {
		return 0, fmt.Errorf("storagepg: reading user slug for %s: %w", userID, err)
	}
	return slug, nil
}
