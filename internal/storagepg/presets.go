package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
)

// GetOutputPresetByID fetches one output preset scoped to userID, for the
// upload executor's preset-metadata and credential-binding resolution
// (spec.md §4.9.6 steps 2-3).
func (r *Repository) GetOutputPresetByID(ctx context.Context, userID, presetID string) (*models.OutputPreset, error) {
	var p models.OutputPreset
	var meta []byte
	err := r.db.QueryRowContext(ctx, `
		select id, user_id, platform, credential_id, meta
		  from output_presets where id=$1 and user_id=$2`, presetID, userID).
		Scan(&p.ID, &p.UserID, &p.Platform, &p.CredentialID, &meta)
	if err == sql.ErrNoRows {
		return nil, apierrors.NewNotFoundError("output_preset", presetID)
	}
	if err != nil {
		return nil, fmt.Errorf("storagepg: reading output preset: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return nil, err
		}
	}
	return &p, nil
}
