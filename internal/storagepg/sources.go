package storagepg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/models"
)

// ListActiveInputSources returns userID's active input sources, optionally
// narrowed to a specific source id (used by both single-source and batch
// sync, spec.md §4.10).
func (r *Repository) ListActiveInputSources(ctx context.Context, userID string, sourceID string) ([]*models.InputSource, error) {
	query := `select id, user_id, kind, credential_id, config, last_sync_at, active
	            from input_sources where user_id = $1 and active = true`
	args := []interface{}{userID}
	if sourceID != "" {
		query += ` and id = $2`
		args = append(args, sourceID)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying input sources: %w", err)
	}
	defer rows.Close()

	var out []*models.InputSource
	for rows.Next() {
		var s models.InputSource
		var credentialID sql.NullString
		var cfg []byte
		if err := rows.Scan(&s.ID, &s.UserID, &s.Kind, &credentialID, &cfg, &s.LastSyncAt, &s.Active); err != nil {
			return nil, fmt.Errorf("storagepg: scanning input source: %w", err)
		}
		s.CredentialID = credentialID.String
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &s.Config); err != nil {
				return nil, err
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// GetInputSourceByID fetches a single active input source scoped to
// userID, for the download step's opportunistic token refresh (spec.md
// §4.11 last paragraph).
func (r *Repository) GetInputSourceByID(ctx context.Context, userID, sourceID string) (*models.InputSource, error) {
	sources, err := r.ListActiveInputSources(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, apierrors.NewNotFoundError("input_source", sourceID)
	}
	return sources[0], nil
}

// UpdateSourceDownloadToken persists a freshly fetched download URL/token
// for a recording's source metadata, stamping token_fetched_at so the next
// download step's staleness check has something to compare against.
func (r *Repository) UpdateSourceDownloadToken(ctx context.Context, rid, downloadURL, downloadToken string, fetchedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		update source_metadata set download_url=$1, download_token=$2, token_fetched_at=$3
		 where recording_id=$4`,
		downloadURL, downloadToken, fetchedAt, rid)
	if err != nil {
		return fmt.Errorf("storagepg: updating source download token: %w", err)
	}
	return nil
}

// SetSourceLastSyncAt stamps last_sync_at after a sync pass completes.
func (r *Repository) SetSourceLastSyncAt(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `update input_sources set last_sync_at=$1 where id=$2`, r.clock.GetTime(), sourceID)
	if err != nil {
		return fmt.Errorf("storagepg: stamping last_sync_at: %w", err)
	}
	return nil
}

// ListActiveTemplates returns userID's active, non-draft templates ordered
// by created_at ascending, the order internal/template.Find requires for
// first-match-wins semantics.
func (r *Repository) ListActiveTemplates(ctx context.Context, userID string) ([]models.RecordingTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, name, matching_rules, processing_config, metadata_config, output_config, is_draft
		  from recording_templates where user_id = $1 and is_draft = false order by created_at asc`, userID)
	if err != nil {
		return nil, fmt.Errorf("storagepg: querying templates: %w", err)
	}
	defer rows.Close()

	var out []models.RecordingTemplate
	for rows.Next() {
		var t models.RecordingTemplate
		var rules, processingCfg, metadataCfg, outputCfg []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &rules, &processingCfg, &metadataCfg, &outputCfg, &t.IsDraft); err != nil {
			return nil, fmt.Errorf("storagepg: scanning template: %w", err)
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &t.MatchingRules); err != nil {
				return nil, err
			}
		}
		if len(processingCfg) > 0 {
			if err := json.Unmarshal(processingCfg, &t.ProcessingConfig); err != nil {
				return nil, err
			}
		}
		if len(metadataCfg) > 0 {
			if err := json.Unmarshal(metadataCfg, &t.MetadataConfig); err != nil {
				return nil, err
			}
		}
		if len(outputCfg) > 0 {
			if err := json.Unmarshal(outputCfg, &t.OutputConfig); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTemplateByID fetches a single template, scoped to userID, for
// AutomationJob.TemplateIDs resolution (spec.md §4.12 step 1).
func (r *Repository) GetTemplateByID(ctx context.Context, userID, templateID string) (*models.RecordingTemplate, error) {
	templates, err := r.ListActiveTemplates(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.ID == templateID {
			return &t, nil
		}
	}
	return nil, apierrors.NewNotFoundError("template", templateID)
}
