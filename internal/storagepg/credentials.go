package storagepg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meetcast/core/internal/apierrors"
	"github.com/meetcast/core/internal/providers"
)

// GetCredential loads the opaque credential blob for (userID, platform,
// account). Encryption at rest is out of scope (spec.md §1): this package
// stores and returns exactly the bytes it was given.
func (r *Repository) GetCredential(ctx context.Context, userID, platform, account string) (providers.Envelope, error) {
	var env providers.Envelope
	env.Platform, env.Account = platform, account
	err := r.db.QueryRowContext(ctx, `
		select opaque, expires_at from credentials
		 where user_id=$1 and platform=$2 and account=$3`, userID, platform, account).
		Scan(&env.Opaque, &env.ExpiresAt)
	if err == sql.ErrNoRows {
		return providers.Envelope{}, apierrors.NewNotFoundError("credential", userID+"/"+platform+"/"+account)
	}
	if err != nil {
		return providers.Envelope{}, fmt.Errorf("storagepg: reading credential: %w", err)
	}
	return env, nil
}

// SaveCredential upserts the opaque blob for (userID, platform, account),
// e.g. after a token refresh writes back a new envelope.
func (r *Repository) SaveCredential(ctx context.Context, userID string, env providers.Envelope) error {
	_, err := r.db.ExecContext(ctx, `
		insert into credentials(user_id, platform, account, opaque, expires_at)
		values ($1,$2,$3,$4,$5)
		on conflict (user_id, platform, account) do update
		  set opaque=excluded.opaque, expires_at=excluded.expires_at`,
		userID, env.Platform, env.Account, env.Opaque, env.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storagepg: saving credential: %w", err)
	}
	return nil
}
