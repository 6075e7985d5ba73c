package sqlitedb

import (
	"context"
	"database/sql"
	"time"

	"threadify/internal/model"
)

// CreateAPIToken stores a hashed bearer token.
func (d *DB) CreateAPIToken(ctx context.Context, label, tokenHash string) (model.APIToken, error) {
	now := time.Now().UTC()
	res, err := d.sql.ExecContext(ctx, `INSERT INTO api_tokens(label, token_hash, created_at) VALUES(?,?,?)`,
		label, tokenHash, now.Unix())
	if err != nil {
		return model.APIToken{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.APIToken{}, err
	}
	return model.APIToken{ID: id, Label: label, TokenHash: tokenHash, CreatedAt: time.Unix(now.Unix(), 0).UTC()}, nil
}

// ActiveAPITokens lists tokens that have not been revoked.
func (d *DB) ActiveAPITokens(ctx context.Context) ([]model.APIToken, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, label, token_hash, created_at, revoked_at, last_used_at FROM api_tokens WHERE revoked_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.APIToken
	for rows.Next() {
		var t model.APIToken
		var created int64
		var revoked, used sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Label, &t.TokenHash, &created, &revoked, &used); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(created, 0).UTC()
		t.RevokedAt = timePtr(revoked)
		t.LastUsedAt = timePtr(used)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *DB) RevokeAPIToken(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE api_tokens SET revoked_at=? WHERE id=? AND revoked_at IS NULL`,
		time.Now().UTC().Unix(), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// TouchAPIToken records a successful authentication.
func (d *DB) TouchAPIToken(ctx context.Context, id int64, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE api_tokens SET last_used_at=? WHERE id=?`, at.Unix(), id)
	return err
}
