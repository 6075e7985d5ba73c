package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"threadify/internal/model"
)

const accountCols = `id, handle, provider, token_sealed, refresh_sealed, scopes, created_at`

func scanAccount(row interface{ Scan(...any) error }) (model.Account, error) {
	var a model.Account
	var refresh, scopes sql.NullString
	var created int64
	if err := row.Scan(&a.ID, &a.Handle, &a.Provider, &a.TokenSealed, &refresh, &scopes, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, err
	}
	a.RefreshSealed = refresh.String
	a.Scopes = scopes.String
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

// CreateAccount inserts a and returns it with ID and CreatedAt set. A taken
// handle yields ErrConflict.
func (d *DB) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if a.Provider == "" {
		a.Provider = "x"
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO accounts(handle, provider, token_sealed, refresh_sealed, scopes, created_at) VALUES(?,?,?,?,?,?)`,
		a.Handle, a.Provider, a.TokenSealed, nullStr(a.RefreshSealed), nullStr(a.Scopes), a.CreatedAt.Unix())
	if err != nil {
		if isUnique(err) {
			return model.Account{}, ErrConflict
		}
		return model.Account{}, err
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return model.Account{}, err
	}
	a.CreatedAt = time.Unix(a.CreatedAt.Unix(), 0).UTC()
	return a, nil
}

func (d *DB) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	return scanAccount(d.sql.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id=?`, id))
}

func (d *DB) GetAccountByHandle(ctx context.Context, handle string) (model.Account, error) {
	return scanAccount(d.sql.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE handle=? COLLATE NOCASE`, handle))
}

// FirstAccount returns the oldest account, or ErrNotFound when none exist.
func (d *DB) FirstAccount(ctx context.Context) (model.Account, error) {
	return scanAccount(d.sql.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id LIMIT 1`))
}

func (d *DB) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccountTokens replaces the sealed credentials of an account.
func (d *DB) UpdateAccountTokens(ctx context.Context, id int64, tokenSealed, refreshSealed string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE accounts SET token_sealed=?, refresh_sealed=? WHERE id=?`,
		tokenSealed, nullStr(refreshSealed), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// DeleteAccount removes an account together with its runs.
func (d *DB) DeleteAccount(ctx context.Context, id int64) error {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM accounts WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
