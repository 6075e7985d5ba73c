package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"threadify/internal/model"
)

// StoredImage is an image row plus the processed JPEG bytes.
type StoredImage struct {
	model.Image
	Data []byte
}

const runCols = `id, submitted_at, account_id, url, canonical_url, mode, type, settings_json, status,
	cost_estimate, tokens_in, tokens_out, error_message, scraped_title, scraped_text, word_count`

func scanRun(row interface{ Scan(...any) error }) (model.Run, error) {
	var r model.Run
	var submitted int64
	var mode, typ, status string
	var settings, errMsg, title, text sql.NullString
	err := row.Scan(&r.ID, &submitted, &r.AccountID, &r.URL, &r.CanonicalURL, &mode, &typ, &settings, &status,
		&r.CostEstimate, &r.TokensIn, &r.TokensOut, &errMsg, &title, &text, &r.WordCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Run{}, ErrNotFound
		}
		return model.Run{}, err
	}
	r.SubmittedAt = time.Unix(submitted, 0).UTC()
	r.Mode = model.Mode(mode)
	r.Type = model.ContentType(typ)
	r.Status = model.RunStatus(status)
	r.ErrorMessage = errMsg.String
	r.ScrapedTitle = title.String
	r.ScrapedText = text.String
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &r.Settings); err != nil {
			return model.Run{}, err
		}
	}
	return r, nil
}

// CreateRun inserts the run, its tweets and an optional image in one
// transaction. IDs are written back into r and r.Tweets.
func (d *DB) CreateRun(ctx context.Context, r *model.Run, img *StoredImage) error {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now().UTC()
	}
	r.SubmittedAt = time.Unix(r.SubmittedAt.Unix(), 0).UTC()
	settings, err := json.Marshal(r.Settings)
	if err != nil {
		return err
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO runs(submitted_at, account_id, url, canonical_url, mode, type,
			settings_json, status, cost_estimate, tokens_in, tokens_out, error_message, scraped_title, scraped_text, word_count)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			r.SubmittedAt.Unix(), r.AccountID, r.URL, r.CanonicalURL, string(r.Mode), string(r.Type),
			string(settings), string(r.Status), r.CostEstimate, r.TokensIn, r.TokensOut,
			nullStr(r.ErrorMessage), nullStr(r.ScrapedTitle), nullStr(r.ScrapedText), r.WordCount)
		if err != nil {
			return err
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i := range r.Tweets {
			r.Tweets[i].RunID = r.ID
			if err := insertTweet(ctx, tx, &r.Tweets[i]); err != nil {
				return err
			}
		}
		if img != nil {
			img.RunID = r.ID
			res, err := tx.ExecContext(ctx, `INSERT INTO images(run_id, source_url, width, height, used, data) VALUES(?,?,?,?,?,?)`,
				r.ID, img.SourceURL, img.Width, img.Height, img.Used, img.Data)
			if err != nil {
				return err
			}
			if img.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertTweet(ctx context.Context, q queryer, t *model.Tweet) error {
	if t.Role == "" {
		t.Role = model.RoleContent
	}
	res, err := q.ExecContext(ctx, `INSERT INTO tweets(run_id, idx, role, text, media_alt, posted_tweet_id, permalink, posted_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		t.RunID, t.Idx, string(t.Role), t.Text, nullStr(t.MediaAlt), nullStr(t.PostedTweetID), nullStr(t.Permalink), unixOrNil(t.PostedAt))
	if err != nil {
		if isUnique(err) {
			return ErrConflict
		}
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

// GetRun loads a run with its tweets: content in index order, then the reference.
func (d *DB) GetRun(ctx context.Context, id int64) (model.Run, error) {
	r, err := scanRun(d.sql.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id=?`, id))
	if err != nil {
		return model.Run{}, err
	}
	if r.Tweets, err = d.runTweets(ctx, id); err != nil {
		return model.Run{}, err
	}
	return r, nil
}

func (d *DB) runTweets(ctx context.Context, runID int64) ([]model.Tweet, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, run_id, idx, role, text, media_alt, posted_tweet_id, permalink, posted_at
		FROM tweets WHERE run_id=? ORDER BY CASE role WHEN 'content' THEN 0 ELSE 1 END, idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Tweet
	for rows.Next() {
		var t model.Tweet
		var role string
		var alt, posted, link sql.NullString
		var at sql.NullInt64
		if err := rows.Scan(&t.ID, &t.RunID, &t.Idx, &role, &t.Text, &alt, &posted, &link, &at); err != nil {
			return nil, err
		}
		t.Role = model.TweetRole(role)
		t.MediaAlt = alt.String
		t.PostedTweetID = posted.String
		t.Permalink = link.String
		t.PostedAt = timePtr(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRuns returns the newest runs first, without tweets.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT `+runCols+` FROM runs ORDER BY submitted_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSuccessfulRun finds the newest completed or approved run for the pair.
func (d *DB) LatestSuccessfulRun(ctx context.Context, accountID int64, canonicalURL string) (model.Run, bool, error) {
	r, err := scanRun(d.sql.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs
		WHERE account_id=? AND canonical_url=? AND status IN (?, ?)
		ORDER BY submitted_at DESC, id DESC LIMIT 1`,
		accountID, canonicalURL, string(model.StatusCompleted), string(model.StatusApproved)))
	if errors.Is(err, ErrNotFound) {
		return model.Run{}, false, nil
	}
	if err != nil {
		return model.Run{}, false, err
	}
	return r, true, nil
}

// SetRunStatus unconditionally sets status and error message.
func (d *DB) SetRunStatus(ctx context.Context, id int64, status model.RunStatus, errMsg string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET status=?, error_message=? WHERE id=?`,
		string(status), nullStr(errMsg), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// TransitionRun moves a run to status `to` only if it is currently in one of
// from. It returns ErrConflict when the current status does not match.
func (d *DB) TransitionRun(ctx context.Context, id int64, to model.RunStatus, from ...model.RunStatus) error {
	if len(from) == 0 {
		return d.SetRunStatus(ctx, id, to, "")
	}
	args := []any{string(to), id}
	marks := make([]string, len(from))
	for i, s := range from {
		marks[i] = "?"
		args = append(args, string(s))
	}
	res, err := d.sql.ExecContext(ctx,
		`UPDATE runs SET status=?, error_message=NULL WHERE id=? AND status IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id=?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// ReplaceContentTweets swaps the numbered tweets of a run and records the new
// generation cost. The reference tweet is left alone.
func (d *DB) ReplaceContentTweets(ctx context.Context, runID int64, tweets []model.Tweet, cost float64, tokensIn, tokensOut int) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE runs SET cost_estimate=?, tokens_in=?, tokens_out=? WHERE id=?`,
			cost, tokensIn, tokensOut, runID)
		if err != nil {
			return err
		}
		if err := affectedOne(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tweets WHERE run_id=? AND role=?`, runID, string(model.RoleContent)); err != nil {
			return err
		}
		for i := range tweets {
			tweets[i].RunID = runID
			tweets[i].Role = model.RoleContent
			if err := insertTweet(ctx, tx, &tweets[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateTweetText edits an unposted tweet. Posted tweets yield ErrConflict.
func (d *DB) UpdateTweetText(ctx context.Context, runID int64, role model.TweetRole, idx int, text string) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE tweets SET text=? WHERE run_id=? AND role=? AND idx=?
		AND (posted_tweet_id IS NULL OR posted_tweet_id = '')`, text, runID, string(role), idx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := d.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM tweets WHERE run_id=? AND role=? AND idx=?`,
		runID, string(role), idx).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

// MarkTweetPosted records the platform identifier assigned to a tweet.
func (d *DB) MarkTweetPosted(ctx context.Context, runID int64, role model.TweetRole, idx int, tweetID, permalink string, at time.Time) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE tweets SET posted_tweet_id=?, permalink=?, posted_at=? WHERE run_id=? AND role=? AND idx=?`,
		tweetID, nullStr(permalink), at.Unix(), runID, string(role), idx)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// RunImage returns the image stored for a run.
func (d *DB) RunImage(ctx context.Context, runID int64) (StoredImage, error) {
	var img StoredImage
	var used int
	err := d.sql.QueryRowContext(ctx, `SELECT id, run_id, source_url, width, height, used, data FROM images
		WHERE run_id=? ORDER BY id LIMIT 1`, runID).
		Scan(&img.ID, &img.RunID, &img.SourceURL, &img.Width, &img.Height, &used, &img.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredImage{}, ErrNotFound
	}
	if err != nil {
		return StoredImage{}, err
	}
	img.Used = used != 0
	return img, nil
}

func (d *DB) MarkImageUsed(ctx context.Context, imageID int64) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE images SET used=1 WHERE id=?`, imageID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// UpdateRunSettings replaces the persisted generation settings.
func (d *DB) UpdateRunSettings(ctx context.Context, id int64, s model.Settings) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET settings_json=? WHERE id=?`, string(b), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
