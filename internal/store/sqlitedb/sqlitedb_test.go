package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadify/internal/model"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedAccount(t *testing.T, db *DB, handle string) model.Account {
	t.Helper()
	a, err := db.CreateAccount(context.Background(), model.Account{Handle: handle, TokenSealed: "v1:sealed"})
	require.NoError(t, err)
	return a
}

func newRun(accountID int64, canonical string, status model.RunStatus) *model.Run {
	return &model.Run{
		AccountID:    accountID,
		URL:          canonical + "?utm_source=x",
		CanonicalURL: canonical,
		Mode:         model.ModeReview,
		Type:         model.TypeThread,
		Settings:     model.Settings{Style: "analytical", Hook: true, ThreadCap: 5},
		Status:       status,
		CostEstimate: 0.0012,
		TokensIn:     1000,
		TokensOut:    300,
		ScrapedTitle: "Title",
		WordCount:    900,
		Tweets: []model.Tweet{
			{Idx: 0, Role: model.RoleContent, Text: "one", MediaAlt: "alt"},
			{Idx: 1, Role: model.RoleContent, Text: "two"},
			{Idx: 0, Role: model.RoleReference, Text: "Original: Title by Site"},
		},
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "threadify.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)
}

func TestAccounts(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	_, err := db.FirstAccount(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	a := seedAccount(t, db, "alice")
	b := seedAccount(t, db, "bob")
	assert.NotZero(t, a.ID)
	assert.Equal(t, "x", a.Provider)

	_, err = db.CreateAccount(ctx, model.Account{Handle: "alice", TokenSealed: "t"})
	assert.ErrorIs(t, err, ErrConflict)

	first, err := db.FirstAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.ID)

	got, err := db.GetAccountByHandle(ctx, "BOB")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	require.NoError(t, db.UpdateAccountTokens(ctx, b.ID, "v1:new", "v1:refresh"))
	got, err = db.GetAccount(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1:new", got.TokenSealed)
	assert.Equal(t, "v1:refresh", got.RefreshSealed)

	all, err := db.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, db.DeleteAccount(ctx, a.ID))
	assert.ErrorIs(t, db.DeleteAccount(ctx, a.ID), ErrNotFound)
	_, err = db.GetAccount(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAndGetRun(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")

	r := newRun(acct.ID, "https://example.com/a", model.StatusReview)
	img := &StoredImage{Image: model.Image{SourceURL: "https://example.com/hero.jpg", Width: 1600, Height: 900}, Data: []byte{1, 2, 3}}
	require.NoError(t, db.CreateRun(ctx, r, img))
	require.NotZero(t, r.ID)
	for _, tw := range r.Tweets {
		assert.NotZero(t, tw.ID)
		assert.Equal(t, r.ID, tw.RunID)
	}

	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.CanonicalURL, got.CanonicalURL)
	assert.Equal(t, model.StatusReview, got.Status)
	assert.Equal(t, r.Settings, got.Settings)
	assert.Equal(t, r.SubmittedAt, got.SubmittedAt)
	assert.InDelta(t, 0.0012, got.CostEstimate, 1e-12)
	require.Len(t, got.Tweets, 3)
	assert.Equal(t, []string{"one", "two"}, []string{got.ContentTweets()[0].Text, got.ContentTweets()[1].Text})
	ref, ok := got.ReferenceTweet()
	require.True(t, ok)
	assert.Equal(t, "Original: Title by Site", ref.Text)
	assert.Equal(t, "alt", got.Tweets[0].MediaAlt)

	stored, err := db.RunImage(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, stored.Data)
	assert.False(t, stored.Used)
	require.NoError(t, db.MarkImageUsed(ctx, stored.ID))
	stored, err = db.RunImage(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, stored.Used)

	_, err = db.GetRun(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRunRollsBackOnTweetConflict(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")

	r := newRun(acct.ID, "https://example.com/a", model.StatusReview)
	r.Tweets = append(r.Tweets, model.Tweet{Idx: 1, Role: model.RoleContent, Text: "dup"})
	assert.ErrorIs(t, db.CreateRun(ctx, r, nil), ErrConflict)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLatestSuccessfulRun(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	alice := seedAccount(t, db, "alice")
	bob := seedAccount(t, db, "bob")
	url := "https://example.com/a"

	_, found, err := db.LatestSuccessfulRun(ctx, alice.ID, url)
	require.NoError(t, err)
	assert.False(t, found)

	failed := newRun(alice.ID, url, model.StatusFailed)
	require.NoError(t, db.CreateRun(ctx, failed, nil))
	_, found, err = db.LatestSuccessfulRun(ctx, alice.ID, url)
	require.NoError(t, err)
	assert.False(t, found, "failed runs do not count")

	older := newRun(alice.ID, url, model.StatusCompleted)
	older.SubmittedAt = time.Now().Add(-time.Hour)
	require.NoError(t, db.CreateRun(ctx, older, nil))
	newer := newRun(alice.ID, url, model.StatusApproved)
	require.NoError(t, db.CreateRun(ctx, newer, nil))

	prev, found, err := db.LatestSuccessfulRun(ctx, alice.ID, url)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, newer.ID, prev.ID)

	_, found, err = db.LatestSuccessfulRun(ctx, bob.ID, url)
	require.NoError(t, err)
	assert.False(t, found, "scoped per account")
}

func TestTransitionRun(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")
	r := newRun(acct.ID, "https://example.com/a", model.StatusReview)
	require.NoError(t, db.CreateRun(ctx, r, nil))

	require.NoError(t, db.TransitionRun(ctx, r.ID, model.StatusApproved, model.StatusReview))
	assert.ErrorIs(t, db.TransitionRun(ctx, r.ID, model.StatusApproved, model.StatusReview), ErrConflict)
	assert.ErrorIs(t, db.TransitionRun(ctx, 404, model.StatusApproved, model.StatusReview), ErrNotFound)

	require.NoError(t, db.SetRunStatus(ctx, r.ID, model.StatusFailed, "Rate limit exceeded. Reset at: unknown"))
	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "Rate limit exceeded. Reset at: unknown", got.ErrorMessage)

	require.NoError(t, db.TransitionRun(ctx, r.ID, model.StatusPosting, model.StatusFailed, model.StatusApproved))
	got, err = db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPosting, got.Status)
	assert.Empty(t, got.ErrorMessage)
}

func TestTweetEditsAndPosting(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")
	r := newRun(acct.ID, "https://example.com/a", model.StatusReview)
	require.NoError(t, db.CreateRun(ctx, r, nil))

	require.NoError(t, db.UpdateTweetText(ctx, r.ID, model.RoleContent, 1, "two, edited"))
	assert.ErrorIs(t, db.UpdateTweetText(ctx, r.ID, model.RoleContent, 7, "x"), ErrNotFound)

	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, db.MarkTweetPosted(ctx, r.ID, model.RoleContent, 0, "111", model.Permalink("alice", "111"), at))
	assert.ErrorIs(t, db.UpdateTweetText(ctx, r.ID, model.RoleContent, 0, "too late"), ErrConflict)

	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	content := got.ContentTweets()
	assert.Equal(t, "111", content[0].PostedTweetID)
	assert.Equal(t, "https://x.com/alice/status/111", content[0].Permalink)
	require.NotNil(t, content[0].PostedAt)
	assert.Equal(t, at, *content[0].PostedAt)
	assert.Equal(t, "two, edited", content[1].Text)
	assert.False(t, content[1].Posted())
}

func TestReplaceContentTweets(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")
	r := newRun(acct.ID, "https://example.com/a", model.StatusReview)
	require.NoError(t, db.CreateRun(ctx, r, nil))

	fresh := []model.Tweet{{Idx: 0, Text: "a"}, {Idx: 1, Text: "b"}, {Idx: 2, Text: "c"}}
	require.NoError(t, db.ReplaceContentTweets(ctx, r.ID, fresh, 0.005, 2000, 500))

	got, err := db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.ContentTweets(), 3)
	assert.Equal(t, "c", got.ContentTweets()[2].Text)
	_, ok := got.ReferenceTweet()
	assert.True(t, ok, "reference survives regeneration")
	assert.Equal(t, 2000, got.TokensIn)
	assert.InDelta(t, 0.005, got.CostEstimate, 1e-12)

	assert.ErrorIs(t, db.ReplaceContentTweets(ctx, 404, fresh, 0, 0, 0), ErrNotFound)

	require.NoError(t, db.UpdateRunSettings(ctx, r.ID, model.Settings{Style: "casual", Extractive: true}))
	got, err = db.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Settings{Style: "casual", Extractive: true}, got.Settings)
}

func TestDeleteAccountCascades(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	acct := seedAccount(t, db, "alice")
	r := newRun(acct.ID, "https://example.com/a", model.StatusCompleted)
	require.NoError(t, db.CreateRun(ctx, r, nil))

	require.NoError(t, db.DeleteAccount(ctx, acct.ID))
	_, err := db.GetRun(ctx, r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAPITokens(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	a, err := db.CreateAPIToken(ctx, "laptop", "$2a$hash-a")
	require.NoError(t, err)
	_, err = db.CreateAPIToken(ctx, "ci", "$2a$hash-b")
	require.NoError(t, err)

	active, err := db.ActiveAPITokens(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Nil(t, active[0].LastUsedAt)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, db.TouchAPIToken(ctx, a.ID, now))
	require.NoError(t, db.RevokeAPIToken(ctx, a.ID+1))
	assert.ErrorIs(t, db.RevokeAPIToken(ctx, a.ID+1), ErrNotFound)

	active, err = db.ActiveAPITokens(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "laptop", active[0].Label)
	require.NotNil(t, active[0].LastUsedAt)
	assert.Equal(t, now, *active[0].LastUsedAt)
}
