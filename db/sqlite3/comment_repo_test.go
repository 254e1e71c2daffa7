package sqlite3_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nasermirzaei89/talkback/db/sqlite3"
	"github.com/nasermirzaei89/talkback/discuss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite3.NewDB(ctx, "file:"+filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})

	err = sqlite3.MigrateUp(ctx, db)
	require.NoError(t, err)

	return db
}

var baseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func pendingComment(target, message, tok string, createdAt time.Time, window time.Duration) *discuss.Comment {
	return &discuss.Comment{
		ID:          uuid.NewString(),
		Target:      target,
		Message:     message,
		Status:      discuss.StatusPending,
		CreatedAt:   createdAt,
		AcceptToken: tok,
		TokenExpiry: createdAt.Add(window),
	}
}

func tokenEquals(supplied string) discuss.TokenCheck {
	return func(stored string) bool {
		return stored != "" && stored == supplied
	}
}

func TestCommentRepositoryInsertAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	comment := pendingComment("/blog/post-1", "Great post!", "t1", baseTime, time.Hour)
	comment.Author = "alice"
	comment.Additional = json.RawMessage(`{"lang":"en"}`)

	err := repo.InsertPending(ctx, comment)
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, comment.ID)
	require.NoError(t, err)

	assert.Equal(t, comment.ID, found.ID)
	assert.Equal(t, "/blog/post-1", found.Target)
	assert.Equal(t, "alice", found.Author)
	assert.Equal(t, "Great post!", found.Message)
	assert.JSONEq(t, `{"lang":"en"}`, string(found.Additional))
	assert.Equal(t, discuss.StatusPending, found.Status)
	assert.Equal(t, "t1", found.AcceptToken)
	assert.True(t, baseTime.Equal(found.CreatedAt))
	assert.True(t, baseTime.Add(time.Hour).Equal(found.TokenExpiry))
}

func TestCommentRepositoryInsertWithoutAdditional(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	comment := pendingComment("/a", "hello", "t1", baseTime, time.Hour)

	require.NoError(t, repo.InsertPending(ctx, comment))

	found, err := repo.FindByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Nil(t, found.Additional)
}

func TestCommentRepositoryFindNotFound(t *testing.T) {
	t.Parallel()

	repo := sqlite3.NewCommentRepository(newTestDB(t))

	_, err := repo.FindByID(context.Background(), "missing")
	require.Error(t, err)

	notFoundErr := &discuss.CommentNotFoundError{}
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "missing", notFoundErr.ID)
}

func TestCommentRepositoryTryAccept(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	t.Run("valid token", func(t *testing.T) {
		comment := pendingComment("/a", "hello", "good", baseTime, time.Hour)
		require.NoError(t, repo.InsertPending(ctx, comment))

		accepted, err := repo.TryAccept(ctx, comment.ID, baseTime.Add(time.Minute), tokenEquals("good"))
		require.NoError(t, err)
		assert.Equal(t, discuss.StatusAccepted, accepted.Status)
		assert.Empty(t, accepted.AcceptToken)

		stored, err := repo.FindByID(ctx, comment.ID)
		require.NoError(t, err)
		assert.Equal(t, discuss.StatusAccepted, stored.Status)
		assert.Empty(t, stored.AcceptToken)
	})

	t.Run("wrong token leaves comment pending", func(t *testing.T) {
		comment := pendingComment("/a", "hello", "good", baseTime, time.Hour)
		require.NoError(t, repo.InsertPending(ctx, comment))

		_, err := repo.TryAccept(ctx, comment.ID, baseTime.Add(time.Minute), tokenEquals("bad"))
		require.Error(t, err)

		mismatchErr := &discuss.TokenMismatchError{}
		require.ErrorAs(t, err, &mismatchErr)

		stored, err := repo.FindByID(ctx, comment.ID)
		require.NoError(t, err)
		assert.Equal(t, discuss.StatusPending, stored.Status)
		assert.Equal(t, "good", stored.AcceptToken)
	})

	t.Run("expired token", func(t *testing.T) {
		comment := pendingComment("/a", "hello", "good", baseTime, time.Hour)
		require.NoError(t, repo.InsertPending(ctx, comment))

		_, err := repo.TryAccept(ctx, comment.ID, baseTime.Add(time.Hour), tokenEquals("good"))
		require.Error(t, err)

		expiredErr := &discuss.TokenExpiredError{}
		require.ErrorAs(t, err, &expiredErr)
		assert.True(t, baseTime.Add(time.Hour).Equal(expiredErr.ExpiredAt))

		stored, err := repo.FindByID(ctx, comment.ID)
		require.NoError(t, err)
		assert.Equal(t, discuss.StatusPending, stored.Status)
	})

	t.Run("already accepted", func(t *testing.T) {
		comment := pendingComment("/a", "hello", "good", baseTime, time.Hour)
		require.NoError(t, repo.InsertPending(ctx, comment))

		_, err := repo.TryAccept(ctx, comment.ID, baseTime, tokenEquals("good"))
		require.NoError(t, err)

		_, err = repo.TryAccept(ctx, comment.ID, baseTime, tokenEquals("good"))
		require.ErrorIs(t, err, discuss.ErrAlreadyAccepted)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.TryAccept(ctx, "missing", baseTime, tokenEquals("good"))
		require.Error(t, err)

		notFoundErr := &discuss.CommentNotFoundError{}
		require.ErrorAs(t, err, &notFoundErr)
	})
}

func TestCommentRepositoryListAccepted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	first := pendingComment("/blog/post-1", "first", "t1", baseTime, time.Hour)
	second := pendingComment("/blog/post-1", "second", "t2", baseTime.Add(time.Second), time.Hour)
	pending := pendingComment("/blog/post-1", "pending", "t3", baseTime.Add(2*time.Second), time.Hour)
	other := pendingComment("/blog/post-2", "other", "t4", baseTime, time.Hour)

	// Inserted newest first so the order has to come from the query.
	for _, comment := range []*discuss.Comment{second, first, pending, other} {
		require.NoError(t, repo.InsertPending(ctx, comment))
	}

	for _, comment := range []*discuss.Comment{second, first, other} {
		_, err := repo.TryAccept(ctx, comment.ID, baseTime, tokenEquals(comment.AcceptToken))
		require.NoError(t, err)
	}

	comments, err := repo.ListAccepted(ctx, "/blog/post-1")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Message)
	assert.Equal(t, "second", comments[1].Message)

	empty, err := repo.ListAccepted(ctx, "/nothing-here")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCommentRepositoryListAcceptedTieBrokenByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	a := pendingComment("/same", "a", "ta", baseTime, time.Hour)
	a.ID = "00000000-0000-0000-0000-00000000000a"
	b := pendingComment("/same", "b", "tb", baseTime, time.Hour)
	b.ID = "00000000-0000-0000-0000-00000000000b"

	for _, comment := range []*discuss.Comment{b, a} {
		require.NoError(t, repo.InsertPending(ctx, comment))

		_, err := repo.TryAccept(ctx, comment.ID, baseTime, tokenEquals(comment.AcceptToken))
		require.NoError(t, err)
	}

	comments, err := repo.ListAccepted(ctx, "/same")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, a.ID, comments[0].ID)
	assert.Equal(t, b.ID, comments[1].ID)
}

func TestCommentRepositorySweepExpiredPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	expired := pendingComment("/a", "expired", "t1", baseTime, time.Hour)
	fresh := pendingComment("/a", "fresh", "t2", baseTime.Add(2*time.Hour), time.Hour)
	acceptedOld := pendingComment("/a", "accepted", "t3", baseTime, time.Hour)

	for _, comment := range []*discuss.Comment{expired, fresh, acceptedOld} {
		require.NoError(t, repo.InsertPending(ctx, comment))
	}

	_, err := repo.TryAccept(ctx, acceptedOld.ID, baseTime, tokenEquals("t3"))
	require.NoError(t, err)

	sweepAt := baseTime.Add(2 * time.Hour)

	removed, err := repo.SweepExpiredPending(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.FindByID(ctx, expired.ID)
	notFoundErr := &discuss.CommentNotFoundError{}
	require.ErrorAs(t, err, &notFoundErr)

	_, err = repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)

	_, err = repo.FindByID(ctx, acceptedOld.ID)
	require.NoError(t, err)

	removed, err = repo.SweepExpiredPending(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)

	// Accepted rows survive any later sweep.
	removed, err = repo.SweepExpiredPending(ctx, sweepAt.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.FindByID(ctx, acceptedOld.ID)
	require.NoError(t, err)
}

func TestCommentRepositoryConcurrentAccept(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	comment := pendingComment("/a", "hello", "good", baseTime, time.Hour)
	require.NoError(t, repo.InsertPending(ctx, comment))

	const attempts = 16

	var (
		wg              sync.WaitGroup
		mu              sync.Mutex
		accepted        int
		alreadyAccepted int
	)

	for range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := repo.TryAccept(ctx, comment.ID, baseTime, tokenEquals("good"))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				accepted++
			case errors.Is(err, discuss.ErrAlreadyAccepted):
				alreadyAccepted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, attempts-1, alreadyAccepted)
}

func TestCommentRepositoryAcceptRacesSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := sqlite3.NewCommentRepository(newTestDB(t))

	expiry := baseTime.Add(time.Hour)

	for i := range 25 {
		comment := pendingComment("/race", fmt.Sprintf("comment %d", i), "good", baseTime, time.Hour)
		require.NoError(t, repo.InsertPending(ctx, comment))

		var (
			wg        sync.WaitGroup
			acceptErr error
			removed   int64
			sweepErr  error
		)

		wg.Add(2)

		go func() {
			defer wg.Done()

			_, acceptErr = repo.TryAccept(ctx, comment.ID, expiry.Add(-time.Nanosecond), tokenEquals("good"))
		}()

		go func() {
			defer wg.Done()

			removed, sweepErr = repo.SweepExpiredPending(ctx, expiry.Add(time.Nanosecond))
		}()

		wg.Wait()

		require.NoError(t, sweepErr)

		stored, findErr := repo.FindByID(ctx, comment.ID)

		if acceptErr == nil {
			assert.Equal(t, int64(0), removed, "accepted comment must not be swept")
			require.NoError(t, findErr)
			assert.Equal(t, discuss.StatusAccepted, stored.Status)

			continue
		}

		notFoundErr := &discuss.CommentNotFoundError{}
		require.ErrorAs(t, acceptErr, &notFoundErr)
		assert.Equal(t, int64(1), removed, "swept comment must be removed exactly once")
		require.ErrorAs(t, findErr, &notFoundErr)
	}
}

func TestCommentRepositoryPing(t *testing.T) {
	t.Parallel()

	repo := sqlite3.NewCommentRepository(newTestDB(t))

	require.NoError(t, repo.Ping(context.Background()))
}
