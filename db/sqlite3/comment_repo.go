package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/nasermirzaei89/talkback/discuss"
)

const tableComments = "comments"

type CommentRepository struct {
	db *sql.DB
}

var _ discuss.CommentRepository = (*CommentRepository)(nil)

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

const (
	commentFieldID          = "id"
	commentFieldTarget      = "target"
	commentFieldAuthor      = "author"
	commentFieldMessage     = "message"
	commentFieldAdditional  = "additional"
	commentFieldStatus      = "status"
	commentFieldCreatedAt   = "created_at"
	commentFieldAcceptToken = "accept_token"
	commentFieldTokenExpiry = "token_expiry"
)

func commentColumns() []string {
	return []string{
		commentFieldID,
		commentFieldTarget,
		commentFieldAuthor,
		commentFieldMessage,
		commentFieldAdditional,
		commentFieldStatus,
		commentFieldCreatedAt,
		commentFieldAcceptToken,
		commentFieldTokenExpiry,
	}
}

// Timestamps are stored as unix nanoseconds so that comparisons and ordering
// happen on integers.
func scanComment(row sq.RowScanner) (*discuss.Comment, error) {
	var (
		comment     discuss.Comment
		additional  sql.NullString
		acceptToken sql.NullString
		createdAt   int64
		tokenExpiry int64
	)

	err := row.Scan(
		&comment.ID,
		&comment.Target,
		&comment.Author,
		&comment.Message,
		&additional,
		&comment.Status,
		&createdAt,
		&acceptToken,
		&tokenExpiry,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	if additional.Valid {
		comment.Additional = json.RawMessage(additional.String)
	}

	comment.AcceptToken = acceptToken.String
	comment.CreatedAt = time.Unix(0, createdAt).UTC()
	comment.TokenExpiry = time.Unix(0, tokenExpiry).UTC()

	return &comment, nil
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}

	return sql.NullString{String: string(raw), Valid: true}
}

func (repo *CommentRepository) InsertPending(ctx context.Context, comment *discuss.Comment) error {
	q := sq.Insert(tableComments).
		Columns(commentColumns()...).
		Values(
			comment.ID,
			comment.Target,
			comment.Author,
			comment.Message,
			nullableJSON(comment.Additional),
			string(discuss.StatusPending),
			comment.CreatedAt.UnixNano(),
			comment.AcceptToken,
			comment.TokenExpiry.UnixNano(),
		)

	q = q.RunWith(repo.db)

	_, err := q.ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to exec insert: %w", err)
	}

	return nil
}

func (repo *CommentRepository) FindByID(ctx context.Context, id string) (*discuss.Comment, error) {
	return findComment(ctx, repo.db, id)
}

func findComment(ctx context.Context, runner sq.BaseRunner, id string) (*discuss.Comment, error) {
	q := sq.Select(commentColumns()...).
		From(tableComments).
		Where(sq.Eq{commentFieldID: id}).
		RunWith(runner)

	comment, err := scanComment(q.QueryRowContext(ctx))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &discuss.CommentNotFoundError{ID: id}
		}

		return nil, fmt.Errorf("failed to find comment: %w", err)
	}

	return comment, nil
}

func (repo *CommentRepository) TryAccept(
	ctx context.Context,
	id string,
	now time.Time,
	check discuss.TokenCheck,
) (_ *discuss.Comment, err error) {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}

		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "failed to rollback accept transaction", "error", rollbackErr)
		}
	}()

	comment, err := findComment(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	err = checkAcceptable(comment, now, check)
	if err != nil {
		return nil, err
	}

	q := sq.Update(tableComments).
		Set(commentFieldStatus, string(discuss.StatusAccepted)).
		Set(commentFieldAcceptToken, nil).
		Where(sq.Eq{
			commentFieldID:     id,
			commentFieldStatus: string(discuss.StatusPending),
		}).
		Where(sq.Gt{commentFieldTokenExpiry: now.UnixNano()}).
		RunWith(tx)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to exec accept update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		// The row changed between the read and the write; report its current state.
		current, findErr := findComment(ctx, tx, id)
		if findErr != nil {
			return nil, findErr
		}

		err = checkAcceptable(current, now, check)
		if err == nil {
			err = fmt.Errorf("comment %q changed concurrently", id)
		}

		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit accept transaction: %w", err)
	}

	comment.Status = discuss.StatusAccepted
	comment.AcceptToken = ""

	return comment, nil
}

func checkAcceptable(comment *discuss.Comment, now time.Time, check discuss.TokenCheck) error {
	if comment.Status == discuss.StatusAccepted {
		return discuss.ErrAlreadyAccepted
	}

	if !check(comment.AcceptToken) {
		return &discuss.TokenMismatchError{ID: comment.ID}
	}

	if !now.Before(comment.TokenExpiry) {
		return &discuss.TokenExpiredError{ID: comment.ID, ExpiredAt: comment.TokenExpiry}
	}

	return nil
}

func (repo *CommentRepository) ListAccepted(ctx context.Context, target string) ([]*discuss.Comment, error) {
	query := sq.Select(commentColumns()...).
		From(tableComments).
		Where(sq.Eq{
			commentFieldTarget: target,
			commentFieldStatus: string(discuss.StatusAccepted),
		}).
		OrderBy(commentFieldCreatedAt+" ASC", commentFieldID+" ASC")

	query = query.RunWith(repo.db)

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			slog.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	comments := make([]*discuss.Comment, 0)

	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment failed: %w", err)
		}

		comments = append(comments, comment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return comments, nil
}

// SweepExpiredPending deletes in one statement, so the predicate and the
// delete are evaluated together.
func (repo *CommentRepository) SweepExpiredPending(ctx context.Context, now time.Time) (int64, error) {
	q := sq.Delete(tableComments).
		Where(sq.Eq{commentFieldStatus: string(discuss.StatusPending)}).
		Where(sq.Lt{commentFieldTokenExpiry: now.UnixNano()}).
		RunWith(repo.db)

	result, err := q.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to exec sweep delete: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (repo *CommentRepository) Ping(ctx context.Context) error {
	err := repo.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping db: %w", err)
	}

	return nil
}
