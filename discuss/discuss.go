package discuss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultRetentionWindow = 24 * time.Hour
	DefaultNotifyTimeout   = 10 * time.Second
)

type TokenService interface {
	Generate() (token string, err error)
	Matches(stored, supplied string) bool
}

// Notification carries everything a notifier needs to deliver an accept link.
type Notification struct {
	CommentID   string
	Token       string
	Destination string
	Target      string
	Author      string
	Message     string
	ExpiresAt   time.Time
}

type Notifier interface {
	NotifyPending(ctx context.Context, notification Notification) (err error)
}

type Config struct {
	RetentionWindow   time.Duration
	NotifyTimeout     time.Duration
	NotifyDestination string
	Now               func() time.Time
}

type Service struct {
	commentRepo   CommentRepository
	tokenSvc      TokenService
	notifier      Notifier
	cfg           Config
	notifications sync.WaitGroup
}

func NewService(commentRepo CommentRepository, tokenSvc TokenService, notifier Notifier, cfg Config) *Service {
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = DefaultRetentionWindow
	}

	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		commentRepo: commentRepo,
		tokenSvc:    tokenSvc,
		notifier:    notifier,
		cfg:         cfg,
	}
}

type SubmitRequest struct {
	Target     string
	Author     string
	Message    string
	Additional json.RawMessage
}

// Submit records a pending comment and dispatches its accept link in the
// background. req is expected to be validated by the caller. The returned
// comment never carries the token.
func (svc *Service) Submit(ctx context.Context, req SubmitRequest) (*Comment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate comment id: %w", err)
	}

	token, err := svc.tokenSvc.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate accept token: %w", err)
	}

	now := svc.cfg.Now().UTC()

	comment := &Comment{
		ID:          id.String(),
		Target:      NormalizeTarget(req.Target),
		Author:      strings.TrimSpace(req.Author),
		Message:     req.Message,
		Additional:  req.Additional,
		Status:      StatusPending,
		CreatedAt:   now,
		AcceptToken: token,
		TokenExpiry: now.Add(svc.cfg.RetentionWindow),
	}

	err = svc.commentRepo.InsertPending(ctx, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to insert comment: %w", err)
	}

	svc.dispatchNotification(ctx, comment)

	result := *comment
	result.AcceptToken = ""

	return &result, nil
}

func (svc *Service) dispatchNotification(ctx context.Context, comment *Comment) {
	if svc.notifier == nil {
		return
	}

	notification := Notification{
		CommentID:   comment.ID,
		Token:       comment.AcceptToken,
		Destination: svc.cfg.NotifyDestination,
		Target:      comment.Target,
		Author:      comment.Author,
		Message:     comment.Message,
		ExpiresAt:   comment.TokenExpiry,
	}

	svc.notifications.Add(1)

	go func() {
		defer svc.notifications.Done()

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), svc.cfg.NotifyTimeout)
		defer cancel()

		err := svc.notifier.NotifyPending(notifyCtx, notification)
		if err != nil {
			slog.WarnContext(notifyCtx, "failed to dispatch accept notification", "commentId", notification.CommentID, "error", err)

			return
		}

		slog.DebugContext(notifyCtx, "accept notification dispatched", "commentId", notification.CommentID)
	}()
}

// Wait blocks until every in-flight notification has finished or timed out.
func (svc *Service) Wait() {
	svc.notifications.Wait()
}

// Accept confirms a pending comment. Accepting a comment that is already
// accepted succeeds without another transition.
func (svc *Service) Accept(ctx context.Context, id, token string) (*Comment, error) {
	comment, err := svc.commentRepo.TryAccept(ctx, id, svc.cfg.Now().UTC(), func(stored string) bool {
		return svc.tokenSvc.Matches(stored, token)
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyAccepted) {
			return nil, fmt.Errorf("failed to accept comment: %w", err)
		}

		slog.DebugContext(ctx, "repeat accept of already accepted comment", "commentId", id)

		comment, err = svc.commentRepo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to find accepted comment: %w", err)
		}

		return comment, nil
	}

	slog.InfoContext(ctx, "comment accepted", "commentId", comment.ID, "target", comment.Target)

	return comment, nil
}

// ListAccepted returns accepted comments for target, oldest first.
func (svc *Service) ListAccepted(ctx context.Context, target string) ([]*Comment, error) {
	comments, err := svc.commentRepo.ListAccepted(ctx, NormalizeTarget(target))
	if err != nil {
		return nil, fmt.Errorf("failed to list accepted comments: %w", err)
	}

	return comments, nil
}

// CollectGarbage removes pending comments whose accept window lapsed. It is
// the single entry point for the HTTP endpoint, the scheduler and the CLI.
func (svc *Service) CollectGarbage(ctx context.Context) (int64, error) {
	removed, err := svc.commentRepo.SweepExpiredPending(ctx, svc.cfg.Now().UTC())
	if err != nil {
		slog.ErrorContext(ctx, "garbage collection failed", "error", err)

		return 0, fmt.Errorf("failed to sweep expired comments: %w", err)
	}

	slog.InfoContext(ctx, "garbage collection finished", "removed", removed)

	return removed, nil
}

func (svc *Service) Ping(ctx context.Context) error {
	err := svc.commentRepo.Ping(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping comment repository: %w", err)
	}

	return nil
}
