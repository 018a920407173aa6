package ingress

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/notify-platform/internal/domain"
	"github.com/baechuer/notify-platform/internal/logger"
	"github.com/baechuer/notify-platform/internal/metrics"
	"github.com/baechuer/notify-platform/internal/store"
)

// Publisher is the broker contract the ingress needs. An interface so tests
// can observe published messages without AMQP.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.QueueMessage) error
}

// UserLookup resolves recipients. Implemented by the user directory client.
type UserLookup interface {
	GetUser(ctx context.Context, userID string) (*domain.UserInfo, error)
}

// Service accepts notification requests, resolves the recipient, and hands
// the message to the broker. The notification record is written only after
// a confirmed publish, so a stored "pending" always has a queued message
// behind it.
type Service struct {
	users      UserLookup
	records    *store.NotificationStore
	publisher  Publisher
	validate   *validator.Validate
	maxRetries int
	lg         zerolog.Logger
}

func NewService(users UserLookup, records *store.NotificationStore, publisher Publisher, maxRetries int, lg zerolog.Logger) *Service {
	return &Service{
		users:      users,
		records:    records,
		publisher:  publisher,
		validate:   validator.New(),
		maxRetries: maxRetries,
		lg:         lg.With().Str("component", "ingress").Logger(),
	}
}

func newNotificationID() string {
	id := uuid.New()
	return "notif_" + hex.EncodeToString(id[:])
}

// Submit runs the full acceptance pipeline. A request_id seen before
// returns the original notification unchanged. correlationID ties the queue
// message and all downstream logs back to the originating HTTP request.
func (s *Service) Submit(ctx context.Context, req *domain.NotificationRequest, correlationID string) (*domain.SubmitResult, error) {
	lg := logger.WithCorrelationID(s.lg, correlationID)

	if err := s.validate.Struct(req); err != nil {
		return nil, domain.NewInvalidInput(err.Error())
	}

	// A failed duplicate check must not fall through to a publish: a KV blip
	// would let the same request_id enqueue twice.
	existingID, found, err := s.records.LookupRequest(ctx, req.RequestID)
	if err != nil {
		lg.Error().Err(err).Str("request_id", req.RequestID).Msg("request lookup failed")
		return nil, domain.NewStorageUnavailable(err)
	}
	if found {
		metrics.RecordIdempotencyHit("ingress")
		rec, err := s.records.Get(ctx, existingID)
		if err != nil {
			return nil, err
		}
		return &domain.SubmitResult{
			NotificationID:   rec.NotificationID,
			Status:           rec.Status,
			CreatedAt:        rec.CreatedAt,
			AlreadyProcessed: true,
		}, nil
	}

	user, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		metrics.RecordSubmission(string(req.NotificationType), "rejected")
		return nil, err
	}

	if !user.Allows(req.NotificationType) {
		metrics.RecordSubmission(string(req.NotificationType), "blocked")
		return nil, domain.NewBlockedByPreference(req.NotificationType)
	}

	recipient := user.Recipient(req.NotificationType)
	if recipient == "" {
		metrics.RecordSubmission(string(req.NotificationType), "rejected")
		return nil, domain.NewMissingRecipient(req.NotificationType)
	}

	now := time.Now().UTC()
	msg := &domain.QueueMessage{
		NotificationID:   newNotificationID(),
		NotificationType: req.NotificationType,
		UserID:           req.UserID,
		Recipient:        recipient,
		TemplateCode:     req.TemplateCode,
		Variables:        req.Variables,
		RequestID:        req.RequestID,
		Priority:         req.Priority,
		Timestamp:        now,
		RetryCount:       0,
		MaxRetries:       s.maxRetries,
		CorrelationID:    correlationID,
		Metadata:         req.Metadata,
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		metrics.RecordSubmission(string(req.NotificationType), "queue_failed")
		return nil, err
	}

	rec := &domain.NotificationRecord{
		NotificationID:   msg.NotificationID,
		UserID:           req.UserID,
		NotificationType: req.NotificationType,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		RequestID:        req.RequestID,
	}
	if err := s.records.Save(ctx, rec); err != nil {
		// The message is already queued; losing the record only costs
		// duplicate suppression and status queries for this request.
		lg.Error().Err(err).Str("notification_id", msg.NotificationID).Msg("record save failed after publish")
	}

	metrics.RecordSubmission(string(req.NotificationType), "accepted")
	lg.Info().
		Str("notification_id", msg.NotificationID).
		Str("type", string(req.NotificationType)).
		Str("routing_key", msg.RoutingKey()).
		Int("priority", req.Priority).
		Msg("notification queued")

	return &domain.SubmitResult{
		NotificationID: msg.NotificationID,
		Status:         domain.StatusPending,
		CreatedAt:      now,
	}, nil
}

// UpdateStatus applies a worker's delivery outcome to the stored record.
func (s *Service) UpdateStatus(ctx context.Context, upd *domain.StatusUpdate) error {
	if err := s.validate.Struct(upd); err != nil {
		return domain.NewInvalidInput(err.Error())
	}
	return s.records.UpdateStatus(ctx, upd.NotificationID, upd.Status, upd.Error)
}

// Get returns one notification record.
func (s *Service) Get(ctx context.Context, notificationID string) (*domain.NotificationRecord, error) {
	return s.records.Get(ctx, notificationID)
}

// List returns one page of a user's notifications.
func (s *Service) List(ctx context.Context, userID string, page, limit int) ([]*domain.NotificationRecord, *domain.PaginationMeta, error) {
	return s.records.ListByUser(ctx, userID, page, limit)
}
