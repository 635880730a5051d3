// Package notify dispatches in-app notifications for substitution decisions.
// Dispatch is asynchronous and best-effort: an assignment never fails because
// a notification could not be written.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-subs-api/internal/models"
	"github.com/noah-isme/sma-subs-api/pkg/jobs"
)

const jobTypeNotification = "notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// QueueNotifier writes notification records through a background job queue.
type QueueNotifier struct {
	store  notificationStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// Config tunes the notifier's worker pool.
type Config struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NewQueueNotifier builds a notifier with its own job queue. Call Start before
// dispatching and Stop on shutdown.
func NewQueueNotifier(store notificationStore, cfg Config, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &QueueNotifier{store: store, logger: logger}
	n.queue = jobs.NewQueue(jobTypeNotification, n.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return n
}

// Start launches the queue workers.
func (n *QueueNotifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the queue workers.
func (n *QueueNotifier) Stop() {
	n.queue.Stop()
}

// SubstituteAssigned notifies the substitute about their new assignment.
func (n *QueueNotifier) SubstituteAssigned(ctx context.Context, teacherID string, req models.SubstitutionRequest) {
	n.dispatch(models.Notification{
		RecipientID: teacherID,
		Kind:        models.NotificationSubstituteAssigned,
		Title:       "Substitution assigned",
		Body:        fmt.Sprintf("You are covering a class on %s from %s to %s.", req.Date.Format("2006-01-02"), req.StartTime, req.EndTime),
		RequestID:   req.ID,
	})
}

// OriginalTeacherCovered tells the absent teacher their class is covered.
func (n *QueueNotifier) OriginalTeacherCovered(ctx context.Context, teacherID string, req models.SubstitutionRequest) {
	n.dispatch(models.Notification{
		RecipientID: teacherID,
		Kind:        models.NotificationOriginalCovered,
		Title:       "Your class is covered",
		Body:        fmt.Sprintf("A substitute has been arranged for %s, %s to %s.", req.Date.Format("2006-01-02"), req.StartTime, req.EndTime),
		RequestID:   req.ID,
	})
}

// EmergencyCancellation informs the absent teacher that no coverage was found
// and the session was cancelled.
func (n *QueueNotifier) EmergencyCancellation(ctx context.Context, req models.SubstitutionRequest) {
	n.dispatch(models.Notification{
		RecipientID: req.OriginalTeacherID,
		Kind:        models.NotificationEmergencyCancellation,
		Title:       "Session cancelled",
		Body:        fmt.Sprintf("No coverage could be arranged for %s, %s to %s. The session was cancelled.", req.Date.Format("2006-01-02"), req.StartTime, req.EndTime),
		RequestID:   req.ID,
	})
}

// AssignmentCancelled informs a previously booked substitute that their
// assignment no longer stands.
func (n *QueueNotifier) AssignmentCancelled(ctx context.Context, teacherID string, req models.SubstitutionRequest) {
	n.dispatch(models.Notification{
		RecipientID: teacherID,
		Kind:        models.NotificationAssignmentCancelled,
		Title:       "Assignment cancelled",
		Body:        fmt.Sprintf("Your substitution on %s from %s to %s was cancelled.", req.Date.Format("2006-01-02"), req.StartTime, req.EndTime),
		RequestID:   req.ID,
	})
}

func (n *QueueNotifier) dispatch(record models.Notification) {
	err := n.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobTypeNotification,
		Payload: record,
	})
	if err != nil {
		n.logger.Warn("notification dropped",
			zap.String("recipient_id", record.RecipientID),
			zap.String("kind", string(record.Kind)),
			zap.Error(err))
	}
}

func (n *QueueNotifier) handle(ctx context.Context, job jobs.Job) error {
	record, ok := job.Payload.(models.Notification)
	if !ok {
		n.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	return n.store.Create(ctx, &record)
}
