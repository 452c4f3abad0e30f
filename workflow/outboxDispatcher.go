package workflow

import (
	"context"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"github.com/sirupsen/logrus"
)

// OutboxDispatcher polls pending cascade event rows and publishes them to the
// Pub/Sub topic. Rows are written inside the cascade transaction, so a
// published event always corresponds to a committed cascade; rows that keep
// failing go Dead after MaxAttempts.
type OutboxDispatcher struct {
	Logger *logrus.Logger

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewOutboxDispatcher(logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		Logger:       logger,
		BatchSize:    50,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  20,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) {
	records, err := models.GetPendingCascadeEvents(ctx, d.BatchSize)
	if err != nil {
		if d.Logger != nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "Load pending events", nil, err)
		}
		return
	}

	for _, record := range records {
		event := config.CascadeEvent{
			ID:                   record.ID,
			ProjectId:            record.ProjectId,
			Origin:               string(record.Origin),
			ItemCode:             record.ItemCode,
			TriggeredAt:          record.CreatedAt,
			ItemsUpdated:         record.ItemsUpdated,
			CompositionsRecalced: record.CompositionsRecalced,
			ServicesUpdated:      record.ServicesUpdated,
			StagesRecalculated:   record.StagesRecalculated,
			BudgetsRecalculated:  record.BudgetsRecalculated,
			CorrelationId:        record.CorrelationId,
		}
		if _, err := config.PublishCascadeEvent(ctx, event); err != nil {
			if d.Logger != nil {
				d.Logger.WithFields(logrus.Fields{
					"record_id":  record.ID,
					"project_id": record.ProjectId,
					"attempt":    record.Attempts + 1,
				}).Error("cascade event publish failed: " + err.Error())
			}
			_ = models.MarkCascadeEventFailed(ctx, record.ID, d.MaxAttempts)
			continue
		}
		_ = models.MarkCascadeEventPublished(ctx, record.ID)
	}
}
