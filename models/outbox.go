package models

import (
	"context"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CascadeEventRecord is the transactional outbox row written in the same
// transaction as a cascade. The dispatcher publishes pending rows to Pub/Sub
// after commit, so an event exists if and only if its cascade committed.
type CascadeEventRecord struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	ProjectId            int                 `gorm:"index;default:0" json:"project_id"`
	Origin               CascadeOrigin       `gorm:"size:20;not null" json:"origin"`
	ItemCode             string              `gorm:"size:20" json:"item_code"`
	ItemsUpdated         int                 `gorm:"default:0" json:"items_updated"`
	CompositionsRecalced int                 `gorm:"default:0" json:"compositions_recalced"`
	ServicesUpdated      int                 `gorm:"default:0" json:"services_updated"`
	StagesRecalculated   int                 `gorm:"default:0" json:"stages_recalculated"`
	BudgetsRecalculated  int                 `gorm:"default:0" json:"budgets_recalculated"`
	CorrelationId        string              `gorm:"size:36;uniqueIndex" json:"correlation_id"`
	IsProcessed          bool                `gorm:"default:false;index" json:"is_processed"`
	PublishStatus        OutboxPublishStatus `gorm:"size:20;default:'Pending'" json:"publish_status"`
	Attempts             int                 `gorm:"default:0" json:"attempts"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	PublishedAt          *time.Time          `json:"published_at"`
}

// WriteCascadeEvent appends an outbox row on the cascade's transaction.
func WriteCascadeEvent(tx *gorm.DB, record *CascadeEventRecord) error {
	if record.CorrelationId == "" {
		record.CorrelationId = uuid.NewString()
	}
	record.PublishStatus = OutboxPublishStatusPending
	return tx.Create(record).Error
}

func GetPendingCascadeEvents(ctx context.Context, limit int) ([]*CascadeEventRecord, error) {
	db := config.GetDB()
	var results []*CascadeEventRecord
	err := db.WithContext(ctx).
		Where("is_processed = ? AND publish_status = ?", false, OutboxPublishStatusPending).
		Order("id").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func MarkCascadeEventPublished(ctx context.Context, id int) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&CascadeEventRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_processed":   true,
			"publish_status": OutboxPublishStatusPublished,
			"published_at":   &now,
		}).Error
}

// MarkCascadeEventFailed bumps the attempt counter and parks the row as Dead
// once it has burned through its retries.
func MarkCascadeEventFailed(ctx context.Context, id int, maxAttempts int) error {
	db := config.GetDB()
	var record CascadeEventRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{"attempts": record.Attempts + 1}
	if record.Attempts+1 >= maxAttempts {
		updates["publish_status"] = OutboxPublishStatusDead
		updates["is_processed"] = true
	}
	return db.WithContext(ctx).Model(&record).Updates(updates).Error
}
