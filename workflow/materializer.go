package workflow

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Materialize clones the whole global catalog into project-scoped
// compositions, adjusting every item price to the project's state. It runs at
// most once per project: the guard is "any ProjectComposition exists", and the
// per-project advisory lock closes the double-materialization race between
// two concurrent first visits.
//
// Runs in a single transaction, so a mid-loop failure leaves nothing behind
// and a retry starts clean.
func Materialize(ctx context.Context, projectId int, state string) (int, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if err := utils.ValidateResourceId[models.Project](ctx, 0, projectId); err != nil {
		return 0, err
	}

	redisLock, _ := utils.ProjectLock(ctx, projectId, "materialize", "materializer.go", "Materialize")
	defer utils.ReleaseProjectLock(ctx, redisLock)

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProjectPostingLock(tx, projectId); err != nil {
			return err
		}
		defer ReleaseProjectPostingLock(tx, projectId)

		var existing int64
		if err := tx.Model(&models.ProjectComposition{}).Where("project_id = ?", projectId).Count(&existing).Error; err != nil {
			config.LogError(logger, "materializer.go", "Materialize", "Count existing", projectId, err)
			return err
		}
		if existing > 0 {
			return nil
		}

		var compositions []*models.Composition
		if err := tx.Preload("Items").Order("id").Find(&compositions).Error; err != nil {
			config.LogError(logger, "materializer.go", "Materialize", "Load catalog", projectId, err)
			return err
		}

		for _, comp := range compositions {
			if _, err := materializeComposition(tx, projectId, state, comp); err != nil {
				config.LogError(logger, "materializer.go", "Materialize", "Clone composition", comp.Code, err)
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		logger.WithFields(logrus.Fields{
			"project_id":   projectId,
			"state":        state,
			"compositions": created,
		}).Info("project catalog materialized")
	}
	return created, nil
}

func materializeComposition(tx *gorm.DB, projectId int, state string, source *models.Composition) (*models.ProjectComposition, error) {
	clone := models.ProjectComposition{
		ProjectId:   projectId,
		SourceId:    source.ID,
		Code:        source.Code,
		Description: source.Description,
		Unit:        source.Unit,
		Category:    source.Category,
		Subcategory: source.Subcategory,
	}

	if len(source.Items) == 0 {
		// Authored without a line-item breakdown: adjust the manual unit cost
		// directly.
		clone.UnitCost = models.AdjustUnitPrice(source.UnitCost, state)
		if err := tx.Create(&clone).Error; err != nil {
			return nil, err
		}
		return &clone, nil
	}

	items := make([]models.ProjectCompositionItem, 0, len(source.Items))
	for _, item := range source.Items {
		adjustedUnitPrice := models.AdjustUnitPrice(item.UnitPrice, state)
		items = append(items, models.ProjectCompositionItem{
			ProjectId:   projectId,
			Code:        item.Code,
			Kind:        item.Kind,
			Description: item.Description,
			Unit:        item.Unit,
			Coefficient: item.Coefficient,
			UnitPrice:   adjustedUnitPrice,
			TotalPrice:  models.ItemTotal(item.Coefficient, adjustedUnitPrice),
		})
	}
	totals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		totals = append(totals, item.TotalPrice)
	}
	clone.UnitCost = models.SumItemTotals(totals)
	clone.Items = items

	if err := tx.Create(&clone).Error; err != nil {
		return nil, err
	}
	return &clone, nil
}
