package workflow

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var tracer trace.Tracer = otel.Tracer("obras_backend/workflow")

// CascadeGlobalItemPrice propagates a catalog price change to every global
// item sharing the changed item's code, recomputes the owning compositions'
// unit costs and refreshes their cached per-state prices. It never touches
// project-scoped rows: catalog edits reach projects only through future
// materializations.
//
// The whole cascade runs in one transaction under the catalog posting lock,
// so concurrent catalog edits serialize and a failure rolls back whole.
func CascadeGlobalItemPrice(ctx context.Context, itemId int, newUnitPrice decimal.Decimal) (*CascadeSummary, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	ctx, span := tracer.Start(ctx, "CascadeGlobalItemPrice")
	defer span.End()

	if newUnitPrice.IsNegative() {
		return nil, utils.ErrorValidation
	}

	item, err := models.GetCompositionItem(ctx, itemId)
	if err != nil {
		return nil, err
	}

	summary := CascadeSummary{}
	var touchedCompositionIds []int

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireCatalogPostingLock(tx); err != nil {
			return err
		}
		defer ReleaseCatalogPostingLock(tx)

		var siblings []*models.CompositionItem
		if err := tx.Where("code = ?", item.Code).Order("composition_id, id").Find(&siblings).Error; err != nil {
			config.LogError(logger, "cascadeGlobal.go", "CascadeGlobalItemPrice", "Load propagation set", item.Code, err)
			return err
		}

		for _, sibling := range siblings {
			sibling.UnitPrice = newUnitPrice
			sibling.TotalPrice = models.ItemTotal(sibling.Coefficient, newUnitPrice)
			err := tx.Model(&models.CompositionItem{}).Where("id = ?", sibling.ID).
				Updates(map[string]interface{}{
					"unit_price":  sibling.UnitPrice,
					"total_price": sibling.TotalPrice,
				}).Error
			if err != nil {
				config.LogError(logger, "cascadeGlobal.go", "CascadeGlobalItemPrice", "Update item", sibling.ID, err)
				return err
			}
			summary.ItemsUpdated++
			if !containsInt(touchedCompositionIds, sibling.CompositionId) {
				touchedCompositionIds = append(touchedCompositionIds, sibling.CompositionId)
			}
		}

		for _, compositionId := range touchedCompositionIds {
			unitCost, err := recomputeCompositionUnitCost(tx, compositionId)
			if err != nil {
				config.LogError(logger, "cascadeGlobal.go", "CascadeGlobalItemPrice", "Recompute composition", compositionId, err)
				return err
			}
			if _, err := models.RefreshStatePrices(tx, compositionId, unitCost); err != nil {
				config.LogError(logger, "cascadeGlobal.go", "CascadeGlobalItemPrice", "Refresh state prices", compositionId, err)
				return err
			}
			summary.CompositionsRecalced++
		}

		return models.WriteCascadeEvent(tx, &models.CascadeEventRecord{
			Origin:               models.CascadeOriginCatalog,
			ItemCode:             item.Code,
			ItemsUpdated:         summary.ItemsUpdated,
			CompositionsRecalced: summary.CompositionsRecalced,
		})
	})
	if err != nil {
		return nil, err
	}

	for _, compositionId := range touchedCompositionIds {
		_ = utils.RemoveRedis[models.Composition](compositionId)
	}

	logger.WithFields(logrus.Fields{
		"item_code":    item.Code,
		"items":        summary.ItemsUpdated,
		"compositions": summary.CompositionsRecalced,
	}).Info("catalog price cascade completed")
	return &summary, nil
}

// recomputeCompositionUnitCost re-reads the composition's items inside the
// transaction and persists the summed unit cost.
func recomputeCompositionUnitCost(tx *gorm.DB, compositionId int) (decimal.Decimal, error) {
	var items []*models.CompositionItem
	if err := tx.Where("composition_id = ?", compositionId).Find(&items).Error; err != nil {
		return decimal.Zero, err
	}
	totals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		totals = append(totals, item.TotalPrice)
	}
	unitCost := models.SumItemTotals(totals)
	err := tx.Model(&models.Composition{}).Where("id = ?", compositionId).
		Update("unit_cost", unitCost).Error
	if err != nil {
		return decimal.Zero, err
	}
	return unitCost, nil
}

func containsInt(slice []int, v int) bool {
	for _, s := range slice {
		if s == v {
			return true
		}
	}
	return false
}
