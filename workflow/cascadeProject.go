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

// CascadeProjectItemPrice propagates a project-scoped price change through
// the five dependency levels in strict order: items sharing the code within
// the project, their owning project compositions, the budget services priced
// off those compositions, the stages owning those services, and finally the
// budgets with their BDI markup.
//
// The target item's composition must belong to projectId; anything else is
// Forbidden before any write. The cascade runs in one transaction under the
// project posting lock and never reads or writes another project's rows or
// the global catalog.
func CascadeProjectItemPrice(ctx context.Context, projectId int, projectItemId int, newUnitPrice decimal.Decimal) (*CascadeSummary, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	ctx, span := tracer.Start(ctx, "CascadeProjectItemPrice")
	defer span.End()

	if newUnitPrice.IsNegative() {
		return nil, utils.ErrorValidation
	}

	item, err := models.GetProjectCompositionItem(ctx, projectItemId)
	if err != nil {
		return nil, err
	}
	if item.ProjectId != projectId {
		return nil, utils.ErrorForbidden
	}

	redisLock, _ := utils.ProjectLock(ctx, projectId, "cascade", "cascadeProject.go", "CascadeProjectItemPrice")
	defer utils.ReleaseProjectLock(ctx, redisLock)

	summary := CascadeSummary{}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProjectPostingLock(tx, projectId); err != nil {
			return err
		}
		defer ReleaseProjectPostingLock(tx, projectId)

		touchedCompositionIds, err := cascadeProjectItems(ctx, tx, projectId, item.Code, newUnitPrice, &summary)
		if err != nil {
			config.LogError(logger, "cascadeProject.go", "CascadeProjectItemPrice", "Phase items", item.Code, err)
			return err
		}
		if err := cascadeProjectCompositions(ctx, tx, touchedCompositionIds, &summary); err != nil {
			config.LogError(logger, "cascadeProject.go", "CascadeProjectItemPrice", "Phase compositions", touchedCompositionIds, err)
			return err
		}
		touchedStageIds, err := cascadeServices(ctx, tx, projectId, touchedCompositionIds, &summary)
		if err != nil {
			config.LogError(logger, "cascadeProject.go", "CascadeProjectItemPrice", "Phase services", touchedCompositionIds, err)
			return err
		}
		touchedBudgetIds, err := cascadeStages(ctx, tx, touchedStageIds, &summary)
		if err != nil {
			config.LogError(logger, "cascadeProject.go", "CascadeProjectItemPrice", "Phase stages", touchedStageIds, err)
			return err
		}
		if err := cascadeBudgets(ctx, tx, touchedBudgetIds, &summary); err != nil {
			config.LogError(logger, "cascadeProject.go", "CascadeProjectItemPrice", "Phase budgets", touchedBudgetIds, err)
			return err
		}

		return models.WriteCascadeEvent(tx, &models.CascadeEventRecord{
			ProjectId:            projectId,
			Origin:               models.CascadeOriginProject,
			ItemCode:             item.Code,
			ItemsUpdated:         summary.ItemsUpdated,
			CompositionsRecalced: summary.CompositionsRecalced,
			ServicesUpdated:      summary.ServicesUpdated,
			StagesRecalculated:   summary.StagesRecalculated,
			BudgetsRecalculated:  summary.BudgetsRecalculated,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"project_id":   projectId,
		"item_code":    item.Code,
		"items":        summary.ItemsUpdated,
		"compositions": summary.CompositionsRecalced,
		"services":     summary.ServicesUpdated,
		"stages":       summary.StagesRecalculated,
		"budgets":      summary.BudgetsRecalculated,
	}).Info("project price cascade completed")
	return &summary, nil
}

func cascadeProjectItems(ctx context.Context, tx *gorm.DB, projectId int, code string, newUnitPrice decimal.Decimal, summary *CascadeSummary) ([]int, error) {
	_, span := tracer.Start(ctx, "cascadeProjectItems")
	defer span.End()

	var siblings []*models.ProjectCompositionItem
	err := tx.Where("project_id = ? AND code = ?", projectId, code).
		Order("project_composition_id, id").Find(&siblings).Error
	if err != nil {
		return nil, err
	}

	var touched []int
	for _, sibling := range siblings {
		totalPrice := models.ItemTotal(sibling.Coefficient, newUnitPrice)
		err := tx.Model(&models.ProjectCompositionItem{}).Where("id = ?", sibling.ID).
			Updates(map[string]interface{}{
				"unit_price":  newUnitPrice,
				"total_price": totalPrice,
			}).Error
		if err != nil {
			return nil, err
		}
		summary.ItemsUpdated++
		if !containsInt(touched, sibling.ProjectCompositionId) {
			touched = append(touched, sibling.ProjectCompositionId)
		}
	}
	return touched, nil
}

func cascadeProjectCompositions(ctx context.Context, tx *gorm.DB, compositionIds []int, summary *CascadeSummary) error {
	_, span := tracer.Start(ctx, "cascadeProjectCompositions")
	defer span.End()

	for _, compositionId := range compositionIds {
		if _, err := recomputeProjectCompositionUnitCost(tx, compositionId); err != nil {
			return err
		}
		summary.CompositionsRecalced++
	}
	return nil
}

func cascadeServices(ctx context.Context, tx *gorm.DB, projectId int, compositionIds []int, summary *CascadeSummary) ([]int, error) {
	_, span := tracer.Start(ctx, "cascadeServices")
	defer span.End()

	var touchedStageIds []int
	for _, compositionId := range compositionIds {
		var composition models.ProjectComposition
		if err := tx.First(&composition, compositionId).Error; err != nil {
			return nil, err
		}
		var services []*models.BudgetService
		err := tx.Where("project_id = ? AND project_composition_id = ?", projectId, compositionId).
			Order("id").Find(&services).Error
		if err != nil {
			return nil, err
		}
		for _, service := range services {
			unitPrice := utils.Round2(composition.UnitCost)
			totalPrice := models.ServiceTotal(service.Quantity, unitPrice)
			err := tx.Model(&models.BudgetService{}).Where("id = ?", service.ID).
				Updates(map[string]interface{}{
					"unit_price":  unitPrice,
					"total_price": totalPrice,
				}).Error
			if err != nil {
				return nil, err
			}
			summary.ServicesUpdated++
			if !containsInt(touchedStageIds, service.StageId) {
				touchedStageIds = append(touchedStageIds, service.StageId)
			}
		}
	}
	return touchedStageIds, nil
}

func cascadeStages(ctx context.Context, tx *gorm.DB, stageIds []int, summary *CascadeSummary) ([]int, error) {
	_, span := tracer.Start(ctx, "cascadeStages")
	defer span.End()

	var touchedBudgetIds []int
	for _, stageId := range stageIds {
		stage, err := recalcStageTx(tx, stageId)
		if err != nil {
			return nil, err
		}
		summary.StagesRecalculated++
		if !containsInt(touchedBudgetIds, stage.BudgetId) {
			touchedBudgetIds = append(touchedBudgetIds, stage.BudgetId)
		}
	}
	return touchedBudgetIds, nil
}

func cascadeBudgets(ctx context.Context, tx *gorm.DB, budgetIds []int, summary *CascadeSummary) error {
	_, span := tracer.Start(ctx, "cascadeBudgets")
	defer span.End()

	for _, budgetId := range budgetIds {
		if _, err := recalcBudgetTx(tx, budgetId); err != nil {
			return err
		}
		summary.BudgetsRecalculated++
	}
	return nil
}

func recomputeProjectCompositionUnitCost(tx *gorm.DB, compositionId int) (decimal.Decimal, error) {
	var items []*models.ProjectCompositionItem
	if err := tx.Where("project_composition_id = ?", compositionId).Find(&items).Error; err != nil {
		return decimal.Zero, err
	}
	totals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		totals = append(totals, item.TotalPrice)
	}
	unitCost := models.SumItemTotals(totals)
	err := tx.Model(&models.ProjectComposition{}).Where("id = ?", compositionId).
		Update("unit_cost", unitCost).Error
	if err != nil {
		return decimal.Zero, err
	}
	return unitCost, nil
}
