package workflow

import (
	"context"
	"errors"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecalcStage re-reads the stage's persisted services and rewrites its total.
// Idempotent: a second call with no intervening change writes the same value.
func RecalcStage(ctx context.Context, stageId int) (*models.Stage, error) {
	db := config.GetDB()
	var stage *models.Stage
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stage, err = recalcStageTx(tx, stageId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stage, nil
}

// RecalcBudget re-reads the budget's persisted stages, rewrites the direct
// cost and reapplies the current BDI markup.
func RecalcBudget(ctx context.Context, budgetId int) (*models.Budget, error) {
	db := config.GetDB()
	var budget *models.Budget
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		budget, err = recalcBudgetTx(tx, budgetId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return budget, nil
}

func recalcStageTx(tx *gorm.DB, stageId int) (*models.Stage, error) {
	var stage models.Stage
	if err := tx.First(&stage, stageId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	var services []*models.BudgetService
	if err := tx.Where("stage_id = ?", stageId).Find(&services).Error; err != nil {
		return nil, err
	}
	totals := make([]decimal.Decimal, 0, len(services))
	for _, service := range services {
		totals = append(totals, service.TotalPrice)
	}
	stage.TotalCost = models.SumServiceTotals(totals)
	if err := tx.Model(&models.Stage{}).Where("id = ?", stageId).Update("total_cost", stage.TotalCost).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

func recalcBudgetTx(tx *gorm.DB, budgetId int) (*models.Budget, error) {
	var budget models.Budget
	if err := tx.First(&budget, budgetId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	var stages []*models.Stage
	if err := tx.Where("budget_id = ?", budgetId).Find(&stages).Error; err != nil {
		return nil, err
	}
	totals := make([]decimal.Decimal, 0, len(stages))
	for _, stage := range stages {
		totals = append(totals, stage.TotalCost)
	}
	budget.TotalDirectCost = models.SumStageTotals(totals)
	budget.TotalWithBdi = models.ApplyBdi(budget.TotalDirectCost, budget.BdiPercentage)
	err := tx.Model(&models.Budget{}).Where("id = ?", budgetId).
		Updates(map[string]interface{}{
			"total_direct_cost": budget.TotalDirectCost,
			"total_with_bdi":    budget.TotalWithBdi,
		}).Error
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// RecalculateBudget is the repair entry point: it rebuilds every referenced
// service price from the composition's current items rather than the cached
// unit cost, so it heals any drift in the derived columns. Manual lines keep
// their price. Atomic and safely repeatable.
func RecalculateBudget(ctx context.Context, budgetId int) (*models.Budget, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	ctx, span := tracer.Start(ctx, "RecalculateBudget")
	defer span.End()

	summary := CascadeSummary{}
	var budget *models.Budget
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		budget, err = recalculateBudgetOn(tx, budgetId, &summary)
		return err
	})
	if err != nil {
		config.LogError(logger, "recalc.go", "RecalculateBudget", "Repair", budgetId, err)
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"budget_id":    budgetId,
		"compositions": summary.CompositionsRecalced,
		"services":     summary.ServicesUpdated,
		"stages":       summary.StagesRecalculated,
	}).Info("budget repair completed")
	return budget, nil
}

// RecalculateBudgetBestEffort runs the same repair without a wrapping
// transaction. Used by the maintenance CLI on very large budgets; a mid-loop
// failure surfaces a PartialCascadeError with the counts applied so far, and
// re-running the repair finishes the job.
func RecalculateBudgetBestEffort(ctx context.Context, budgetId int) (*models.Budget, *CascadeSummary, error) {
	db := config.GetDB()
	summary := CascadeSummary{}
	budget, err := recalculateBudgetOn(db.WithContext(ctx), budgetId, &summary)
	if err != nil {
		return nil, &summary, &PartialCascadeError{Summary: summary, Err: err}
	}
	return budget, &summary, nil
}

func recalculateBudgetOn(tx *gorm.DB, budgetId int, summary *CascadeSummary) (*models.Budget, error) {
	var budget models.Budget
	if err := tx.First(&budget, budgetId).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	var stages []*models.Stage
	if err := tx.Where("budget_id = ?", budgetId).Order("order_index, id").Find(&stages).Error; err != nil {
		return nil, err
	}

	healedCompositionIds := []int{}
	for _, stage := range stages {
		var services []*models.BudgetService
		if err := tx.Where("stage_id = ?", stage.ID).Order("id").Find(&services).Error; err != nil {
			return nil, err
		}
		for _, service := range services {
			ref := service.Reference()
			if ref.Kind != models.ReferenceProjectComposition {
				continue
			}
			unitCost, err := groundTruthUnitCost(tx, ref.CompositionId)
			if err != nil {
				// Dangling reference (clone deleted out of band): leave the
				// line's price as authored, like a manual line.
				if errors.Is(err, gorm.ErrRecordNotFound) {
					continue
				}
				return nil, err
			}
			if !containsInt(healedCompositionIds, ref.CompositionId) {
				err := tx.Model(&models.ProjectComposition{}).Where("id = ?", ref.CompositionId).
					Update("unit_cost", unitCost).Error
				if err != nil {
					return nil, err
				}
				healedCompositionIds = append(healedCompositionIds, ref.CompositionId)
				summary.CompositionsRecalced++
			}
			unitPrice := utils.Round2(unitCost)
			totalPrice := models.ServiceTotal(service.Quantity, unitPrice)
			err = tx.Model(&models.BudgetService{}).Where("id = ?", service.ID).
				Updates(map[string]interface{}{
					"unit_price":  unitPrice,
					"total_price": totalPrice,
				}).Error
			if err != nil {
				return nil, err
			}
			summary.ServicesUpdated++
		}
		if _, err := recalcStageTx(tx, stage.ID); err != nil {
			return nil, err
		}
		summary.StagesRecalculated++
	}

	result, err := recalcBudgetTx(tx, budgetId)
	if err != nil {
		return nil, err
	}
	summary.BudgetsRecalculated++
	return result, nil
}

// groundTruthUnitCost recomputes a project composition's unit cost from its
// items' coefficients and unit prices, ignoring every cached total on the way.
// Compositions without items keep their stored unit cost (manual pricing).
func groundTruthUnitCost(tx *gorm.DB, projectCompositionId int) (decimal.Decimal, error) {
	var items []*models.ProjectCompositionItem
	if err := tx.Where("project_composition_id = ?", projectCompositionId).Find(&items).Error; err != nil {
		return decimal.Zero, err
	}
	if len(items) == 0 {
		var composition models.ProjectComposition
		if err := tx.First(&composition, projectCompositionId).Error; err != nil {
			return decimal.Zero, err
		}
		return composition.UnitCost, nil
	}
	totals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		totals = append(totals, models.ItemTotal(item.Coefficient, item.UnitPrice))
	}
	return models.SumItemTotals(totals), nil
}
