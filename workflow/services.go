package workflow

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service CRUD is orchestrated here rather than in models because every
// mutation must run the stage and budget recalculation in the same
// transaction: a committed service row with a stale stage total would break
// the aggregation invariant.

func CreateBudgetService(ctx context.Context, projectId int, input *models.NewBudgetService) (*models.BudgetService, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if err := input.Validate(ctx); err != nil {
		return nil, err
	}

	redisLock, _ := utils.ProjectLock(ctx, projectId, "service", "services.go", "CreateBudgetService")
	defer utils.ReleaseProjectLock(ctx, redisLock)

	var service models.BudgetService
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProjectPostingLock(tx, projectId); err != nil {
			return err
		}
		defer ReleaseProjectPostingLock(tx, projectId)

		stage, budget, err := resolveStageBudget(tx, projectId, input.StageId)
		if err != nil {
			return err
		}

		service = models.BudgetService{
			StageId:              stage.ID,
			ProjectId:            budget.ProjectId,
			Description:          input.Description,
			Unit:                 input.Unit,
			Quantity:             input.Quantity,
			Status:               models.ServiceStatusPending,
			CompositionId:        input.CompositionId,
			ProjectCompositionId: input.ProjectCompositionId,
		}
		if input.Status != nil {
			service.Status = *input.Status
		}

		unitPrice, err := resolveServiceUnitPrice(tx, projectId, &service, input.UnitPrice)
		if err != nil {
			return err
		}
		service.UnitPrice = unitPrice
		service.TotalPrice = models.ServiceTotal(service.Quantity, unitPrice)

		if err := tx.Create(&service).Error; err != nil {
			config.LogError(logger, "services.go", "CreateBudgetService", "Create", input, err)
			return err
		}
		return recalcUpward(tx, stage.ID, stage.BudgetId)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func UpdateBudgetService(ctx context.Context, projectId int, serviceId int, input *models.UpdateBudgetServiceInput) (*models.BudgetService, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	if input.Quantity != nil && input.Quantity.IsNegative() {
		return nil, utils.ErrorValidation
	}
	if input.UnitPrice != nil && input.UnitPrice.IsNegative() {
		return nil, utils.ErrorValidation
	}

	redisLock, _ := utils.ProjectLock(ctx, projectId, "service", "services.go", "UpdateBudgetService")
	defer utils.ReleaseProjectLock(ctx, redisLock)

	var service models.BudgetService
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProjectPostingLock(tx, projectId); err != nil {
			return err
		}
		defer ReleaseProjectPostingLock(tx, projectId)

		if err := tx.First(&service, serviceId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if service.ProjectId != projectId {
			return utils.ErrorForbidden
		}

		if input.Description != nil {
			service.Description = *input.Description
		}
		if input.Unit != nil {
			service.Unit = *input.Unit
		}
		if input.Quantity != nil {
			service.Quantity = *input.Quantity
		}
		if input.Status != nil {
			if _, err := models.ParseServiceStatus(string(*input.Status)); err != nil {
				return utils.ErrorValidation
			}
			service.Status = *input.Status
		}
		if input.ProjectCompositionId != nil {
			service.ProjectCompositionId = input.ProjectCompositionId
			service.CompositionId = nil
		} else if input.CompositionId != nil {
			service.CompositionId = input.CompositionId
			service.ProjectCompositionId = nil
		}

		unitPrice, err := resolveServiceUnitPrice(tx, projectId, &service, input.UnitPrice)
		if err != nil {
			return err
		}
		service.UnitPrice = unitPrice
		service.TotalPrice = models.ServiceTotal(service.Quantity, unitPrice)

		if err := tx.Save(&service).Error; err != nil {
			config.LogError(logger, "services.go", "UpdateBudgetService", "Save", serviceId, err)
			return err
		}

		var stage models.Stage
		if err := tx.First(&stage, service.StageId).Error; err != nil {
			return err
		}
		return recalcUpward(tx, stage.ID, stage.BudgetId)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func DeleteBudgetService(ctx context.Context, projectId int, serviceId int) (*models.BudgetService, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	redisLock, _ := utils.ProjectLock(ctx, projectId, "service", "services.go", "DeleteBudgetService")
	defer utils.ReleaseProjectLock(ctx, redisLock)

	var service models.BudgetService
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireProjectPostingLock(tx, projectId); err != nil {
			return err
		}
		defer ReleaseProjectPostingLock(tx, projectId)

		if err := tx.First(&service, serviceId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if service.ProjectId != projectId {
			return utils.ErrorForbidden
		}
		if err := tx.Delete(&models.BudgetService{}, serviceId).Error; err != nil {
			config.LogError(logger, "services.go", "DeleteBudgetService", "Delete", serviceId, err)
			return err
		}
		var stage models.Stage
		if err := tx.First(&stage, service.StageId).Error; err != nil {
			return err
		}
		return recalcUpward(tx, stage.ID, stage.BudgetId)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func resolveStageBudget(tx *gorm.DB, projectId int, stageId int) (*models.Stage, *models.Budget, error) {
	var stage models.Stage
	if err := tx.First(&stage, stageId).Error; err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}
	var budget models.Budget
	if err := tx.First(&budget, stage.BudgetId).Error; err != nil {
		return nil, nil, utils.ErrorRecordNotFound
	}
	if budget.ProjectId != projectId {
		return nil, nil, utils.ErrorForbidden
	}
	return &stage, &budget, nil
}

// resolveServiceUnitPrice prices a service from its reference: the current
// unit cost of the referenced composition, or the manual price for
// reference-free lines. Manual lines with no price keep their previous one.
func resolveServiceUnitPrice(tx *gorm.DB, projectId int, service *models.BudgetService, manualPrice *decimal.Decimal) (decimal.Decimal, error) {
	switch ref := service.Reference(); ref.Kind {
	case models.ReferenceProjectComposition:
		var composition models.ProjectComposition
		if err := tx.First(&composition, ref.CompositionId).Error; err != nil {
			return decimal.Zero, utils.ErrorRecordNotFound
		}
		if composition.ProjectId != projectId {
			return decimal.Zero, utils.ErrorForbidden
		}
		return utils.Round2(composition.UnitCost), nil
	case models.ReferenceGlobalComposition:
		var composition models.Composition
		if err := tx.First(&composition, ref.CompositionId).Error; err != nil {
			return decimal.Zero, utils.ErrorRecordNotFound
		}
		return utils.Round2(composition.UnitCost), nil
	default:
		if manualPrice != nil {
			return utils.Round2(*manualPrice), nil
		}
		return service.UnitPrice, nil
	}
}

func recalcUpward(tx *gorm.DB, stageId int, budgetId int) error {
	if _, err := recalcStageTx(tx, stageId); err != nil {
		return err
	}
	_, err := recalcBudgetTx(tx, budgetId)
	return err
}
