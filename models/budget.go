package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Budget is the top-level cost container of a project. TotalDirectCost and
// TotalWithBdi are cached derived values; the recalculation functions are
// their only writers.
type Budget struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProjectId       int             `gorm:"index;not null" json:"project_id" binding:"required"`
	Name            string          `gorm:"size:255;not null" json:"name" binding:"required"`
	BdiPercentage   decimal.Decimal `gorm:"type:decimal(5,2);default:25" json:"bdi_percentage"`
	TotalDirectCost decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_direct_cost"`
	TotalWithBdi    decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_with_bdi"`
	Stages          []Stage         `json:"stages"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBudget struct {
	ProjectId     int              `json:"project_id" binding:"required"`
	Name          string           `json:"name" binding:"required"`
	BdiPercentage *decimal.Decimal `json:"bdi_percentage"`
}

// ApplyBdi applies the overhead/profit markup to a direct cost.
func ApplyBdi(totalDirectCost decimal.Decimal, bdiPercentage decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(bdiPercentage.Div(decimal.NewFromInt(100)))
	return utils.Round2(totalDirectCost.Mul(factor))
}

func (input *NewBudget) validate(ctx context.Context) error {
	if err := utils.ValidateResourceId[Project](ctx, 0, input.ProjectId); err != nil {
		return err
	}
	if input.BdiPercentage != nil && input.BdiPercentage.IsNegative() {
		return errors.New("bdi percentage cannot be negative")
	}
	return nil
}

func CreateBudget(ctx context.Context, input *NewBudget) (*Budget, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	bdi := decimal.NewFromInt(utils.DefaultBdiPercent)
	if input.BdiPercentage != nil {
		bdi = *input.BdiPercentage
	}
	budget := Budget{
		ProjectId:     input.ProjectId,
		Name:          input.Name,
		BdiPercentage: bdi,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&budget).Error; err != nil {
		return nil, err
	}
	return &budget, nil
}

// UpdateBudgetBdi changes the markup only; the caller is expected to run the
// budget recalculation right after so TotalWithBdi stays consistent.
func UpdateBudgetBdi(ctx context.Context, id int, bdiPercentage decimal.Decimal) (*Budget, error) {
	if bdiPercentage.IsNegative() {
		return nil, errors.New("bdi percentage cannot be negative")
	}
	db := config.GetDB()
	var budget Budget
	if err := db.WithContext(ctx).First(&budget, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	err := db.WithContext(ctx).Model(&budget).Update("bdi_percentage", bdiPercentage).Error
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

func GetBudget(ctx context.Context, id int) (*Budget, error) {
	db := config.GetDB()
	var result Budget
	err := db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("stages.order_index") }).
		Preload("Stages.Services").
		First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetBudgets(ctx context.Context, projectId int) ([]*Budget, error) {
	db := config.GetDB()
	var results []*Budget
	if err := db.WithContext(ctx).Where("project_id = ?", projectId).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func DeleteBudget(ctx context.Context, id int) (*Budget, error) {
	db := config.GetDB()
	var result Budget
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stageIds []int
		if err := tx.Model(&Stage{}).Where("budget_id = ?", id).Pluck("id", &stageIds).Error; err != nil {
			return err
		}
		if len(stageIds) > 0 {
			if err := tx.Where("stage_id IN ?", stageIds).Delete(&BudgetService{}).Error; err != nil {
				return err
			}
			if err := tx.Where("budget_id = ?", id).Delete(&Stage{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&result).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
