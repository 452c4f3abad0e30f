package models

import (
	"context"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Stage is a named phase of a budget (foundations, finishes, ...).
// TotalCost is derived from its services; Percentage is an informational
// budget-share weight and never feeds the cascade.
type Stage struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BudgetId   int             `gorm:"index;not null" json:"budget_id" binding:"required"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	OrderIndex int             `gorm:"default:0" json:"order"`
	Percentage decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"percentage"`
	TotalCost  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_cost"`
	Services   []BudgetService `json:"services"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStage struct {
	BudgetId   int             `json:"budget_id" binding:"required"`
	Name       string          `json:"name" binding:"required"`
	OrderIndex int             `json:"order"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SumServiceTotals reduces service totals into a stage total at money
// precision.
func SumServiceTotals(totals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t)
	}
	return utils.Round2(sum)
}

// SumStageTotals reduces stage totals into a budget direct cost.
func SumStageTotals(totals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t)
	}
	return utils.Round2(sum)
}

func CreateStage(ctx context.Context, input *NewStage) (*Stage, error) {
	if err := utils.ValidateResourceId[Budget](ctx, 0, input.BudgetId); err != nil {
		return nil, err
	}
	stage := Stage{
		BudgetId:   input.BudgetId,
		Name:       input.Name,
		OrderIndex: input.OrderIndex,
		Percentage: input.Percentage,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&stage).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

func GetStage(ctx context.Context, id int) (*Stage, error) {
	db := config.GetDB()
	var result Stage
	if err := db.WithContext(ctx).Preload("Services").First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetStages(ctx context.Context, budgetId int) ([]*Stage, error) {
	db := config.GetDB()
	var results []*Stage
	err := db.WithContext(ctx).Preload("Services").
		Where("budget_id = ?", budgetId).Order("order_index, id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func DeleteStage(ctx context.Context, id int) (*Stage, error) {
	db := config.GetDB()
	var result Stage
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stage_id = ?", id).Delete(&BudgetService{}).Error; err != nil {
			return err
		}
		return tx.Delete(&result).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
