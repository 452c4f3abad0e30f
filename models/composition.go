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

// Composition is a global unit-cost recipe. Its UnitCost is derived: once the
// composition owns items, UnitCost always equals the rounded sum of their
// totals and is only ever written by catalog maintenance or the cascade
// engine.
type Composition struct {
	ID          int               `gorm:"primary_key" json:"id"`
	Code        string            `gorm:"uniqueIndex;size:20;not null" json:"code" binding:"required"`
	Description string            `gorm:"size:255;not null" json:"description" binding:"required"`
	Unit        string            `gorm:"size:10" json:"unit"`
	UnitCost    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Category    string            `gorm:"size:100" json:"category"`
	Subcategory string            `gorm:"size:100" json:"subcategory"`
	Items       []CompositionItem `json:"items"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewComposition struct {
	Code        string               `json:"code" binding:"required"`
	Description string               `json:"description" binding:"required"`
	Unit        string               `json:"unit"`
	UnitCost    decimal.Decimal      `json:"unit_cost"`
	Category    string               `json:"category"`
	Subcategory string               `json:"subcategory"`
	Items       []NewCompositionItem `json:"items"`
}

func (input *NewComposition) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[Composition](ctx, 0, "code", input.Code, id); err != nil {
		return err
	}
	for _, item := range input.Items {
		if item.UnitPrice.IsNegative() {
			return errors.New("item unit price cannot be negative")
		}
		if item.Coefficient.IsNegative() {
			return errors.New("item coefficient cannot be negative")
		}
	}
	if input.UnitCost.IsNegative() {
		return errors.New("unit cost cannot be negative")
	}
	return nil
}

// SumItemTotals is the invariant-defining reducer for composition unit cost.
func SumItemTotals(totals []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range totals {
		sum = sum.Add(t)
	}
	return utils.Round4(sum)
}

func CreateComposition(ctx context.Context, input *NewComposition) (*Composition, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	composition := Composition{
		Code:        input.Code,
		Description: input.Description,
		Unit:        input.Unit,
		UnitCost:    utils.Round4(input.UnitCost),
		Category:    input.Category,
		Subcategory: input.Subcategory,
	}
	totals := make([]decimal.Decimal, 0, len(input.Items))
	for _, itemInput := range input.Items {
		total := ItemTotal(itemInput.Coefficient, itemInput.UnitPrice)
		totals = append(totals, total)
		composition.Items = append(composition.Items, CompositionItem{
			Code:        itemInput.Code,
			Kind:        itemInput.Kind,
			Description: itemInput.Description,
			Unit:        itemInput.Unit,
			Coefficient: itemInput.Coefficient,
			UnitPrice:   itemInput.UnitPrice,
			TotalPrice:  total,
		})
	}
	// compositions authored without a line-item breakdown keep their manual
	// unit cost
	if len(composition.Items) > 0 {
		composition.UnitCost = SumItemTotals(totals)
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&composition).Error; err != nil {
			return err
		}
		if _, err := RefreshStatePrices(tx, composition.ID, composition.UnitCost); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &composition, nil
}

func UpdateComposition(ctx context.Context, id int, input *NewComposition) (*Composition, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var composition Composition
	if err := db.WithContext(ctx).First(&composition, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	// classification/description maintenance only; prices move through the
	// cascade engine
	err := db.WithContext(ctx).Model(&composition).Updates(map[string]interface{}{
		"Code":        input.Code,
		"Description": input.Description,
		"Unit":        input.Unit,
		"Category":    input.Category,
		"Subcategory": input.Subcategory,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Composition](id); err != nil {
		return nil, err
	}

	return &composition, nil
}

func DeleteComposition(ctx context.Context, id int) (*Composition, error) {

	db := config.GetDB()
	var result Composition

	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	// legacy services may still point at a global composition
	var count int64
	if err := db.WithContext(ctx).Model(&BudgetService{}).Where("composition_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by budget service")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// items are owned exclusively by their composition
		if err := tx.Where("composition_id = ?", id).Delete(&CompositionItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("composition_id = ?", id).Delete(&StatePrice{}).Error; err != nil {
			return err
		}
		return tx.Delete(&result).Error
	})
	if err != nil {
		return nil, err
	}
	if err := utils.RemoveRedis[Composition](id); err != nil {
		return nil, err
	}
	return &result, nil
}

func GetComposition(ctx context.Context, id int) (*Composition, error) {

	result, err := utils.RetrieveRedis[Composition](id)
	if err != nil {
		return nil, err
	}

	if result == nil {
		db := config.GetDB()
		if err := db.WithContext(ctx).Preload("Items").First(&result, id).Error; err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := utils.StoreRedis[Composition](result, id); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func GetCompositionByCode(ctx context.Context, code string) (*Composition, error) {
	db := config.GetDB()
	var result Composition
	if err := db.WithContext(ctx).Preload("Items").Where("code = ?", code).First(&result).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetCompositions(ctx context.Context, category *string, code *string) ([]*Composition, error) {

	db := config.GetDB()
	var results []*Composition

	dbCtx := db.WithContext(ctx).Preload("Items")
	if category != nil && len(*category) > 0 {
		dbCtx = dbCtx.Where("category = ?", *category)
	}
	if code != nil && len(*code) > 0 {
		dbCtx = dbCtx.Where("code LIKE ?", "%"+*code+"%")
	}
	if err := dbCtx.Order("code").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
