package models

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
)

// CompositionItem is the indivisible priced unit of a global composition.
// `Code` is the propagation key: every item sharing a code models the same
// physical material/labor/equipment, so a catalog price change is universal
// for that code. `Coefficient` is fixed at authoring time and never touched
// by a cascade.
type CompositionItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CompositionId int             `gorm:"index;not null" json:"composition_id"`
	Code          string          `gorm:"index;size:20;not null" json:"code" binding:"required"`
	Kind          ItemKind        `gorm:"type:enum('M','L','E');default:M" json:"kind"`
	Description   string          `gorm:"size:255" json:"description"`
	Unit          string          `gorm:"size:10" json:"unit"`
	Coefficient   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"coefficient"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
}

type NewCompositionItem struct {
	Code        string          `json:"code" binding:"required"`
	Kind        ItemKind        `json:"kind" binding:"required"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Coefficient decimal.Decimal `json:"coefficient" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ItemTotal computes coefficient x unitPrice at item precision.
func ItemTotal(coefficient, unitPrice decimal.Decimal) decimal.Decimal {
	return utils.Round4(coefficient.Mul(unitPrice))
}

func GetCompositionItem(ctx context.Context, id int) (*CompositionItem, error) {
	db := config.GetDB()
	var result CompositionItem
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// GetCompositionItemsByCode returns the catalog-wide propagation set for a code.
// `code` must be indexed for this to stay tractable at catalog scale.
func GetCompositionItemsByCode(ctx context.Context, code string) ([]*CompositionItem, error) {
	db := config.GetDB()
	var results []*CompositionItem
	err := db.WithContext(ctx).Where("code = ?", code).
		Order("composition_id, id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
