package models

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
)

// ProjectCompositionItem carries the state-adjusted clone of a catalog item.
// ProjectId is denormalized onto the row so the project-scoped propagation
// query ("all items with this code in this project") is a single indexed
// lookup.
type ProjectCompositionItem struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	ProjectCompositionId int             `gorm:"index;not null" json:"project_composition_id"`
	ProjectId            int             `gorm:"index:idx_project_items_code;not null" json:"project_id"`
	Code                 string          `gorm:"index:idx_project_items_code;size:20;not null" json:"code"`
	Kind                 ItemKind        `gorm:"type:enum('M','L','E');default:M" json:"kind"`
	Description          string          `gorm:"size:255" json:"description"`
	Unit                 string          `gorm:"size:10" json:"unit"`
	Coefficient          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"coefficient"`
	UnitPrice            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
}

func GetProjectCompositionItem(ctx context.Context, id int) (*ProjectCompositionItem, error) {
	db := config.GetDB()
	var result ProjectCompositionItem
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// GetProjectCompositionItemsByCode returns the propagation set for a code,
// strictly scoped to one project.
func GetProjectCompositionItemsByCode(ctx context.Context, projectId int, code string) ([]*ProjectCompositionItem, error) {
	db := config.GetDB()
	var results []*ProjectCompositionItem
	err := db.WithContext(ctx).Where("project_id = ? AND code = ?", projectId, code).
		Order("project_composition_id, id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
