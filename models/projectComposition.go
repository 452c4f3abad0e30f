package models

import (
	"context"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
)

// ProjectComposition is the project-scoped copy-on-write clone of a global
// composition. SourceId points back at the global composition for
// traceability only; there is no live binding, so later catalog edits never
// reach existing projects.
type ProjectComposition struct {
	ID          int                      `gorm:"primary_key" json:"id"`
	ProjectId   int                      `gorm:"index;not null" json:"project_id"`
	SourceId    int                      `gorm:"index;default:null" json:"source_id"`
	Code        string                   `gorm:"index;size:20;not null" json:"code"`
	Description string                   `gorm:"size:255;not null" json:"description"`
	Unit        string                   `gorm:"size:10" json:"unit"`
	UnitCost    decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	Category    string                   `gorm:"size:100" json:"category"`
	Subcategory string                   `gorm:"size:100" json:"subcategory"`
	Items       []ProjectCompositionItem `json:"items"`
	CreatedAt   time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProjectComposition(ctx context.Context, projectId int, id int) (*ProjectComposition, error) {
	db := config.GetDB()
	var result ProjectComposition
	if err := db.WithContext(ctx).Preload("Items").First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if result.ProjectId != projectId {
		return nil, utils.ErrorForbidden
	}
	return &result, nil
}

func GetProjectCompositions(ctx context.Context, projectId int, code *string, category *string) ([]*ProjectComposition, error) {
	db := config.GetDB()
	var results []*ProjectComposition

	dbCtx := db.WithContext(ctx).Preload("Items").Where("project_id = ?", projectId)
	if code != nil && len(*code) > 0 {
		dbCtx = dbCtx.Where("code LIKE ?", "%"+*code+"%")
	}
	if category != nil && len(*category) > 0 {
		dbCtx = dbCtx.Where("category = ?", *category)
	}
	if err := dbCtx.Order("code").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
