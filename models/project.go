package models

import (
	"context"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
)

// Project scopes a price-isolated copy of the catalog. Uf is the
// address-derived state code supplied by the provisioning layer; it drives
// the one-time price adjustment at materialization and is never re-applied
// afterwards.
type Project struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Uf        string    `gorm:"size:2;not null" json:"uf"`
	City      string    `gorm:"size:100" json:"city"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProject struct {
	Name string `json:"name" binding:"required"`
	Uf   string `json:"uf" binding:"required,len=2"`
	City string `json:"city"`
}

func CreateProject(ctx context.Context, input *NewProject) (*Project, error) {
	project := Project{
		Name: input.Name,
		Uf:   input.Uf,
		City: input.City,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

func GetProject(ctx context.Context, id int) (*Project, error) {
	db := config.GetDB()
	var result Project
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetProjects(ctx context.Context) ([]*Project, error) {
	db := config.GetDB()
	var results []*Project
	if err := db.WithContext(ctx).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// IsProjectMaterialized is the materializer's sole idempotence guard.
func IsProjectMaterialized(ctx context.Context, projectId int) (bool, error) {
	count, err := utils.ResourceCountWhere[ProjectComposition](ctx, projectId, "1 = 1")
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
