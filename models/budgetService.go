package models

import (
	"context"
	"errors"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
)

// BudgetService is a priced line inside a stage. Its unit price comes from
// one of three places, captured by ServiceReference: a manual figure typed by
// the user, a global catalog composition (legacy rows created before
// materialization existed), or a project composition clone. ProjectId is
// denormalized so cascade queries stay single-table.
type BudgetService struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	StageId              int             `gorm:"index;not null" json:"stage_id" binding:"required"`
	ProjectId            int             `gorm:"index;not null" json:"project_id"`
	Description          string          `gorm:"size:255;not null" json:"description" binding:"required"`
	Unit                 string          `gorm:"size:10" json:"unit"`
	Quantity             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice            decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"unit_price"`
	TotalPrice           decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"total_price"`
	Status               ServiceStatus   `gorm:"type:enum('Pending','InProgress','Completed');default:'Pending'" json:"status"`
	CompositionId        *int            `gorm:"index;default:null" json:"composition_id"`
	ProjectCompositionId *int            `gorm:"index;default:null" json:"project_composition_id"`
}

type NewBudgetService struct {
	StageId              int              `json:"stage_id" binding:"required"`
	Description          string           `json:"description" binding:"required"`
	Unit                 string           `json:"unit"`
	Quantity             decimal.Decimal  `json:"quantity"`
	UnitPrice            *decimal.Decimal `json:"unit_price"`
	Status               *ServiceStatus   `json:"status"`
	CompositionId        *int             `json:"composition_id"`
	ProjectCompositionId *int             `json:"project_composition_id"`
}

type UpdateBudgetServiceInput struct {
	Description          *string          `json:"description"`
	Unit                 *string          `json:"unit"`
	Quantity             *decimal.Decimal `json:"quantity"`
	UnitPrice            *decimal.Decimal `json:"unit_price"`
	Status               *ServiceStatus   `json:"status"`
	CompositionId        *int             `json:"composition_id"`
	ProjectCompositionId *int             `json:"project_composition_id"`
}

// ServiceReferenceKind tells where a service's unit price is sourced from.
type ServiceReferenceKind int

const (
	ReferenceManual ServiceReferenceKind = iota
	ReferenceGlobalComposition
	ReferenceProjectComposition
)

type ServiceReference struct {
	Kind          ServiceReferenceKind
	CompositionId int
}

// Reference resolves the price source of a service. A project reference wins
// over a lingering global one; rows with neither are manual.
func (s *BudgetService) Reference() ServiceReference {
	if s.ProjectCompositionId != nil {
		return ServiceReference{Kind: ReferenceProjectComposition, CompositionId: *s.ProjectCompositionId}
	}
	if s.CompositionId != nil {
		return ServiceReference{Kind: ReferenceGlobalComposition, CompositionId: *s.CompositionId}
	}
	return ServiceReference{Kind: ReferenceManual}
}

// ServiceTotal computes a service line total at money precision.
func ServiceTotal(quantity decimal.Decimal, unitPrice decimal.Decimal) decimal.Decimal {
	return utils.Round2(quantity.Mul(unitPrice))
}

func (input *NewBudgetService) Validate(ctx context.Context) error {
	if input.Quantity.IsNegative() {
		return errors.New("quantity cannot be negative")
	}
	if input.UnitPrice != nil && input.UnitPrice.IsNegative() {
		return errors.New("unit price cannot be negative")
	}
	if input.CompositionId != nil && input.ProjectCompositionId != nil {
		return errors.New("service cannot reference both a catalog and a project composition")
	}
	if input.Status != nil {
		if _, err := ParseServiceStatus(string(*input.Status)); err != nil {
			return err
		}
	}
	return utils.ValidateResourceId[Stage](ctx, 0, input.StageId)
}

func GetBudgetService(ctx context.Context, id int) (*BudgetService, error) {
	db := config.GetDB()
	var result BudgetService
	if err := db.WithContext(ctx).First(&result, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetBudgetServices(ctx context.Context, stageId int) ([]*BudgetService, error) {
	db := config.GetDB()
	var results []*BudgetService
	if err := db.WithContext(ctx).Where("stage_id = ?", stageId).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetServicesByProjectComposition returns the services priced off one project
// composition, i.e. the third phase of the project cascade.
func GetServicesByProjectComposition(ctx context.Context, projectId int, projectCompositionId int) ([]*BudgetService, error) {
	db := config.GetDB()
	var results []*BudgetService
	err := db.WithContext(ctx).
		Where("project_id = ? AND project_composition_id = ?", projectId, projectCompositionId).
		Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
