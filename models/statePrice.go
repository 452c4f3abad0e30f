package models

import (
	"context"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Catalog prices are authored against the reference state (SP). Other states
// get a fixed multiplicative factor. Unknown states degrade to identity: a
// project in an unmapped state simply keeps reference prices.
var stateFactors = map[string]decimal.Decimal{
	"SP": decimal.NewFromInt(1),
	"RJ": decimal.RequireFromString("1.08"),
	"MG": decimal.RequireFromString("0.97"),
	"BA": decimal.RequireFromString("0.95"),
	"CE": decimal.RequireFromString("0.92"),
}

func StateFactor(uf string) decimal.Decimal {
	if factor, ok := stateFactors[uf]; ok {
		return factor
	}
	return decimal.NewFromInt(1)
}

func SupportedStates() []string {
	states := make([]string, 0, len(stateFactors))
	for uf := range stateFactors {
		states = append(states, uf)
	}
	return states
}

// AdjustUnitPrice maps a reference-state unit price to the target state,
// at item precision (4 decimal places).
func AdjustUnitPrice(basePrice decimal.Decimal, uf string) decimal.Decimal {
	return utils.Round4(basePrice.Mul(StateFactor(uf)))
}

// AdjustDisplayPrice is the 2-decimal variant for composition-level
// aggregates shown to users.
func AdjustDisplayPrice(basePrice decimal.Decimal, uf string) decimal.Decimal {
	return utils.Round2(basePrice.Mul(StateFactor(uf)))
}

// StatePrice is the cached per-state unit cost of a global composition,
// refreshed whenever a catalog cascade recomputes the composition. Used only
// for catalog browsing; materialization recomputes from items.
type StatePrice struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CompositionId int             `gorm:"index:idx_state_prices_comp_uf,unique;not null" json:"composition_id"`
	Uf            string          `gorm:"index:idx_state_prices_comp_uf,unique;size:2;not null" json:"uf"`
	UnitCost      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
}

// RefreshStatePrices upserts the cached per-state rows for a composition
// from its current unit cost.
func RefreshStatePrices(tx *gorm.DB, compositionId int, unitCost decimal.Decimal) (int, error) {
	rows := make([]StatePrice, 0, len(stateFactors))
	for uf := range stateFactors {
		rows = append(rows, StatePrice{
			CompositionId: compositionId,
			Uf:            uf,
			UnitCost:      AdjustUnitPrice(unitCost, uf),
		})
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "composition_id"}, {Name: "uf"}},
		DoUpdates: clause.AssignmentColumns([]string{"unit_cost"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func GetStatePrices(ctx context.Context, compositionId int) ([]*StatePrice, error) {
	db := config.GetDB()
	var results []*StatePrice
	err := db.WithContext(ctx).Where("composition_id = ?", compositionId).
		Order("uf").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
