package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"github.com/shopspring/decimal"
)

// Seeds a small demo catalog so a fresh environment has compositions to
// materialize. Safe to rerun: compositions that already exist are skipped.
func main() {
	migrate := flag.Bool("migrate", true, "Run AutoMigrate before seeding")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if *migrate {
		models.MigrateTable()
	}

	ctx := context.Background()
	seeded := 0
	for _, input := range demoCatalog() {
		if _, err := models.GetCompositionByCode(ctx, input.Code); err == nil {
			continue
		}
		if _, err := models.CreateComposition(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "seed %s: %v\n", input.Code, err)
			os.Exit(1)
		}
		seeded++
	}
	fmt.Printf("seeded %d compositions (states: %v)\n", seeded, models.SupportedStates())
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func demoCatalog() []*models.NewComposition {
	return []*models.NewComposition{
		{
			Code:        "CF-09004",
			Description: "Thermal insulation of exposed slab",
			Unit:        "m2",
			Category:    "Insulation",
			Items: []models.NewCompositionItem{
				{Code: "INS-00164", Kind: models.ItemKindMaterial, Description: "Insulation board 50mm", Unit: "m2", Coefficient: dec("1"), UnitPrice: dec("115")},
			},
		},
		{
			Code:        "CF-08001",
			Description: "Structural concrete fck 30 MPa, pumped",
			Unit:        "m3",
			Category:    "Structure",
			Items: []models.NewCompositionItem{
				{Code: "MAT-00101", Kind: models.ItemKindMaterial, Description: "Ready-mix concrete fck 30", Unit: "m3", Coefficient: dec("1.05"), UnitPrice: dec("412.50")},
				{Code: "LAB-00032", Kind: models.ItemKindLabor, Description: "Concrete finisher", Unit: "h", Coefficient: dec("0.8"), UnitPrice: dec("18.40")},
				{Code: "EQP-00007", Kind: models.ItemKindEquipment, Description: "Concrete pump rental", Unit: "h", Coefficient: dec("0.12"), UnitPrice: dec("310")},
			},
		},
		{
			Code:        "CF-08002",
			Description: "Masonry wall, ceramic block 14cm",
			Unit:        "m2",
			Category:    "Masonry",
			Items: []models.NewCompositionItem{
				{Code: "MAT-00215", Kind: models.ItemKindMaterial, Description: "Ceramic block 14x19x39", Unit: "un", Coefficient: dec("13"), UnitPrice: dec("2.85")},
				{Code: "MAT-00220", Kind: models.ItemKindMaterial, Description: "Laying mortar", Unit: "kg", Coefficient: dec("9.5"), UnitPrice: dec("0.62")},
				{Code: "LAB-00011", Kind: models.ItemKindLabor, Description: "Bricklayer", Unit: "h", Coefficient: dec("1.1"), UnitPrice: dec("21.30")},
				{Code: "LAB-00012", Kind: models.ItemKindLabor, Description: "Helper", Unit: "h", Coefficient: dec("1.1"), UnitPrice: dec("15.70")},
			},
		},
		{
			// Authored without a line-item breakdown; priced directly.
			Code:        "CF-09900",
			Description: "Final cleaning, delivered unit",
			Unit:        "m2",
			Category:    "Services",
			UnitCost:    dec("8.90"),
		},
	}
}
