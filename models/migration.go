package models

import (
	"log"

	"bitbucket.org/construdata/obras_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Composition{}, &CompositionItem{}, &StatePrice{},
		&Project{}, &ProjectComposition{}, &ProjectCompositionItem{},
		&Budget{}, &Stage{}, &BudgetService{},
		&CascadeEventRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
