package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/workflow"
)

// Maintenance tool: rerun the self-healing budget recalculation across one
// budget or every budget of a project. --force-materialize wipes and rebuilds
// a project's composition clones first, for projects whose state was
// corrected after the original materialization.
func main() {
	budgetID := flag.Int("budget-id", 0, "Recalculate a single budget")
	projectID := flag.Int("project-id", 0, "Recalculate every budget of a project")
	forceMaterialize := flag.Bool("force-materialize", false, "Delete and rebuild the project's composition clones before recalculating (requires --project-id)")
	bestEffort := flag.Bool("best-effort", false, "Run without a wrapping transaction; reports partial progress on failure")
	flag.Parse()

	if *budgetID == 0 && *projectID == 0 {
		fmt.Fprintln(os.Stderr, "--budget-id or --project-id is required")
		os.Exit(1)
	}
	if *forceMaterialize && *projectID == 0 {
		fmt.Fprintln(os.Stderr, "--force-materialize requires --project-id")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()

	if *forceMaterialize {
		project, err := models.GetProject(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load project: %v\n", err)
			os.Exit(1)
		}
		if err := dropMaterialization(ctx, *projectID); err != nil {
			fmt.Fprintf(os.Stderr, "drop materialization: %v\n", err)
			os.Exit(1)
		}
		created, err := workflow.Materialize(ctx, *projectID, project.Uf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "materialize: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("re-materialized project %d (%s): %d compositions\n", *projectID, project.Uf, created)
	}

	var budgetIds []int
	if *budgetID > 0 {
		budgetIds = append(budgetIds, *budgetID)
	} else {
		budgets, err := models.GetBudgets(ctx, *projectID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load budgets: %v\n", err)
			os.Exit(1)
		}
		for _, b := range budgets {
			budgetIds = append(budgetIds, b.ID)
		}
	}

	failed := 0
	for _, id := range budgetIds {
		if *bestEffort {
			budget, summary, err := workflow.RecalculateBudgetBestEffort(ctx, id)
			if err != nil {
				failed++
				var partial *workflow.PartialCascadeError
				if errors.As(err, &partial) {
					fmt.Fprintf(os.Stderr, "budget %d: %v\n", id, partial)
				} else {
					fmt.Fprintf(os.Stderr, "budget %d: %v\n", id, err)
				}
				continue
			}
			fmt.Printf("budget %d: direct=%s with_bdi=%s (services=%d stages=%d)\n",
				id, budget.TotalDirectCost, budget.TotalWithBdi, summary.ServicesUpdated, summary.StagesRecalculated)
			continue
		}
		budget, err := workflow.RecalculateBudget(ctx, id)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "budget %d: %v\n", id, err)
			continue
		}
		fmt.Printf("budget %d: direct=%s with_bdi=%s\n", id, budget.TotalDirectCost, budget.TotalWithBdi)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// dropMaterialization removes a project's composition clones so Materialize
// starts from a clean slate. Service references survive; the follow-up
// recalculation treats dangling references as manual lines until re-linked.
func dropMaterialization(ctx context.Context, projectId int) error {
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("project_id = ?", projectId).Delete(&models.ProjectCompositionItem{}).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Where("project_id = ?", projectId).Delete(&models.ProjectComposition{}).Error
}
