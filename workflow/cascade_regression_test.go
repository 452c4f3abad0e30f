package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/construdata/obras_backend/config"
	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"bitbucket.org/construdata/obras_backend/workflow"
	"github.com/shopspring/decimal"
)

// Cascade regression harness.
//
// Runs the engine end to end against a real MySQL, covering the scenarios the
// arithmetic tests cannot: propagation sets, project isolation, materializer
// idempotence and deletion recalc.
//
// Usage: INTEGRATION_TESTS=1 go test ./workflow -run Regression -v
// Requires DB_* env vars pointing at a disposable database.

var setupOnce sync.Once

func requireIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run DB regression tests")
	}
	setupOnce.Do(func() {
		config.ConnectDatabaseWithRetry()
		models.MigrateTable()
	})
	if config.GetDB() == nil {
		t.Fatal("database not initialized")
	}
	return context.Background()
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

// uniqueCode keeps reruns against the same database from tripping the unique
// catalog code constraint.
func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func seedComposition(t *testing.T, ctx context.Context, codePrefix, itemCode, price, coefficient string) *models.Composition {
	t.Helper()
	composition, err := models.CreateComposition(ctx, &models.NewComposition{
		Code:        uniqueCode(codePrefix),
		Description: "regression fixture",
		Unit:        "m2",
		Items: []models.NewCompositionItem{
			{Code: itemCode, Kind: models.ItemKindMaterial, Coefficient: mustDec(t, coefficient), UnitPrice: mustDec(t, price)},
		},
	})
	if err != nil {
		t.Fatalf("seed composition: %v", err)
	}
	return composition
}

func seedProject(t *testing.T, ctx context.Context, uf string) *models.Project {
	t.Helper()
	project, err := models.CreateProject(ctx, &models.NewProject{Name: "regression fixture", Uf: uf})
	if err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return project
}

func seedBudgetStage(t *testing.T, ctx context.Context, projectId int) (*models.Budget, *models.Stage) {
	t.Helper()
	budget, err := models.CreateBudget(ctx, &models.NewBudget{ProjectId: projectId, Name: "regression budget"})
	if err != nil {
		t.Fatalf("seed budget: %v", err)
	}
	stage, err := models.CreateStage(ctx, &models.NewStage{BudgetId: budget.ID, Name: "stage 1"})
	if err != nil {
		t.Fatalf("seed stage: %v", err)
	}
	return budget, stage
}

func findProjectItem(t *testing.T, ctx context.Context, projectId int, code string) *models.ProjectCompositionItem {
	t.Helper()
	items, err := models.GetProjectCompositionItemsByCode(ctx, projectId, code)
	if err != nil || len(items) == 0 {
		t.Fatalf("project item %s not found: %v", code, err)
	}
	return items[0]
}

func TestRegression_ProjectCascade(t *testing.T) {
	ctx := requireIntegration(t)

	itemCode := uniqueCode("INS")
	seedComposition(t, ctx, "CF-A", itemCode, "115", "1")
	project := seedProject(t, ctx, "SP")
	if _, err := workflow.Materialize(ctx, project.ID, "SP"); err != nil {
		t.Fatalf("materialize: %v", err)
	}

	item := findProjectItem(t, ctx, project.ID, itemCode)
	budget, stage := seedBudgetStage(t, ctx, project.ID)
	service, err := workflow.CreateBudgetService(ctx, project.ID, &models.NewBudgetService{
		StageId:              stage.ID,
		Description:          "insulation",
		Quantity:             mustDec(t, "50"),
		ProjectCompositionId: &item.ProjectCompositionId,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	summary, err := workflow.CascadeProjectItemPrice(ctx, project.ID, item.ID, mustDec(t, "130"))
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if summary.ItemsUpdated != 1 || summary.CompositionsRecalced != 1 || summary.ServicesUpdated != 1 ||
		summary.StagesRecalculated != 1 || summary.BudgetsRecalculated != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	updatedItem, err := models.GetProjectCompositionItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updatedItem.TotalPrice.Equal(mustDec(t, "130")) {
		t.Errorf("item total = %s, want 130", updatedItem.TotalPrice)
	}
	composition, err := models.GetProjectComposition(ctx, project.ID, item.ProjectCompositionId)
	if err != nil {
		t.Fatal(err)
	}
	if !composition.UnitCost.Equal(mustDec(t, "130")) {
		t.Errorf("unit cost = %s, want 130", composition.UnitCost)
	}
	updatedService, err := models.GetBudgetService(ctx, service.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updatedService.UnitPrice.Equal(mustDec(t, "130")) || !updatedService.TotalPrice.Equal(mustDec(t, "6500")) {
		t.Errorf("service = %s/%s, want 130/6500", updatedService.UnitPrice, updatedService.TotalPrice)
	}
	updatedBudget, err := models.GetBudget(ctx, budget.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updatedBudget.TotalDirectCost.Equal(mustDec(t, "6500")) {
		t.Errorf("direct cost = %s, want 6500", updatedBudget.TotalDirectCost)
	}
	if !updatedBudget.TotalWithBdi.Equal(mustDec(t, "8125")) {
		t.Errorf("with BDI = %s, want 8125", updatedBudget.TotalWithBdi)
	}
}

func TestRegression_GlobalIsolation(t *testing.T) {
	ctx := requireIntegration(t)

	itemCode := uniqueCode("MAT")
	composition := seedComposition(t, ctx, "CF-C", itemCode, "100", "2")
	projectA := seedProject(t, ctx, "SP")
	projectB := seedProject(t, ctx, "RJ")
	if _, err := workflow.Materialize(ctx, projectA.ID, "SP"); err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.Materialize(ctx, projectB.ID, "RJ"); err != nil {
		t.Fatal(err)
	}
	itemA := findProjectItem(t, ctx, projectA.ID, itemCode)
	itemB := findProjectItem(t, ctx, projectB.ID, itemCode)

	globalItems, err := models.GetCompositionItemsByCode(ctx, itemCode)
	if err != nil || len(globalItems) == 0 {
		t.Fatalf("global item missing: %v", err)
	}
	if _, err := workflow.CascadeGlobalItemPrice(ctx, globalItems[0].ID, mustDec(t, "999")); err != nil {
		t.Fatalf("global cascade: %v", err)
	}

	// Catalog moved...
	updatedGlobal, err := models.GetCompositionByCode(ctx, composition.Code)
	if err != nil {
		t.Fatal(err)
	}
	if !updatedGlobal.UnitCost.Equal(mustDec(t, "1998")) {
		t.Errorf("global unit cost = %s, want 1998", updatedGlobal.UnitCost)
	}

	// ...both projects did not.
	afterA, _ := models.GetProjectCompositionItem(ctx, itemA.ID)
	afterB, _ := models.GetProjectCompositionItem(ctx, itemB.ID)
	if !afterA.UnitPrice.Equal(itemA.UnitPrice) {
		t.Errorf("project A price moved: %s -> %s", itemA.UnitPrice, afterA.UnitPrice)
	}
	if !afterB.UnitPrice.Equal(itemB.UnitPrice) {
		t.Errorf("project B price moved: %s -> %s", itemB.UnitPrice, afterB.UnitPrice)
	}
}

func TestRegression_MaterializerIdempotence(t *testing.T) {
	ctx := requireIntegration(t)

	seedComposition(t, ctx, "CF-D", uniqueCode("ITM"), "10", "1")
	project := seedProject(t, ctx, "CE")

	if _, err := workflow.Materialize(ctx, project.ID, "CE"); err != nil {
		t.Fatal(err)
	}
	first, err := models.GetProjectCompositions(ctx, project.ID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := workflow.Materialize(ctx, project.ID, "CE"); err != nil {
		t.Fatal(err)
	}
	second, err := models.GetProjectCompositions(ctx, project.ID, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Errorf("re-materialization changed row count: %d -> %d", len(first), len(second))
	}
}

func TestRegression_ServiceDeletionRecalc(t *testing.T) {
	ctx := requireIntegration(t)

	project := seedProject(t, ctx, "SP")
	budget, stage := seedBudgetStage(t, ctx, project.ID)

	price1 := mustDec(t, "100.00")
	price2 := mustDec(t, "250.50")
	if _, err := workflow.CreateBudgetService(ctx, project.ID, &models.NewBudgetService{
		StageId: stage.ID, Description: "manual 1", Quantity: mustDec(t, "1"), UnitPrice: &price1,
	}); err != nil {
		t.Fatal(err)
	}
	victim, err := workflow.CreateBudgetService(ctx, project.ID, &models.NewBudgetService{
		StageId: stage.ID, Description: "manual 2", Quantity: mustDec(t, "1"), UnitPrice: &price2,
	})
	if err != nil {
		t.Fatal(err)
	}

	before, err := workflow.RecalcStage(ctx, stage.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !before.TotalCost.Equal(mustDec(t, "350.50")) {
		t.Fatalf("stage total = %s, want 350.50", before.TotalCost)
	}

	if _, err := workflow.DeleteBudgetService(ctx, project.ID, victim.ID); err != nil {
		t.Fatal(err)
	}
	after, err := models.GetStage(ctx, stage.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantDrop := victim.TotalPrice
	if !before.TotalCost.Sub(after.TotalCost).Equal(wantDrop) {
		t.Errorf("stage total dropped by %s, want %s", before.TotalCost.Sub(after.TotalCost), wantDrop)
	}

	updatedBudget, err := models.GetBudget(ctx, budget.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updatedBudget.TotalDirectCost.Equal(after.TotalCost) {
		t.Errorf("budget direct = %s, stage = %s", updatedBudget.TotalDirectCost, after.TotalCost)
	}
}

func TestRegression_RepairIdempotence(t *testing.T) {
	ctx := requireIntegration(t)

	itemCode := uniqueCode("REP")
	seedComposition(t, ctx, "CF-R", itemCode, "33.33", "3")
	project := seedProject(t, ctx, "MG")
	if _, err := workflow.Materialize(ctx, project.ID, "MG"); err != nil {
		t.Fatal(err)
	}
	item := findProjectItem(t, ctx, project.ID, itemCode)
	budget, stage := seedBudgetStage(t, ctx, project.ID)
	if _, err := workflow.CreateBudgetService(ctx, project.ID, &models.NewBudgetService{
		StageId:              stage.ID,
		Description:          "referenced line",
		Quantity:             mustDec(t, "7.5"),
		ProjectCompositionId: &item.ProjectCompositionId,
	}); err != nil {
		t.Fatal(err)
	}

	first, err := workflow.RecalculateBudget(ctx, budget.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := workflow.RecalculateBudget(ctx, budget.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.TotalDirectCost.String() != second.TotalDirectCost.String() ||
		first.TotalWithBdi.String() != second.TotalWithBdi.String() {
		t.Errorf("repair not idempotent: %s/%s vs %s/%s",
			first.TotalDirectCost, first.TotalWithBdi, second.TotalDirectCost, second.TotalWithBdi)
	}
}

func TestRegression_ForbiddenCrossProject(t *testing.T) {
	ctx := requireIntegration(t)

	itemCode := uniqueCode("FOR")
	seedComposition(t, ctx, "CF-F", itemCode, "10", "1")
	owner := seedProject(t, ctx, "SP")
	other := seedProject(t, ctx, "SP")
	if _, err := workflow.Materialize(ctx, owner.ID, "SP"); err != nil {
		t.Fatal(err)
	}
	item := findProjectItem(t, ctx, owner.ID, itemCode)

	_, err := workflow.CascadeProjectItemPrice(ctx, other.ID, item.ID, mustDec(t, "20"))
	if !errors.Is(err, utils.ErrorForbidden) {
		t.Fatalf("expected Forbidden for cross-project cascade, got %v", err)
	}
}
