package workflow

import (
	"testing"

	"bitbucket.org/construdata/obras_backend/models"
	"bitbucket.org/construdata/obras_backend/utils"
	"github.com/shopspring/decimal"
)

// These tests are intentionally DB-free: they run the cascade arithmetic over
// in-memory rows using the exact reducers the engine persists with, so any
// change to a rounding rule or phase formula fails here before it reaches a
// database.

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

type memItem struct {
	code        string
	coefficient decimal.Decimal
	unitPrice   decimal.Decimal
	totalPrice  decimal.Decimal
}

type memComposition struct {
	unitCost decimal.Decimal
	items    []*memItem
}

// applyCascade mirrors the five engine phases over in-memory state.
func applyCascade(comp *memComposition, code string, newUnitPrice, quantity, bdi decimal.Decimal) (serviceUnit, serviceTotal, stageTotal, direct, withBdi decimal.Decimal) {
	for _, item := range comp.items {
		if item.code != code {
			continue
		}
		item.unitPrice = newUnitPrice
		item.totalPrice = models.ItemTotal(item.coefficient, newUnitPrice)
	}
	totals := make([]decimal.Decimal, 0, len(comp.items))
	for _, item := range comp.items {
		totals = append(totals, item.totalPrice)
	}
	comp.unitCost = models.SumItemTotals(totals)

	serviceUnit = utils.Round2(comp.unitCost)
	serviceTotal = models.ServiceTotal(quantity, serviceUnit)
	stageTotal = models.SumServiceTotals([]decimal.Decimal{serviceTotal})
	direct = models.SumStageTotals([]decimal.Decimal{stageTotal})
	withBdi = models.ApplyBdi(direct, bdi)
	return
}

func TestCascadeArithmeticSingleItem(t *testing.T) {
	// One item, coefficient 1, priced 115 inside a composition referenced by
	// a 50-unit service. Raising the price to 130 must land 130/130/130/6500
	// on item total, unit cost, service unit price and service total.
	comp := &memComposition{
		unitCost: dec(t, "115"),
		items: []*memItem{
			{code: "INS-00164", coefficient: dec(t, "1"), unitPrice: dec(t, "115"), totalPrice: dec(t, "115")},
		},
	}

	serviceUnit, serviceTotal, stageTotal, direct, withBdi := applyCascade(
		comp, "INS-00164", dec(t, "130"), dec(t, "50"), dec(t, "25"))

	if !comp.items[0].totalPrice.Equal(dec(t, "130")) {
		t.Errorf("item total = %s, want 130", comp.items[0].totalPrice)
	}
	if !comp.unitCost.Equal(dec(t, "130")) {
		t.Errorf("unit cost = %s, want 130", comp.unitCost)
	}
	if !serviceUnit.Equal(dec(t, "130")) {
		t.Errorf("service unit price = %s, want 130", serviceUnit)
	}
	if !serviceTotal.Equal(dec(t, "6500")) {
		t.Errorf("service total = %s, want 6500", serviceTotal)
	}
	if !stageTotal.Equal(dec(t, "6500")) || !direct.Equal(dec(t, "6500")) {
		t.Errorf("stage/budget totals = %s/%s, want 6500", stageTotal, direct)
	}
	if !withBdi.Equal(dec(t, "8125")) {
		t.Errorf("total with BDI = %s, want 8125", withBdi)
	}
}

func TestCascadeArithmeticMultiItem(t *testing.T) {
	// Only items with the changed code move; the others keep their totals.
	comp := &memComposition{
		items: []*memItem{
			{code: "MAT-00101", coefficient: dec(t, "1.05"), unitPrice: dec(t, "412.50"), totalPrice: dec(t, "433.125")},
			{code: "LAB-00032", coefficient: dec(t, "0.8"), unitPrice: dec(t, "18.40"), totalPrice: dec(t, "14.72")},
		},
	}

	_, _, _, _, _ = applyCascade(comp, "LAB-00032", dec(t, "20"), dec(t, "1"), dec(t, "25"))

	if !comp.items[0].totalPrice.Equal(dec(t, "433.125")) {
		t.Errorf("untouched item moved: %s", comp.items[0].totalPrice)
	}
	if !comp.items[1].totalPrice.Equal(dec(t, "16")) {
		t.Errorf("changed item total = %s, want 16", comp.items[1].totalPrice)
	}
	if !comp.unitCost.Equal(dec(t, "449.125")) {
		t.Errorf("unit cost = %s, want 449.125", comp.unitCost)
	}
}

func TestCascadeArithmeticIdempotent(t *testing.T) {
	comp := &memComposition{
		items: []*memItem{
			{code: "A", coefficient: dec(t, "2.5"), unitPrice: dec(t, "10"), totalPrice: dec(t, "25")},
		},
	}
	_, t1, _, _, b1 := applyCascade(comp, "A", dec(t, "12.345"), dec(t, "3"), dec(t, "25"))
	_, t2, _, _, b2 := applyCascade(comp, "A", dec(t, "12.345"), dec(t, "3"), dec(t, "25"))

	if t1.String() != t2.String() || b1.String() != b2.String() {
		t.Errorf("repeating the same cascade changed totals: %s/%s vs %s/%s", t1, b1, t2, b2)
	}
}

func TestMaterializationAdjustment(t *testing.T) {
	// Cloned items carry the state-adjusted price; coefficients never change.
	coefficient := dec(t, "13")
	base := dec(t, "2.85")
	adjusted := models.AdjustUnitPrice(base, "CE")
	if !adjusted.Equal(dec(t, "2.622")) {
		t.Fatalf("adjusted price = %s, want 2.622", adjusted)
	}
	total := models.ItemTotal(coefficient, adjusted)
	if !total.Equal(dec(t, "34.086")) {
		t.Errorf("adjusted total = %s, want 34.086", total)
	}
}
