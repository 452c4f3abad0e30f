package workflow

import "fmt"

// CascadeSummary counts the records touched by one cascade invocation, in
// propagation order. Catalog cascades only ever fill the first two fields.
type CascadeSummary struct {
	ItemsUpdated         int `json:"items_updated"`
	CompositionsRecalced int `json:"compositions_recalculated"`
	ServicesUpdated      int `json:"services_updated"`
	StagesRecalculated   int `json:"stages_recalculated"`
	BudgetsRecalculated  int `json:"budgets_recalculated"`
}

func (s CascadeSummary) Add(other CascadeSummary) CascadeSummary {
	return CascadeSummary{
		ItemsUpdated:         s.ItemsUpdated + other.ItemsUpdated,
		CompositionsRecalced: s.CompositionsRecalced + other.CompositionsRecalced,
		ServicesUpdated:      s.ServicesUpdated + other.ServicesUpdated,
		StagesRecalculated:   s.StagesRecalculated + other.StagesRecalculated,
		BudgetsRecalculated:  s.BudgetsRecalculated + other.BudgetsRecalculated,
	}
}

// PartialCascadeError reports a repair pass that failed partway through,
// carrying the counts accumulated before the failure so the caller can report
// "N of M updated" instead of a bare error. Transactional cascades never
// return it; they roll back whole.
type PartialCascadeError struct {
	Summary CascadeSummary
	Err     error
}

func (e *PartialCascadeError) Error() string {
	return fmt.Sprintf("cascade partially applied (items=%d compositions=%d services=%d stages=%d budgets=%d): %v",
		e.Summary.ItemsUpdated, e.Summary.CompositionsRecalced, e.Summary.ServicesUpdated,
		e.Summary.StagesRecalculated, e.Summary.BudgetsRecalculated, e.Err)
}

func (e *PartialCascadeError) Unwrap() error {
	return e.Err
}
