package models

import "testing"

func intPtr(v int) *int {
	return &v
}

func TestServiceReference(t *testing.T) {
	manual := BudgetService{}
	if ref := manual.Reference(); ref.Kind != ReferenceManual {
		t.Errorf("no foreign keys should resolve to manual, got %v", ref.Kind)
	}

	global := BudgetService{CompositionId: intPtr(7)}
	if ref := global.Reference(); ref.Kind != ReferenceGlobalComposition || ref.CompositionId != 7 {
		t.Errorf("legacy global reference not resolved: %+v", ref)
	}

	project := BudgetService{ProjectCompositionId: intPtr(9)}
	if ref := project.Reference(); ref.Kind != ReferenceProjectComposition || ref.CompositionId != 9 {
		t.Errorf("project reference not resolved: %+v", ref)
	}

	// A lingering legacy key never shadows the project reference.
	both := BudgetService{CompositionId: intPtr(7), ProjectCompositionId: intPtr(9)}
	if ref := both.Reference(); ref.Kind != ReferenceProjectComposition || ref.CompositionId != 9 {
		t.Errorf("project reference must win over legacy, got %+v", ref)
	}
}

func TestParseServiceStatus(t *testing.T) {
	for _, s := range []string{"Pending", "InProgress", "Completed"} {
		if _, err := ParseServiceStatus(s); err != nil {
			t.Errorf("ParseServiceStatus(%q): %v", s, err)
		}
	}
	if _, err := ParseServiceStatus("Done"); err == nil {
		t.Error("unknown status should fail")
	}
}

func TestParseItemKind(t *testing.T) {
	cases := map[string]ItemKind{
		"M":         ItemKindMaterial,
		"Material":  ItemKindMaterial,
		"L":         ItemKindLabor,
		"Labor":     ItemKindLabor,
		"E":         ItemKindEquipment,
		"Equipment": ItemKindEquipment,
	}
	for in, want := range cases {
		got, err := ParseItemKind(in)
		if err != nil || got != want {
			t.Errorf("ParseItemKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseItemKind("X"); err == nil {
		t.Error("unknown kind should fail")
	}
}
