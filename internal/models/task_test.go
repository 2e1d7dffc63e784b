package models

import (
	"testing"
	"time"
)

func TestTaskBudgets(t *testing.T) {
	base := TaskSpec{}
	if got := base.StepBudget(15); got != 15 {
		t.Errorf("expected suite default 15, got %d", got)
	}
	if got := base.TimeBudget(time.Minute); got != time.Minute {
		t.Errorf("expected suite default 1m, got %s", got)
	}

	override := TaskSpec{MaxSteps: 40, TimeBudgetSec: 30}
	if got := override.StepBudget(15); got != 40 {
		t.Errorf("expected override 40, got %d", got)
	}
	if got := override.TimeBudget(time.Minute); got != 30*time.Second {
		t.Errorf("expected override 30s, got %s", got)
	}
}

func TestCatalogFilter(t *testing.T) {
	cat := &Catalog{
		Tasks: []TaskSpec{
			{ID: "c1", Domain: "chrome"},
			{ID: "g1", Domain: "gimp"},
			{ID: "c2", Domain: "chrome"},
			{ID: "c3", Domain: "chrome"},
		},
	}

	all := cat.Filter("", 0)
	if len(all) != 4 {
		t.Errorf("expected all 4 tasks, got %d", len(all))
	}

	chrome := cat.Filter("chrome", 0)
	if len(chrome) != 3 {
		t.Errorf("expected 3 chrome tasks, got %d", len(chrome))
	}
	if chrome[0].ID != "c1" || chrome[2].ID != "c3" {
		t.Errorf("filter must preserve order, got %v", chrome)
	}

	capped := cat.Filter("chrome", 2)
	if len(capped) != 2 {
		t.Errorf("expected cap at 2, got %d", len(capped))
	}
}

func TestActionTerminal(t *testing.T) {
	tests := []struct {
		typ      string
		terminal bool
	}{
		{ActionDone, true},
		{ActionFail, true},
		{ActionWait, false},
		{ActionCommand, false},
	}
	for _, tt := range tests {
		if got := (Action{Type: tt.typ}).Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.typ, got, tt.terminal)
		}
	}
}
