package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicies(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicies(t *testing.T) {
	path := writePolicies(t, `
policies:
  - persona_id: impatient_shopper
    decisions:
      browse:
        options:
          view: 0.5
          skip: 0.3
          add: 0.2
    data:
      product_ids: [SKU001, SKU002]
  - persona_id: power_user
    decisions: {}
`)

	policies, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Load() got %d policies", len(policies))
	}

	shopper := policies["impatient_shopper"]
	if shopper == nil {
		t.Fatal("impatient_shopper not found")
	}
	weights, ok := shopper.Decisions["browse"]
	if !ok {
		t.Fatal("browse decision not found")
	}
	if weights.Options["view"] != 0.5 {
		t.Errorf("view weight = %v", weights.Options["view"])
	}
	if len(shopper.Data["product_ids"]) != 2 {
		t.Errorf("data product_ids = %v", shopper.Data["product_ids"])
	}
}

func TestLoadRejectsNegativeWeight(t *testing.T) {
	path := writePolicies(t, `
policies:
  - persona_id: broken
    decisions:
      browse:
        options:
          view: -0.5
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for negative weight")
	}
}

func TestLoadRejectsMissingPersonaID(t *testing.T) {
	path := writePolicies(t, `
policies:
  - decisions: {}
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for missing persona_id")
	}
}
