package env

import "testing"

func TestGetFallsBackWhenBlank(t *testing.T) {
	t.Setenv("LEDGER_TEST_VALUE", "  ")
	if got := Get("LEDGER_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("LEDGER_TEST_VALUE", "set")
	if got := Get("LEDGER_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}
