package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{
			name:  "plain address",
			email: "user@test.com",
			valid: true,
		},
		{
			name:  "subdomain",
			email: "first.last@mail.example.com.br",
			valid: true,
		},
		{
			name:  "missing at",
			email: "user.test.com",
			valid: false,
		},
		{
			name:  "no domain segment",
			email: "user@test",
			valid: false,
		},
		{
			name:  "whitespace inside",
			email: "us er@test.com",
			valid: false,
		},
		{
			name:  "empty string",
			email: "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidEmail(tt.email)
			if got != tt.valid {
				t.Fatalf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  User@Test.COM "); got != "user@test.com" {
		t.Fatalf("NormalizeEmail = %q, want %q", got, "user@test.com")
	}
}

func TestIsValidChargeID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{id: "12345", valid: true},
		{id: "0012", valid: true},
		{id: "abc", valid: false},
		{id: "12a45", valid: false},
		{id: "-5", valid: false},
		{id: "1.5", valid: false},
		{id: "0", valid: false},
		{id: "", valid: false},
		{id: "١٢٣", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := IsValidChargeID(tt.id)
			if got != tt.valid {
				t.Fatalf("IsValidChargeID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestIsAmountInRange(t *testing.T) {
	min := decimal.RequireFromString("1.00")
	max := decimal.RequireFromString("10.00")

	tests := []struct {
		amount string
		valid  bool
	}{
		{amount: "1.00", valid: true},
		{amount: "2.00", valid: true},
		{amount: "10.00", valid: true},
		{amount: "0.99", valid: false},
		{amount: "10.01", valid: false},
		{amount: "0", valid: false},
		{amount: "-3", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got := IsAmountInRange(decimal.RequireFromString(tt.amount), min, max)
			if got != tt.valid {
				t.Fatalf("IsAmountInRange(%s) = %v, want %v", tt.amount, got, tt.valid)
			}
		})
	}
}
