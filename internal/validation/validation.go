// Package validation содержит функции валидации входных данных платёжного шлюза.
package validation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail проверяет, что строка похожа на адрес электронной почты.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeEmail приводит адрес к виду, в котором он передаётся платёжной системе.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidChargeID проверяет, что идентификатор платежа является положительным целым числом.
func IsValidChargeID(id string) bool {
	if id == "" {
		return false
	}

	nonZero := false
	for i := 0; i < len(id); i++ {
		ch := id[i]
		if ch < '0' || ch > '9' {
			return false
		}
		if ch != '0' {
			nonZero = true
		}
	}

	return nonZero
}

// IsAmountInRange проверяет, что сумма положительна и лежит в диапазоне [min, max] включительно.
func IsAmountInRange(amount, min, max decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.GreaterThanOrEqual(min) && amount.LessThanOrEqual(max)
}
