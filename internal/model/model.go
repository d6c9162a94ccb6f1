// Package model содержит доменные сущности платёжного шлюза конструктора резюме.
package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ChargeStatus описывает статус платежа в платёжной системе.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusInProcess ChargeStatus = "in_process"
	ChargeStatusApproved  ChargeStatus = "approved"
	ChargeStatusRejected  ChargeStatus = "rejected"
	ChargeStatusNotFound  ChargeStatus = "not_found"
)

// ParseChargeStatus приводит статус платёжной системы к доменному статусу.
// Неизвестные значения считаются ожидающими.
func ParseChargeStatus(raw string) ChargeStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return ChargeStatusPending
	case "in_process", "authorized", "in_mediation":
		return ChargeStatusInProcess
	case "approved":
		return ChargeStatusApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return ChargeStatusRejected
	case "not_found":
		return ChargeStatusNotFound
	default:
		return ChargeStatusPending
	}
}

// IsTerminal сообщает, является ли статус конечным.
func (s ChargeStatus) IsTerminal() bool {
	switch s {
	case ChargeStatusApproved, ChargeStatusRejected, ChargeStatusNotFound:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода статуса платежа.
// Из конечного статуса перейти нельзя, ожидающие статусы могут сменять друг друга.
func (s ChargeStatus) CanTransition(next ChargeStatus) bool {
	if s == next {
		return true
	}
	return !s.IsTerminal()
}

// Charge описывает платёж Pix, созданный через платёжную систему.
type Charge struct {
	ID           string
	Amount       decimal.Decimal
	PayerEmail   string
	Status       ChargeStatus
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

// Advance обновляет статус платежа, если переход допустим, и сообщает, изменился ли он.
func (c *Charge) Advance(next ChargeStatus) bool {
	if c.Status == next || !c.Status.CanTransition(next) {
		return false
	}
	c.Status = next
	return true
}
