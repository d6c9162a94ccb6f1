package payflow

import "github.com/mmeshcher/cvbuilder-pay/internal/model"

// Outcome описывает, как контроллер реагирует на результат опроса.
type Outcome int

const (
	// OutcomeContinue означает, что опрос продолжается.
	OutcomeContinue Outcome = iota
	// OutcomeApproved означает, что платёж подтверждён.
	OutcomeApproved
	// OutcomeFailed означает, что платёж окончательно отклонён.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeFailed:
		return "failed"
	default:
		return "continue"
	}
}

// Classify разделяет результаты опроса на временные и окончательные.
// Ошибка запроса статуса всегда временная, как и not_found: платёж мог ещё не
// появиться в платёжной системе.
func Classify(status model.ChargeStatus, err error) Outcome {
	if err != nil {
		return OutcomeContinue
	}

	switch status {
	case model.ChargeStatusApproved:
		return OutcomeApproved
	case model.ChargeStatusRejected:
		return OutcomeFailed
	default:
		return OutcomeContinue
	}
}
