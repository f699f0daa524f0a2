/*
recoupment.go - Deduction planner for outstanding salary advances

PURPOSE:
  Given a gross salary and the user's active advances, decide how much to
  withhold from each advance. Pure: no I/O, no clock, no logging.

ORDER:
  Advances are served strictly oldest-disbursed first (ties by id). The
  planner sorts its input itself; callers cannot change the order.

STRATEGIES (available = gross - deducted so far):
  full:   min(remaining, available)
  spread: min(ceil(remaining / max(1, installments - made)), available)
  custom: never deducted automatically (see ApplyManual)

EXAMPLE:
  gross 300,000
  X (oldest) full, remaining 100,000 -> 100,000
  Y          full, remaining 500,000 -> 200,000
  total 300,000, net 0

BOUND:
  Total <= gross holds by construction. A plan that breaks it is a defect
  and surfaces as RecoupmentCalculationError.
*/
package payments

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AdvanceBalance is the planner's view of one active advance.
type AdvanceBalance struct {
	AdvanceID            string
	Strategy             Strategy
	NumberOfInstallments int
	RemainingBalance     Amount
	RecoupmentsMade      int
	DisbursedAt          time.Time
}

// Deduction is the amount withheld for one advance.
type Deduction struct {
	AdvanceID string
	Amount    Amount
	Manual    bool
}

type Plan struct {
	Deductions     []Deduction
	TotalDeduction Amount
}

// RecoupmentEngine computes deduction plans.
type RecoupmentEngine struct{}

// Plan allocates gross across advances, oldest first.
func (RecoupmentEngine) Plan(gross Amount, advances []AdvanceBalance) (Plan, error) {
	var plan Plan
	if gross <= 0 {
		return plan, nil
	}

	ordered := make([]AdvanceBalance, len(advances))
	copy(ordered, advances)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].DisbursedAt.Equal(ordered[j].DisbursedAt) {
			return ordered[i].DisbursedAt.Before(ordered[j].DisbursedAt)
		}
		return ordered[i].AdvanceID < ordered[j].AdvanceID
	})

	for _, adv := range ordered {
		if plan.TotalDeduction >= gross {
			break
		}
		available := gross - plan.TotalDeduction

		var amount Amount
		switch adv.Strategy {
		case StrategyFull:
			amount = minAmount(adv.RemainingBalance, available)
		case StrategySpread:
			left := adv.NumberOfInstallments - adv.RecoupmentsMade
			if left < 1 {
				left = 1
			}
			amount = minAmount(ceilDiv(adv.RemainingBalance, left), available)
		default:
			continue
		}
		if amount <= 0 {
			continue
		}

		plan.Deductions = append(plan.Deductions, Deduction{AdvanceID: adv.AdvanceID, Amount: amount})
		plan.TotalDeduction += amount
	}

	if plan.TotalDeduction > gross {
		return Plan{}, &RecoupmentCalculationError{Gross: gross, Total: plan.TotalDeduction}
	}
	return plan, nil
}

// ApplyManual appends human-entered deductions for custom-strategy advances
// after the automatic plan, within what is left of gross.
func (RecoupmentEngine) ApplyManual(plan Plan, gross Amount, manual []Deduction, advances []AdvanceBalance) (Plan, error) {
	if len(manual) == 0 {
		return plan, nil
	}
	byID := make(map[string]AdvanceBalance, len(advances))
	for _, a := range advances {
		byID[a.AdvanceID] = a
	}

	seen := make(map[string]bool, len(manual))
	out := Plan{
		Deductions:     append([]Deduction(nil), plan.Deductions...),
		TotalDeduction: plan.TotalDeduction,
	}
	for _, d := range manual {
		adv, ok := byID[d.AdvanceID]
		switch {
		case !ok:
			return Plan{}, fmt.Errorf("%w: advance %s is not an active advance of this user", ErrInvalidDeduction, d.AdvanceID)
		case adv.Strategy != StrategyCustom:
			return Plan{}, fmt.Errorf("%w: advance %s uses %s strategy", ErrInvalidDeduction, d.AdvanceID, adv.Strategy)
		case seen[d.AdvanceID]:
			return Plan{}, fmt.Errorf("%w: advance %s listed twice", ErrInvalidDeduction, d.AdvanceID)
		case d.Amount <= 0 || d.Amount > adv.RemainingBalance:
			return Plan{}, fmt.Errorf("%w: %d against remaining %d", ErrInvalidDeduction, d.Amount, adv.RemainingBalance)
		case out.TotalDeduction+d.Amount > gross:
			return Plan{}, fmt.Errorf("%w: deductions would exceed gross %d", ErrInvalidDeduction, gross)
		}
		seen[d.AdvanceID] = true
		out.Deductions = append(out.Deductions, Deduction{AdvanceID: d.AdvanceID, Amount: d.Amount, Manual: true})
		out.TotalDeduction += d.Amount
	}
	return out, nil
}

func minAmount(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// ceilDiv returns ceil(a / n) for a >= 0, n >= 1.
func ceilDiv(a Amount, n int) Amount {
	q := decimal.NewFromInt(int64(a)).Div(decimal.NewFromInt(int64(n))).Ceil()
	return Amount(q.IntPart())
}
