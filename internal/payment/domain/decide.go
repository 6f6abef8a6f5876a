package domain

import (
	"regexp"
	"strings"

	"github.com/smallbiznis/orderflow/internal/config"
	orderdomain "github.com/smallbiznis/orderflow/internal/order/domain"
)

// Decision is the reconciliation verdict for one event against one order.
type Decision struct {
	Outcome        Outcome
	ReviewRequired bool
	AmountMismatch bool
}

// Confirms reports whether the decision moves the order to confirmed.
func (d Decision) Confirms() bool { return d.Outcome == OutcomeConfirmed }

// Decide is total over every event, order status and policy. A nil order
// means no order could be correlated.
func Decide(event PaymentEvent, order *orderdomain.Order, policy config.PaymentPolicy) Decision {
	if event.Direction != DirectionCredit {
		return Decision{Outcome: OutcomeIgnored}
	}
	if order == nil {
		return Decision{Outcome: OutcomeUnmatched}
	}
	if order.Status.Paid() {
		return Decision{Outcome: OutcomeAlreadyProcessed}
	}
	if !order.Status.AwaitingConfirmation() {
		return Decision{Outcome: OutcomeIgnored}
	}

	mismatch := abs(order.Total-event.Amount) > maxInt64(policy.AmountTolerance, 0)
	if !mismatch {
		return Decision{Outcome: OutcomeConfirmed}
	}
	if strings.EqualFold(policy.MismatchPolicy, config.MismatchHold) {
		return Decision{Outcome: OutcomeHeldForReview, ReviewRequired: true, AmountMismatch: true}
	}
	return Decision{Outcome: OutcomeConfirmed, ReviewRequired: true, AmountMismatch: true}
}

var bareDigits = regexp.MustCompile(`\b(\d{10,19})\b`)

// ExtractToken pulls the order correlation token out of free text. It tries
// pattern first and falls back to the first bare run of 10 to 19 digits.
func ExtractToken(pattern *regexp.Regexp, text string) string {
	if pattern != nil {
		if m := pattern.FindStringSubmatch(text); len(m) > 1 {
			for _, group := range m[1:] {
				if group != "" {
					return group
				}
			}
		}
	}
	if m := bareDigits.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return ""
}

func abs(v int64) int64 {
	if v < 0 {
		// Negating MinInt64 overflows; treat it as an unbounded difference.
		if v == -v {
			return int64(^uint64(0) >> 1)
		}
		return -v
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
