package checkout

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-agent-checkout.git/internal/money"
)

// ReapprovalRequiredError reports that the merchant's current price no
// longer matches the frozen receipt. The purchase was not executed; the
// caller re-runs request-approval and approve at the new price.
type ReapprovalRequiredError struct {
	CheckoutID    string
	OriginalTotal money.Money
	NewTotal      money.Money
}

func (e *ReapprovalRequiredError) Error() string {
	return fmt.Sprintf("checkout %s: price changed since approval (%s -> %s), re-approval required",
		e.CheckoutID, e.OriginalTotal, e.NewTotal)
}

// AsReapprovalRequired unwraps err into a *ReapprovalRequiredError if it is one.
func AsReapprovalRequired(err error) (*ReapprovalRequiredError, bool) {
	var re *ReapprovalRequiredError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
