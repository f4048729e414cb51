package checkout

import "errors"

var (
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrUnknownProvider   = errors.New("unknown payment provider")
	ErrIllegalTransition = errors.New("illegal transition of checkout state")
	ErrAttemptNotFound   = errors.New("checkout attempt not found")
	// ErrCheckoutInProgress rejects a second checkout of a session while one is running.
	ErrCheckoutInProgress = errors.New("checkout already in progress for this session")
)

// IsValidation reports errors that reject a checkout before any provider call.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrUnknownProvider) || errors.Is(err, ErrCheckoutInProgress)
}
