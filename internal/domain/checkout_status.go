package domain

type CheckoutState string

const (
	CheckoutStateIdle          CheckoutState = "IDLE"
	CheckoutStateIntentCreated CheckoutState = "INTENT_CREATED"
	CheckoutStateConfirmed     CheckoutState = "CONFIRMED"
	CheckoutStateCleared       CheckoutState = "CLEARED"
	CheckoutStateFailed        CheckoutState = "FAILED"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutStateIdle:          {CheckoutStateIntentCreated, CheckoutStateFailed},
	CheckoutStateIntentCreated: {CheckoutStateConfirmed, CheckoutStateFailed},
	CheckoutStateConfirmed:     {CheckoutStateCleared},
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateCleared || s == CheckoutStateFailed
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}

func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
