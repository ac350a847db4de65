package domain

import "errors"

// Kind groups errors by how a caller is expected to react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindInventory     Kind = "inventory"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
)

// Error is a typed domain failure. Sentinels below are compared with errors.Is;
// callers add detail by wrapping them.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrEmptyCart           = &Error{KindValidation, "EMPTY_CART", "cart is empty"}
	ErrInvalidQuantity     = &Error{KindValidation, "INVALID_QUANTITY", "quantity must be a positive integer"}
	ErrMealNotFound        = &Error{KindValidation, "MEAL_NOT_FOUND", "meal not found"}
	ErrExceedsMaxPerPerson = &Error{KindValidation, "EXCEEDS_MAX_PER_PERSON", "quantity exceeds the per-person limit"}
	ErrMealUnavailable     = &Error{KindValidation, "MEAL_UNAVAILABLE", "meal is not available"}
	ErrRequiresCoItem      = &Error{KindValidation, "REQUIRES_CO_ITEM", "meal must be ordered together with another meal"}
	ErrInvalidCode         = &Error{KindValidation, "INVALID_CODE", "transaction code is invalid"}
	ErrInvalidMeal         = &Error{KindValidation, "INVALID_MEAL", "meal definition is invalid"}
	ErrInvalidAmount       = &Error{KindValidation, "INVALID_AMOUNT", "claimed amount is invalid"}

	ErrOutOfStock = &Error{KindInventory, "OUT_OF_STOCK", "not enough units in stock"}

	ErrInvalidState      = &Error{KindState, "INVALID_STATE", "order is not in a state that allows this action, refresh and retry"}
	ErrDuplicatePayment  = &Error{KindState, "DUPLICATE_PAYMENT", "order already has a payment awaiting review or verified"}
	ErrDuplicateRequest  = &Error{KindState, "DUPLICATE_REQUEST", "duplicate request"}
	ErrOrderNotPlaceable = &Error{KindState, "ORDER_NOT_PLACEABLE", "payment cannot be attached to this order"}

	ErrForbidden       = &Error{KindAuthorization, "FORBIDDEN", "caller is not allowed to perform this action"}
	ErrUnauthenticated = &Error{KindAuthorization, "UNAUTHENTICATED", "caller identity is missing"}

	ErrOrderNotFound   = &Error{KindNotFound, "ORDER_NOT_FOUND", "order not found"}
	ErrPaymentNotFound = &Error{KindNotFound, "PAYMENT_NOT_FOUND", "payment not found"}
)

// KindOf reports the kind of the first domain error in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// CodeOf returns the machine-readable code of err, or "INTERNAL".
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL"
}
