package repositories

import "fmt"

// GiftCardErrorCode enumerates failure reasons for gift card operations.
type GiftCardErrorCode string

const (
	// GiftCardErrorUnknown represents an unspecified failure.
	GiftCardErrorUnknown GiftCardErrorCode = "gift_card_unknown"
	// GiftCardErrorInvalidInput indicates the caller supplied invalid arguments.
	GiftCardErrorInvalidInput GiftCardErrorCode = "gift_card_invalid_input"
	// GiftCardErrorDisabled indicates the card has been disabled by support.
	GiftCardErrorDisabled GiftCardErrorCode = "gift_card_disabled"
	// GiftCardErrorDepleted indicates the card balance is already zero.
	GiftCardErrorDepleted GiftCardErrorCode = "gift_card_depleted"
	// GiftCardErrorCodeTaken indicates the generated code already belongs to
	// another card; the caller should retry with a fresh code.
	GiftCardErrorCodeTaken GiftCardErrorCode = "gift_card_code_taken"
)

// GiftCardError wraps gift card failures with machine readable codes.
type GiftCardError struct {
	Op      string
	Code    GiftCardErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *GiftCardError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *GiftCardError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewGiftCardError constructs a typed gift card error.
func NewGiftCardError(code GiftCardErrorCode, message string, err error) *GiftCardError {
	if message == "" {
		message = string(code)
	}
	return &GiftCardError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
