package domain

// Customer is supplied at checkout time and forwarded to the processor and
// ledger; it is never stored locally.
type Customer struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone,omitempty"`
}
