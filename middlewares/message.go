package middlewares

// Messages are the canned error texts returned to clients.
var Messages = struct {
	FailedValidations   string
	InternalServerError string
	InvalidRoles        string
	PaymentNotFound     string
	OrderNotFound       string
	NotOwner            string
	IllegalTransition   string
	GatewayRejected     string
	GatewayUnavailable  string
}{
	FailedValidations:   "failed validations",
	InternalServerError: "internal server error",
	InvalidRoles:        "invalid roles",
	PaymentNotFound:     "payment not found",
	OrderNotFound:       "order not found",
	NotOwner:            "payment belongs to another user",
	IllegalTransition:   "status transition not allowed",
	GatewayRejected:     "payment gateway rejected the request",
	GatewayUnavailable:  "payment gateway unavailable, try again later",
}
