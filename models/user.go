package models

// InfoUser is decoded from the "u" claim of the bearer token by middlewares.UserMiddleware.
type InfoUser struct {
	ID      int
	IsAdmin bool
	IsAPI   bool
	Read    bool
	Roles   []int
	Email   string
}
