package helpers

import (
	"github.com/dgrijalva/jwt-go"
)

// ParserTokenUnverified reads claims without checking the signature. The JWT middleware has already
// verified the token by the time this runs.
func ParserTokenUnverified(tokenStr string) (jwt.MapClaims, bool) {
	var p jwt.Parser
	token, _, err := p.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return nil, false
	}
	tokendata, ok := token.Claims.(jwt.MapClaims)
	return tokendata, ok
}

// HasRole reports whether role is among the token's role ids.
func HasRole(roles []int, role int) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
