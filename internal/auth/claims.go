package auth

import "github.com/golang-jwt/jwt/v5"

// Claims identify an API client. Tokens are issued out of band by tokenctl;
// there is no refresh flow.
type Claims struct {
	jwt.RegisteredClaims

	ClientID string `json:"client_id"`
	Role     string `json:"role"`
}
