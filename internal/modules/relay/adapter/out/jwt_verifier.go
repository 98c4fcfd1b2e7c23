package out

import (
	"errors"
	"fmt"

	gojwt "github.com/golang-jwt/jwt/v5"
)

var ErrTokenSubject = errors.New("token issued for another user")

// JWTVerifier accepts HMAC-signed tokens whose user_id claim matches the
// connecting user.
type JWTVerifier struct {
	secret []byte
	parser *gojwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: gojwt.NewParser(gojwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

func (v *JWTVerifier) Verify(userID, token string) error {
	claims := gojwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	subject, _ := claims["user_id"].(string)
	if subject == "" {
		subject, _ = claims["sub"].(string)
	}
	if subject != userID {
		return ErrTokenSubject
	}
	return nil
}
