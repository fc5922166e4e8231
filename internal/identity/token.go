package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenInspector reads the claims of provider access tokens. With a secret it
// verifies the HS256 signature; without one it only decodes.
type tokenInspector struct {
	secret []byte
	parser *jwt.Parser
}

func newTokenInspector(secret string) *tokenInspector {
	t := &tokenInspector{
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
	if secret != "" {
		t.secret = []byte(secret)
	}
	return t
}

// expiry returns the exp claim of token and checks that sub matches userID
func (t *tokenInspector) expiry(token, userID string) (time.Time, error) {
	claims := jwt.MapClaims{}

	if t.secret != nil {
		_, err := t.parser.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return t.secret, nil
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
		}
	} else {
		if _, _, err := t.parser.ParseUnverified(token, claims); err != nil {
			return time.Time{}, fmt.Errorf("failed to decode token: %w", err)
		}
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid token claims: %w", err)
	}
	if userID != "" && sub != userID {
		return time.Time{}, fmt.Errorf("token subject does not match user")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid token claims: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
