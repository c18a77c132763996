package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const visitorTokenIssuer = "merlodigital-site"

// VisitorClaims carries the opaque visitor id in the subject claim.
type VisitorClaims struct {
	jwt.RegisteredClaims
}

// GenerateVisitorToken signs a long-lived token for visitorID.
func GenerateVisitorToken(secret []byte, visitorID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("visitor token secret is empty")
	}
	now := time.Now()
	claims := &VisitorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   visitorID,
			Issuer:    visitorTokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign visitor token: %w", err)
	}
	return signed, nil
}

// ParseVisitorToken validates tokenString and returns the visitor id it carries.
func ParseVisitorToken(secret []byte, tokenString string) (string, error) {
	claims := &VisitorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(visitorTokenIssuer))
	if err != nil {
		return "", fmt.Errorf("invalid visitor token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", errors.New("visitor token is not valid")
	}
	return claims.Subject, nil
}
