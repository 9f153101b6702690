// Package auth issues and validates signed access-grant tokens. A token
// proves the bearer holds the current credential grant for a group; its
// expiry matches the grant's expiry exactly.
package auth

import (
	"time"

	"github.com/dmitrijs2005/subpool/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// GrantClaims carries the standard claims plus the grant's group and holder.
type GrantClaims struct {
	jwt.RegisteredClaims
	GroupID      string
	HolderUserID string
}

// GenerateGrantToken mints an HS256 token for holderUserID over groupID,
// expiring at expiresAt.
func GenerateGrantToken(groupID, holderUserID string, secretKey []byte, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		GroupID:      groupID,
		HolderUserID: holderUserID,
	})

	return token.SignedString(secretKey)
}

// ParseGrantToken validates a grant token and returns its claims.
// Expired or malformed tokens yield common.ErrInvalidState.
func ParseGrantToken(tokenString string, secretKey []byte) (*GrantClaims, error) {
	claims := &GrantClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, common.ErrInvalidState
		}
		return secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, common.ErrInvalidState
	}

	return claims, nil
}
