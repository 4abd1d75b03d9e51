package simulator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claim keys written into issued access tokens. Role names travel under
// the long-form WS-identity claim URI, matching what the dashboard's
// token codec expects.
const (
	claimUsername  = "unique_name"
	claimFirstName = "first_name"
	claimLastName  = "last_name"
	claimRoleID    = "role_id"
	claimRoleName  = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
	claimGroupID   = "group_id"
	claimGroupName = "group_name"
)

// issueAccessToken creates a signed HS256 access token for a user.
// Access tokens are short-lived and validated by signature only.
func issueAccessToken(u *UserRecord, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := jwt.MapClaims{
		"sub":          u.ID,
		claimUsername:  u.UserName,
		claimFirstName: u.FirstName,
		claimLastName:  u.LastName,
		"iat":          jwt.NewNumericDate(now),
		"exp":          jwt.NewNumericDate(expiresAt),
		"jti":          uuid.NewString(),
	}
	if u.RoleID != "" {
		claims[claimRoleID] = u.RoleID
		claims[claimRoleName] = u.RoleName
	}
	if u.GroupID != "" {
		claims[claimGroupID] = u.GroupID
		claims[claimGroupName] = u.GroupName
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// verifyAccessToken validates signature and expiry and returns the subject.
func verifyAccessToken(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrTokenInvalid
	}
	return sub, nil
}

// newRefreshToken creates a cryptographically random refresh token (256-bit).
// The raw value lives only in the HTTP-only cookie.
func newRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
