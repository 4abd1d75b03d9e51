package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim keys as emitted by the identity service. Role names arrive under the
// long-form WS-identity claim URI; the rest are short names.
const (
	claimUserID    = "sub"
	claimUsername  = "unique_name"
	claimFirstName = "first_name"
	claimLastName  = "last_name"
	claimRoleID    = "role_id"
	claimRoleName  = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
	claimGroupID   = "group_id"
	claimGroupName = "group_name"
)

// ErrDecode is returned when a token is present but cannot be decoded.
// A missing token is not a decode error; Decode returns (nil, nil) for it.
var ErrDecode = errors.New("token: malformed access token")

// Claims holds the decoded fields of an access token.
//
// Role and group claims are optional: their absence means "no roles" or
// "no groups", never an error. ExpiresAt is always present in a valid token.
type Claims struct {
	UserID     string
	Username   string
	FirstName  string
	LastName   string
	RoleIDs    []string
	RoleNames  []string
	GroupIDs   []string
	GroupNames []string
	ExpiresAt  time.Time
}

// Decode parses an access token into structured claims.
//
// The signature is NOT verified: the identity service is the verifier, the
// client only needs the claim payload. An empty token decodes to (nil, nil)
// since "not logged in" is a normal state, not an error. A non-empty token
// that cannot be parsed returns ErrDecode.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, nil
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrDecode
	}

	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing expiry", ErrDecode)
	}

	return &Claims{
		UserID:     stringClaim(mc, claimUserID),
		Username:   stringClaim(mc, claimUsername),
		FirstName:  stringClaim(mc, claimFirstName),
		LastName:   stringClaim(mc, claimLastName),
		RoleIDs:    listClaim(mc, claimRoleID),
		RoleNames:  listClaim(mc, claimRoleName),
		GroupIDs:   listClaim(mc, claimGroupID),
		GroupNames: listClaim(mc, claimGroupName),
		ExpiresAt:  exp.Time,
	}, nil
}

// IsExpired reports whether the claims have expired at the given instant.
// Expiry is inclusive: a token is expired at exactly its expiry time.
func (c *Claims) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// stringClaim extracts a single string claim. Missing or non-string
// values yield the empty string.
func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}

// listClaim extracts a multi-valued claim. JWT serialisation collapses a
// single-element array to a bare string, so both shapes are accepted.
// A missing claim yields nil (empty set).
func listClaim(mc jwt.MapClaims, key string) []string {
	switch v := mc[key].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
