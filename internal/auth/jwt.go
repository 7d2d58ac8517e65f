package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lanshare/lanshare/internal/identity"
)

const tokenLifetime = 24 * time.Hour

// Claims holds the JWT token claims.
type Claims struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWT issues and verifies signed bearer tokens. It implements
// identity.Verifier.
type JWT struct {
	secret []byte
}

// NewJWT creates a token handler with the given HMAC secret.
func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

// Issue signs a token for the user. Returns the token and its expiry.
func (j *JWT) Issue(u *User) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   u.ID,
		Username: u.Username,
		Name:     u.Name,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "lanshare",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify validates a token and returns the credentials it carries.
func (j *JWT) Verify(tokenStr string) (*identity.Credentials, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	role := identity.Role(claims.Role)
	switch role {
	case identity.RoleUser, identity.RoleAdmin, identity.RoleGuest:
	default:
		role = identity.RoleUser
	}
	return &identity.Credentials{
		ID:       claims.UserID,
		Username: claims.Username,
		Name:     claims.Name,
		Role:     role,
	}, nil
}
