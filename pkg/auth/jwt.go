package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/TrTueTah/ventidole-core/pkg/errors"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const UserKey contextKey = "user"

// Verifier validates bearer credentials and yields the stable user
// identity. The rest of the subsystem consumes this as a capability.
type Verifier struct {
	secret    []byte
	expiresIn time.Duration
}

func NewVerifier(secret string, expiresInHours int) *Verifier {
	if expiresInHours <= 0 {
		expiresInHours = 24
	}
	return &Verifier{
		secret:    []byte(secret),
		expiresIn: time.Duration(expiresInHours) * time.Hour,
	}
}

// GenerateToken creates a new JWT token for a given user ID
func (v *Verifier) GenerateToken(userID, role string) (string, error) {
	expirationTime := time.Now().Add(v.expiresIn)
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates a JWT token
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrInvalidCredential
		}
		return nil, apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid or expired credential", err)
	}

	if !token.Valid {
		return nil, apperrors.ErrInvalidCredential
	}

	return claims, nil
}

// StripBearer removes the "Bearer " prefix if present.
func StripBearer(tokenString string) string {
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		return tokenString[7:]
	}
	return tokenString
}
