package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// JWTVerifier issues and verifies HS256 session tokens.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration

	// now is replaced in tests.
	now func() time.Time
}

func NewJWTVerifier(secret string, ttl time.Duration) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a token for the user, valid for the configured TTL.
func (v *JWTVerifier) Issue(userID, email string) (string, error) {
	now := v.now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(v.ttl)).
		Claim("email", email).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build JWT: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}

	return string(signed), nil
}

// UserFromRequest extracts and validates the JWT token from the request.
// jwt.ParseRequest reads the Authorization header and strips "Bearer ".
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*Principal, error) {
	token, err := jwt.ParseRequest(
		r,
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token missing user ID (subject)")
	}

	var email string
	if emailClaim, ok := token.Get("email"); ok {
		email, _ = emailClaim.(string)
	}

	return &Principal{
		UserID:    userID,
		Email:     email,
		ExpiresAt: token.Expiration(),
	}, nil
}
