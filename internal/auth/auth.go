// Package auth turns a bearer credential into a verified identity. Issuing
// credentials belongs to the account service; Issue exists for tooling and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	TokenCookieKey = "token"
	tokenQueryKey  = "token"

	subjectClaim = "sub"
	nameClaim    = "name"
	expClaim     = "exp"
)

var ErrInvalidCredential = errors.New("invalid credential")

type Identity struct {
	UserId      string
	DisplayName string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

// JWTVerifier validates HS256 tokens signed with a shared key.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", ErrInvalidCredential)
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrInvalidCredential)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrInvalidCredential)
	}

	// tokens without an expiry are not accepted
	if _, ok := claims[expClaim]; !ok {
		return Identity{}, fmt.Errorf("%w: missing exp claim", ErrInvalidCredential)
	}

	sub, ok := claims[subjectClaim].(string)
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("%w: invalid sub claim", ErrInvalidCredential)
	}

	name, _ := claims[nameClaim].(string)

	return Identity{UserId: sub, DisplayName: name}, nil
}

func (v *JWTVerifier) Issue(id Identity, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: id.UserId,
		nameClaim:    id.DisplayName,
		expClaim:     time.Now().Add(exp).Unix(),
	})

	return token.SignedString(v.signingKey)
}

// CredentialFromRequest looks for a credential in the Authorization header, the
// token cookie and finally the token query parameter, which browsers need for
// websocket upgrades.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
	}

	if c, err := r.Cookie(TokenCookieKey); err == nil && c.Value != "" {
		return c.Value
	}

	return r.URL.Query().Get(tokenQueryKey)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserId != ""
}
