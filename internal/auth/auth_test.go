package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestJWTVerifier_Verify(t *testing.T) {
	v := NewJWTVerifier(testKey)

	valid, err := v.Issue(Identity{UserId: "user-1", DisplayName: "Ada"}, time.Hour)
	require.NoError(t, err)

	expired, err := v.Issue(Identity{UserId: "user-1"}, -time.Hour)
	require.NoError(t, err)

	otherKey, err := NewJWTVerifier([]byte("other-key")).Issue(Identity{UserId: "user-1"}, time.Hour)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		expClaim: time.Now().Add(time.Hour).Unix(),
	}).SignedString(testKey)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subjectClaim: "user-1",
	}).SignedString(testKey)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		subjectClaim: "user-1",
		expClaim:     time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tcases := []struct {
		name       string
		credential string
		identity   Identity
		err        bool
	}{
		{name: "valid token", credential: valid, identity: Identity{UserId: "user-1", DisplayName: "Ada"}},
		{name: "empty credential", credential: "", err: true},
		{name: "garbage", credential: "not-a-token", err: true},
		{name: "expired token", credential: expired, err: true},
		{name: "wrong key", credential: otherKey, err: true},
		{name: "missing subject", credential: noSub, err: true},
		{name: "missing expiry", credential: noExp, err: true},
		{name: "alg none", credential: unsigned, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := v.Verify(tc.credential)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidCredential, "expected invalid credential error")
				assert.Equal(t, Identity{}, id, "expected empty identity on failure")
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.identity, id)
		})
	}
}

func TestCredentialFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		target   string
		expected string
	}{
		{
			name:     "bearer header",
			target:   "/ws",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			expected: "abc",
		},
		{
			name:     "bearer header lowercase scheme",
			target:   "/ws",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "bearer abc") },
			expected: "abc",
		},
		{
			name:     "cookie",
			target:   "/ws",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookieKey, Value: "from-cookie"}) },
			expected: "from-cookie",
		},
		{
			name:     "query parameter",
			target:   "/ws?token=from-query",
			setup:    func(r *http.Request) {},
			expected: "from-query",
		},
		{
			name:   "header wins over query",
			target: "/ws?token=from-query",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-header",
		},
		{
			name:     "basic auth ignored",
			target:   "/ws",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Basic Zm9vOmJhcg==") },
			expected: "",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			tc.setup(r)
			assert.Equal(t, tc.expected, CredentialFromRequest(r))
		})
	}
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok, "expected no identity in empty context")

	ctx := WithIdentity(context.Background(), Identity{UserId: "user-1", DisplayName: "Ada"})
	id, ok := IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "user-1", id.UserId)

	_, ok = IdentityFromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok, "expected empty identity to be rejected")
}
