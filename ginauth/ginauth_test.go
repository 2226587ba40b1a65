package ginauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bionicotaku/lingo-utils-jwtauth"
)

var testAuthKey = []byte("0123456789abcdef0123456789abcdef")

func init() {
	gin.SetMode(gin.TestMode)
}

type sessions map[string]*jwtauth.SessionResult

func (s sessions) SessionFor(_ context.Context, id string) (*jwtauth.SessionResult, error) {
	return s[id], nil
}

func newIssuer(t *testing.T, opts ...jwtauth.Option) *jwtauth.Issuer {
	t.Helper()
	issuer, err := jwtauth.NewIssuer(jwtauth.Config{AuthKey: testAuthKey, Audiences: []string{"api"}}, opts...)
	require.NoError(t, err)
	return issuer
}

func newRouter(authn Authenticator, opts ...Option) *gin.Engine {
	r := gin.New()
	r.Use(RequireJWT(authn, opts...))
	r.GET("/me", func(c *gin.Context) {
		caller, ok := Caller(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		fromCtx, _ := jwtauth.CallerClaimsFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"sub":       caller.Claims.Subject,
			"ctxSub":    fromCtx.Claims.Subject,
			"devBypass": caller.DevBypass,
		})
	})
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRequireJWT_Bearer(t *testing.T) {
	issuer := newIssuer(t)
	token, err := issuer.CreateAccessToken(context.Background(), &jwtauth.Session{UserAuthID: "7"}, nil, nil)
	require.NoError(t, err)
	r := newRouter(issuer)

	req := httptest.NewRequest(http.MethodGet, "/me", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := do(r, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "7", body["sub"])
	assert.Equal(t, "7", body["ctxSub"])
	assert.Equal(t, false, body["devBypass"])
}

func TestRequireJWT_Rejections(t *testing.T) {
	issuer := newIssuer(t)
	ctx := context.Background()
	refresh, err := issuer.CreateRefreshToken(ctx, "7")
	require.NoError(t, err)

	expiredIssuer := newIssuer(t, jwtauth.WithClock(func() time.Time { return time.Now().Add(-30 * 24 * time.Hour) }))
	expired, err := expiredIssuer.CreateAccessToken(ctx, &jwtauth.Session{UserAuthID: "7"}, nil, nil)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   jwtauth.ErrorCode
	}{
		{"missing", "", jwtauth.ErrCodeInvalidToken},
		{"not bearer", "Basic abc", jwtauth.ErrCodeInvalidToken},
		{"garbage", "Bearer garbage", jwtauth.ErrCodeInvalidToken},
		{"expired", "Bearer " + expired, jwtauth.ErrCodeExpired},
		{"refresh token", "Bearer " + refresh, jwtauth.ErrCodeRejected},
	}
	r := newRouter(issuer)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", http.NoBody)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := do(r, req)
			require.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, string(tc.code), decode(t, rr)["code"])
		})
	}
}

func TestRequireJWT_QueryToken(t *testing.T) {
	issuer := newIssuer(t)
	token, err := issuer.CreateAccessToken(context.Background(), &jwtauth.Session{UserAuthID: "7"}, nil, nil)
	require.NoError(t, err)

	rr := do(newRouter(issuer), httptest.NewRequest(http.MethodGet, "/me?ss-tok="+token, http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "query tokens are off by default")

	rr = do(newRouter(issuer, WithQueryToken()), httptest.NewRequest(http.MethodGet, "/me?ss-tok="+token, http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "7", decode(t, rr)["sub"])
}

func TestRequireJWT_DevBypassAndSkip(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(issuer, WithDevBypass(jwtauth.DefaultDevBypassClaims("api")), WithSkipPaths("/health"))

	rr := do(r, httptest.NewRequest(http.MethodGet, "/me", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "dev-bypass", body["sub"])
	assert.Equal(t, true, body["devBypass"])

	req := httptest.NewRequest(http.MethodGet, "/me", http.NoBody)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code, "a presented token is always validated")

	strict := newRouter(issuer, WithSkipPaths("/health"))
	assert.Equal(t, http.StatusNoContent, do(strict, httptest.NewRequest(http.MethodGet, "/health", http.NoBody)).Code)
}

func TestAccessTokenHandler(t *testing.T) {
	issuer := newIssuer(t, jwtauth.WithSessionSource(sessions{
		"7":      {Session: jwtauth.Session{UserName: "seven"}, Roles: []string{"Reader"}},
		"locked": {Locked: true},
	}))
	ctx := context.Background()
	r := gin.New()
	r.POST("/access-token", AccessTokenHandler(issuer))

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/access-token", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return do(r, req)
	}

	refresh, err := issuer.CreateRefreshToken(ctx, "7")
	require.NoError(t, err)
	rr := post(`{"refreshToken":"` + refresh + `"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	access, _ := decode(t, rr)["accessToken"].(string)
	session, err := issuer.Authenticate(ctx, access)
	require.NoError(t, err)
	assert.True(t, session.HasRole("Reader"))

	rr = post(`{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	lockedToken, err := issuer.CreateRefreshToken(ctx, "locked")
	require.NoError(t, err)
	rr = post(`{"refreshToken":"` + lockedToken + `"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, string(jwtauth.ErrCodeAccountLocked), decode(t, rr)["code"])

	rr = post(`{"refreshToken":"` + access + `"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, string(jwtauth.ErrCodeRefreshTokenInvalid), decode(t, rr)["code"])
}

func TestAccessTokenHandler_WithHTTPExchanger(t *testing.T) {
	issuer := newIssuer(t, jwtauth.WithSessionSource(sessions{"7": {}}))
	r := gin.New()
	r.POST("/access-token", AccessTokenHandler(issuer))
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	ex := jwtauth.HTTPExchanger{URL: server.URL + "/access-token", Client: server.Client()}
	refresh, err := issuer.CreateRefreshToken(context.Background(), "7")
	require.NoError(t, err)

	access, err := ex.CreateAccessTokenFromRefreshToken(context.Background(), refresh)
	require.NoError(t, err)
	assert.True(t, issuer.IsValid(context.Background(), access))

	_, err = ex.CreateAccessTokenFromRefreshToken(context.Background(), "bogus")
	assert.Equal(t, jwtauth.ErrCodeInvalidToken, jwtauth.CodeOf(err))
}

func TestJWKSHandler(t *testing.T) {
	key, err := jwtauth.GenerateRSAKey(2048)
	require.NoError(t, err)
	issuer, err := jwtauth.NewIssuer(jwtauth.Config{Algorithm: jwtauth.RS256, PrivateKey: key})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/.well-known/jwks.json", JWKSHandler(issuer))
	rr := do(r, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", http.NoBody))
	require.Equal(t, http.StatusOK, rr.Code)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, issuer.KeyID(), doc.Keys[0]["kid"])
	assert.Equal(t, "sig", doc.Keys[0]["use"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, StatusFor(jwtauth.ErrCodeExpired))
	assert.Equal(t, http.StatusUnauthorized, StatusFor(jwtauth.ErrCodeInvalidToken))
	assert.Equal(t, http.StatusForbidden, StatusFor(jwtauth.ErrCodeAccountLocked))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(jwtauth.ErrCodeJWKSUnavailable))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(jwtauth.ErrCodeMissingKey))
}
