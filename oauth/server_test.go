package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cgk-platform/mcp-gateway/auth"
)

var testSigningKey = []byte("oauth-test-signing-key")

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-verifier"

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func newServer(t *testing.T) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(Config{
		Issuer:     "https://mcp.test",
		Audience:   "mcp-gateway",
		SigningKey: testSigningKey,
		TokenTTL:   time.Hour,
		Clients: []Client{{
			ID:           "connector-1",
			TenantID:     "t1",
			RedirectURIs: []string{"https://app.test/callback"},
			Roles:        []string{"member"},
		}},
	}, cl, nil)
}

func authorize(t *testing.T, srv *Server, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {"connector-1"},
		"redirect_uri":          {"https://app.test/callback"},
		"code_challenge":        {challengeFor(testVerifier)},
		"code_challenge_method": {"S256"},
		"state":                 {"xyz"},
	}
	for k, v := range params {
		if v == "" {
			q.Del(k)
		} else {
			q.Set(k, v)
		}
	}
	r := httptest.NewRequest(http.MethodGet, "/mcp/oauth/authorize?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	srv.HandleAuthorize(w, r)
	return w
}

func codeFromRedirect(t *testing.T, w *httptest.ResponseRecorder) (code, state string) {
	t.Helper()
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func exchange(t *testing.T, srv *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/mcp/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.HandleToken(w, r)
	return w
}

func tokenForm(code, verifier string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {"connector-1"},
		"redirect_uri":  {"https://app.test/callback"},
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv := newServer(t)

	code, state := codeFromRedirect(t, authorize(t, srv, nil))
	require.NotEmpty(t, code)
	require.Equal(t, "xyz", state)

	w := exchange(t, srv, tokenForm(code, testVerifier))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Bearer", body.TokenType)
	require.Equal(t, int64(3600), body.ExpiresIn)

	// The minted token must verify through the gateway's own bearer strategy.
	strategy, err := auth.NewBearerStrategy(auth.BearerConfig{
		Issuer:     "https://mcp.test",
		Audience:   "mcp-gateway",
		SigningKey: testSigningKey,
	})
	require.NoError(t, err)
	ac, err := strategy.Resolve(context.Background(), body.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "t1", ac.TenantID)
	require.Equal(t, "connector:connector-1", ac.UserID)
}

func TestTokenRejectsWrongVerifier(t *testing.T) {
	srv := newServer(t)
	code, _ := codeFromRedirect(t, authorize(t, srv, nil))

	w := exchange(t, srv, tokenForm(code, testVerifier+"-wrong"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")
}

func TestTokenRejectsCodeReuse(t *testing.T) {
	srv := newServer(t)
	code, _ := codeFromRedirect(t, authorize(t, srv, nil))

	require.Equal(t, http.StatusOK, exchange(t, srv, tokenForm(code, testVerifier)).Code)

	// Second exchange of the same code fails even with the right verifier.
	w := exchange(t, srv, tokenForm(code, testVerifier))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")
}

func TestTokenBurnsCodeOnFailedValidation(t *testing.T) {
	srv := newServer(t)
	code, _ := codeFromRedirect(t, authorize(t, srv, nil))

	// A failed verifier attempt consumes the code; the legitimate retry loses.
	exchange(t, srv, tokenForm(code, "wrong-verifier-wrong-verifier-wrong-verifier"))
	w := exchange(t, srv, tokenForm(code, testVerifier))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_grant")
}

func TestTokenRejectsMismatchedClientAndRedirect(t *testing.T) {
	srv := newServer(t)

	code, _ := codeFromRedirect(t, authorize(t, srv, nil))
	form := tokenForm(code, testVerifier)
	form.Set("client_id", "someone-else")
	require.Contains(t, exchange(t, srv, form).Body.String(), "invalid_grant")

	code, _ = codeFromRedirect(t, authorize(t, srv, nil))
	form = tokenForm(code, testVerifier)
	form.Set("redirect_uri", "https://evil.test/callback")
	require.Contains(t, exchange(t, srv, form).Body.String(), "invalid_grant")
}

func TestAuthorizeRejectsPlainChallengeMethod(t *testing.T) {
	srv := newServer(t)
	w := authorize(t, srv, map[string]string{"code_challenge_method": "plain"})

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_request", loc.Query().Get("error"))
	require.Empty(t, loc.Query().Get("code"))
}

func TestAuthorizeRequiresChallenge(t *testing.T) {
	srv := newServer(t)
	w := authorize(t, srv, map[string]string{"code_challenge": ""})
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_request", loc.Query().Get("error"))
}

func TestAuthorizeNeverRedirectsUnvalidatedURI(t *testing.T) {
	srv := newServer(t)

	w := authorize(t, srv, map[string]string{"client_id": "unknown"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, w.Header().Get("Location"))
	require.Contains(t, w.Body.String(), "invalid_client")

	w = authorize(t, srv, map[string]string{"redirect_uri": "https://evil.test/cb"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, w.Header().Get("Location"))
}

func TestAuthorizeRejectsOversizedState(t *testing.T) {
	srv := newServer(t)
	w := authorize(t, srv, map[string]string{"state": strings.Repeat("s", maxStateLength+1)})
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_request", loc.Query().Get("error"))
}

func TestTokenRejectsUnknownGrantType(t *testing.T) {
	srv := newServer(t)
	w := exchange(t, srv, url.Values{"grant_type": {"client_credentials"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unsupported_grant_type")
}
