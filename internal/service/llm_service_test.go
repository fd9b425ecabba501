package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"veritrust/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func oauthStub(t *testing.T, calls *int, token string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++

		rqUID := r.Header.Get("RqUID")
		require.NotEmpty(t, rqUID, "OAuth requests must carry an RqUID header")
		_, err := uuid.Parse(rqUID)
		require.NoError(t, err, "RqUID must be a UUID")

		assert.Equal(t, "Basic dGVzdC1rZXk=", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "GIGACHAT_API_PERS", r.PostForm.Get("scope"))

		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": token,
			"expires_in":   1800,
		}))
	}))
}

func testLLMService(oauthURL, baseURL string) *LLMService {
	return &LLMService{
		config: &config.GigaChatConfig{
			APIKey: "dGVzdC1rZXk=",
			Scope:  "GIGACHAT_API_PERS",
		},
		logger:     zap.NewNop(),
		httpClient: &http.Client{},
		baseURL:    baseURL,
		oauthURL:   oauthURL,
	}
}

func TestTokenRequestCarriesRqUID(t *testing.T) {
	var calls int
	oauth := oauthStub(t, &calls, "tok-1")
	defer oauth.Close()

	svc := testLLMService(oauth.URL, "")

	token, err := svc.token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, calls)
	assert.Greater(t, time.Until(svc.tokenExpiry), 25*time.Minute)
}

func TestTokenReusedUntilExpiry(t *testing.T) {
	var calls int
	oauth := oauthStub(t, &calls, "tok-1")
	defer oauth.Close()

	svc := testLLMService(oauth.URL, "")

	for i := 0; i < 3; i++ {
		_, err := svc.token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls, "a live token is not re-fetched")
}

func TestTokenRefreshedNearExpiry(t *testing.T) {
	var calls int
	oauth := oauthStub(t, &calls, "tok-2")
	defer oauth.Close()

	svc := testLLMService(oauth.URL, "")
	svc.accessToken = "tok-1"
	svc.tokenExpiry = time.Now().Add(30 * time.Second)

	token, err := svc.token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", token, "a token about to expire is replaced")
	assert.Equal(t, 1, calls)
}

func TestUploadRefreshesTokenOnUnauthorized(t *testing.T) {
	var oauthCalls int
	oauth := oauthStub(t, &oauthCalls, "tok-fresh")
	defer oauth.Close()

	var apiCalls int
	var seenTokens []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
		require.Equal(t, "/files", r.URL.Path)
		seenTokens = append(seenTokens, r.Header.Get("Authorization"))

		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"id": "file-1"}))
	}))
	defer api.Close()

	svc := testLLMService(oauth.URL, api.URL)
	// A token the API no longer accepts but that looks live locally.
	svc.accessToken = "tok-stale"
	svc.tokenExpiry = time.Now().Add(20 * time.Minute)

	fileID, err := svc.uploadFile(context.Background(), strings.NewReader("png-bytes"), "passport.png")
	require.NoError(t, err)
	assert.Equal(t, "file-1", fileID)

	assert.Equal(t, 2, apiCalls, "the rejected request is retried once")
	assert.Equal(t, 1, oauthCalls)
	require.Len(t, seenTokens, 2)
	assert.Equal(t, "Bearer tok-stale", seenTokens[0])
	assert.Equal(t, "Bearer tok-fresh", seenTokens[1])
}

func TestGenerateSurfacesPersistentUnauthorized(t *testing.T) {
	var oauthCalls int
	oauth := oauthStub(t, &oauthCalls, "tok-fresh")
	defer oauth.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	svc := testLLMService(oauth.URL, api.URL)
	svc.accessToken = "tok-stale"
	svc.tokenExpiry = time.Now().Add(20 * time.Minute)

	_, err := svc.generateWithAttachment(context.Background(), "file-1", "prompt")
	require.Error(t, err, "a 401 that survives one refresh is not retried forever")
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 1, oauthCalls)
}
