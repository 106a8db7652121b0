package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/patric-chuzhbe/minurl/internal/auth"
	"github.com/patric-chuzhbe/minurl/internal/db/memorystorage"
	"github.com/patric-chuzhbe/minurl/internal/ipchecker"
	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/mockstorage"
	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/passwordhash"
	"github.com/patric-chuzhbe/minurl/internal/service"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

const (
	testShortURLBase  = "http://localhost:8080"
	testTrustedSubnet = "127.0.0.0/8"
)

var testSigningKey = []byte("router-test-signing-key-0123456789ab")

type testStorage interface {
	service.Storage
	GetUserByUsername(ctx context.Context, username string) (*user.User, error)
}

type initOption func(*initOptions)

type initOptions struct {
	mockStorage   testStorage
	routerOptions []Option
}

func withMockStorage(db testStorage) initOption {
	return func(options *initOptions) {
		options.mockStorage = db
	}
}

func withRouterOptions(routerOptions ...Option) initOption {
	return func(options *initOptions) {
		options.routerOptions = routerOptions
	}
}

func setupTestRouter(t *testing.T, optionsProto ...initOption) (*httptest.Server, testStorage, *chi.Mux) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	var db testStorage
	if options.mockStorage != nil {
		db = options.mockStorage
	} else {
		memory, err := memorystorage.New()
		if t != nil {
			require.NoError(t, err)
		}
		db = memory
	}

	tokens, err := auth.NewTokenService(testSigningKey, 0)
	if t != nil {
		require.NoError(t, err)
	}

	trustedNetwork, err := ipchecker.New(testTrustedSubnet)
	if t != nil {
		require.NoError(t, err)
	}

	svc := service.New(db, passwordhash.New(bcrypt.MinCost), tokens, testShortURLBase)

	theRouter := New(svc, auth.NewGate(tokens, db), trustedNetwork, options.routerOptions...)

	err = logger.Init("debug")
	if t != nil {
		require.NoError(t, err)
	}

	server := httptest.NewServer(theRouter)
	if t != nil {
		t.Cleanup(server.Close)
	}

	return server, db, theRouter
}

func newClient() *resty.Client {
	return resty.New().SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))
}

func signup(t *testing.T, server *httptest.Server, username, email, password string) string {
	t.Helper()

	var result models.AuthResponse
	resp, err := newClient().R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.SignupRequest{Username: username, Email: email, Password: password}).
		SetResult(&result).
		Post(server.URL + "/auth/signup")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	return result.Token
}

func shorten(t *testing.T, server *httptest.Server, token, originalURL string) models.ShortenResponse {
	t.Helper()

	var result models.ShortenResponse
	resp, err := newClient().R().
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"originalUrl": originalURL}).
		SetResult(&result).
		Post(server.URL + "/url/shorten")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	return result
}

func shortCodeOf(shortURL string) string {
	return shortURL[strings.LastIndex(shortURL, "/")+1:]
}

func TestShortenRedirectAndList(t *testing.T) {
	server, _, _ := setupTestRouter(t)

	token := signup(t, server, "alice", "alice@x.com", "pw1")

	shortened := shorten(t, server, token, "https://example.com")
	assert.Equal(t, "https://example.com", shortened.OriginalURL)
	assert.Regexp(t, `^http://localhost:8080/[a-zA-Z0-9]{8}$`, shortened.ShortURL)

	shortCode := shortCodeOf(shortened.ShortURL)

	resp, err := newClient().R().Get(server.URL + "/" + shortCode)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode())
	assert.Equal(t, "https://example.com", resp.Header().Get("Location"))

	var list models.UserLinksResponse
	resp, err = newClient().R().
		SetAuthToken(token).
		SetResult(&list).
		Get(server.URL + "/url/list")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, list.URLs, 1)
	assert.Equal(t, shortCode, list.URLs[0].ShortCode)
	assert.Equal(t, "https://example.com", list.URLs[0].OriginalURL)
	assert.Equal(t, int64(1), list.URLs[0].AccessCount)
}

func TestShortenAcceptsSnakeCaseBody(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")

	var result models.ShortenResponse
	resp, err := newClient().R().
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(`{"original_url":"https://example.org"}`).
		SetResult(&result).
		Post(server.URL + "/url/shorten")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())
	assert.Equal(t, "https://example.org", result.OriginalURL)
}

func TestConcurrentRedirectsAreAllCounted(t *testing.T) {
	const redirects = 50

	server, db, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")
	shortCode := shortCodeOf(shorten(t, server, token, "https://example.com").ShortURL)

	var wg sync.WaitGroup
	for i := 0; i < redirects; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := newClient().R().Get(server.URL + "/" + shortCode)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusFound, resp.StatusCode())
			}
		}()
	}
	wg.Wait()

	link, err := db.FindLinkByShortCode(context.Background(), shortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(redirects), link.AccessCount)
}

func TestGetRedirecttofullurlUnknownCode(t *testing.T) {
	server, db, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")
	shortCode := shortCodeOf(shorten(t, server, token, "https://example.com").ShortURL)

	resp, err := newClient().R().Get(server.URL + "/abc123")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
	assert.Empty(t, resp.Header().Get("Location"))

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(resp.Body(), &body))
	assert.NotEmpty(t, body.Error)

	link, err := db.FindLinkByShortCode(context.Background(), shortCode)
	require.NoError(t, err)
	assert.Equal(t, int64(0), link.AccessCount)
}

func TestProtectedRoutesRequirePrincipal(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")

	otherTokens, err := auth.NewTokenService([]byte("some-other-secret-key-0123456789"), 0)
	require.NoError(t, err)
	foreignToken, err := otherTokens.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name          string
		method        string
		path          string
		authorization string
	}{
		{name: "shorten without header", method: http.MethodPost, path: "/url/shorten"},
		{name: "list without header", method: http.MethodGet, path: "/url/list"},
		{name: "token without Bearer prefix", method: http.MethodGet, path: "/url/list", authorization: token},
		{name: "garbage token", method: http.MethodGet, path: "/url/list", authorization: "Bearer garbage"},
		{name: "token signed with another secret", method: http.MethodPost, path: "/url/shorten", authorization: "Bearer " + foreignToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newClient().R().
				SetHeader("Content-Type", "application/json").
				SetBody(`{"originalUrl":"https://example.com"}`)
			if tt.authorization != "" {
				req.SetHeader("Authorization", tt.authorization)
			}

			resp, err := req.Execute(tt.method, server.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
			assert.JSONEq(t, `{"error":"unauthorized"}`, resp.String())
		})
	}
}

func TestPostAuthsignup(t *testing.T) {
	server, _, _ := setupTestRouter(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "registers", body: `{"username":"alice","email":"alice@x.com","password":"pw1"}`, wantCode: http.StatusCreated},
		{name: "duplicate email", body: `{"username":"alice2","email":"alice@x.com","password":"pw2"}`, wantCode: http.StatusConflict},
		{name: "duplicate email in other case", body: `{"username":"alice3","email":"Alice@X.com","password":"pw2"}`, wantCode: http.StatusConflict},
		{name: "duplicate username", body: `{"username":"alice","email":"other@x.com","password":"pw2"}`, wantCode: http.StatusConflict},
		{name: "missing password", body: `{"username":"bob","email":"bob@x.com"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "bad email", body: `{"username":"bob","email":"bob","password":"pw"}`, wantCode: http.StatusUnprocessableEntity},
		{name: "malformed json", body: `{"username":`, wantCode: http.StatusBadRequest},
		{
			name:     "password too long",
			body:     `{"username":"carol","email":"carol@x.com","password":"` + strings.Repeat("a", 80) + `"}`,
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "password over 72 bytes in fewer runes",
			body:     `{"username":"dave","email":"dave@x.com","password":"` + strings.Repeat("я", 40) + `"}`,
			wantCode: http.StatusUnprocessableEntity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := newClient().R().
				SetHeader("Content-Type", "application/json").
				SetBody(tt.body).
				Post(server.URL + "/auth/signup")
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.StatusCode(), resp.String())

			if tt.wantCode == http.StatusCreated {
				var result models.AuthResponse
				require.NoError(t, json.Unmarshal(resp.Body(), &result))
				assert.Equal(t, "User registered successfully", result.Message)
				assert.Equal(t, "Bearer", result.TokenType)
				assert.NotEmpty(t, result.Token)
			}
		})
	}
}

func TestPostAuthlogin(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	signup(t, server, "alice", "alice@x.com", "pw1")

	login := func(t *testing.T, email, password string) *resty.Response {
		resp, err := newClient().R().
			SetHeader("Content-Type", "application/json").
			SetBody(models.LoginRequest{Email: email, Password: password}).
			Post(server.URL + "/auth/login")
		require.NoError(t, err)
		return resp
	}

	t.Run("correct credentials", func(t *testing.T) {
		resp := login(t, "alice@x.com", "pw1")
		require.Equal(t, http.StatusOK, resp.StatusCode())

		var result models.AuthResponse
		require.NoError(t, json.Unmarshal(resp.Body(), &result))
		assert.Equal(t, "Logged in successfully", result.Message)
		assert.Equal(t, "Bearer", result.TokenType)

		listResp, err := newClient().R().SetAuthToken(result.Token).Get(server.URL + "/url/list")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, listResp.StatusCode())
		assert.JSONEq(t, `{"urls":[]}`, listResp.String())
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := login(t, "alice@x.com", "wrong")
		unknown := login(t, "nobody@x.com", "pw1")

		assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode())
		assert.Equal(t, http.StatusUnauthorized, unknown.StatusCode())
		assert.Equal(t, wrong.String(), unknown.String())
	})
}

func TestListIsPerOwner(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	alice := signup(t, server, "alice", "alice@x.com", "pw1")
	bob := signup(t, server, "bob", "bob@x.com", "pw2")

	shorten(t, server, alice, "https://alice.example/1")
	shorten(t, server, alice, "https://alice.example/2")
	shorten(t, server, bob, "https://bob.example")

	var list models.UserLinksResponse
	_, err := newClient().R().SetAuthToken(bob).SetResult(&list).Get(server.URL + "/url/list")
	require.NoError(t, err)
	require.Len(t, list.URLs, 1)
	assert.Equal(t, "https://bob.example", list.URLs[0].OriginalURL)
}

func TestInternalEndpoints(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")
	shorten(t, server, token, "https://example.com")

	t.Run("stats from trusted subnet", func(t *testing.T) {
		var stats models.InternalStatsResponse
		resp, err := newClient().R().SetResult(&stats).Get(server.URL + "/api/internal/stats")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Equal(t, models.InternalStatsResponse{Links: 1, Users: 1}, stats)
	})

	t.Run("stats from outside", func(t *testing.T) {
		resp, err := newClient().R().
			SetHeader("X-Real-IP", "192.168.10.10").
			Get(server.URL + "/api/internal/stats")
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode())
	})

	t.Run("ping", func(t *testing.T) {
		resp, err := newClient().R().Get(server.URL + "/api/internal/ping")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
	})
}

func TestGzipRoundTrip(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	token := signup(t, server, "alice", "alice@x.com", "pw1")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"originalUrl":"https://ru.wikipedia.org/wiki/Go"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	request, err := http.NewRequest(http.MethodPost, server.URL+"/url/shorten", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Content-Encoding", "gzip")
	request.Header.Set("Accept-Encoding", "gzip")

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	require.Equal(t, http.StatusCreated, response.StatusCode)
	require.Equal(t, "gzip", response.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(response.Body)
	require.NoError(t, err)

	var result models.ShortenResponse
	require.NoError(t, json.NewDecoder(zr).Decode(&result))
	assert.Equal(t, "https://ru.wikipedia.org/wiki/Go", result.OriginalURL)
}

func TestStoreFailuresAreInternalErrors(t *testing.T) {
	db := new(mockstorage.StorageMock)
	server, _, _ := setupTestRouter(t, withMockStorage(db))

	tokens, err := auth.NewTokenService(testSigningKey, 0)
	require.NoError(t, err)
	token, err := tokens.Issue("alice")
	require.NoError(t, err)

	db.On("GetUserByUsername", mock.Anything, "alice").
		Return(&user.User{ID: "u1", Username: "alice"}, nil)
	db.On("GetLinksByOwner", mock.Anything, "u1").
		Return(nil, errors.New("db error"))
	db.On("FindLinkByShortCode", mock.Anything, "abc12345").
		Return(&models.Link{ID: "l1", ShortCode: "abc12345", OriginalURL: "https://example.com"}, nil)
	db.On("IncrementAccessCount", mock.Anything, "abc12345").
		Return(int64(0), errors.New("db error"))
	db.On("Ping", mock.Anything).Return(errors.New("db down"))

	resp, err := newClient().R().SetAuthToken(token).Get(server.URL + "/url/list")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())

	resp, err = newClient().R().Get(server.URL + "/abc12345")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
	assert.Empty(t, resp.Header().Get("Location"))

	resp, err = newClient().R().Get(server.URL + "/api/internal/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())
}

func preflight(t *testing.T, server *httptest.Server, path, origin, method string) *resty.Response {
	t.Helper()

	resp, err := newClient().R().
		SetHeader("Origin", origin).
		SetHeader("Access-Control-Request-Method", method).
		SetHeader("Access-Control-Request-Headers", "Authorization, Content-Type").
		Options(server.URL + path)
	require.NoError(t, err)

	return resp
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := setupTestRouter(t)
	const origin = "http://localhost:5500"

	tests := []struct {
		path   string
		method string
	}{
		{path: "/url/shorten", method: http.MethodPost},
		{path: "/url/list", method: http.MethodGet},
		{path: "/auth/login", method: http.MethodPost},
		{path: "/auth/signup", method: http.MethodPost},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp := preflight(t, server, tt.path, origin, tt.method)

			assert.True(t, resp.StatusCode() >= 200 && resp.StatusCode() < 300, resp.Status())
			assert.Contains(t, []string{"*", origin}, resp.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
			assert.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), tt.method)
		})
	}

	t.Run("actual request carries the origin header", func(t *testing.T) {
		token := signup(t, server, "alice", "alice@x.com", "pw1")

		resp, err := newClient().R().
			SetAuthToken(token).
			SetHeader("Origin", origin).
			Get(server.URL + "/url/list")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode())
		assert.Contains(t, []string{"*", origin}, resp.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestCORSRestrictedOrigins(t *testing.T) {
	server, _, _ := setupTestRouter(t, withRouterOptions(WithAllowedOrigins([]string{"https://app.example"})))

	allowed := preflight(t, server, "/url/shorten", "https://app.example", http.MethodPost)
	assert.Equal(t, "https://app.example", allowed.Header().Get("Access-Control-Allow-Origin"))

	denied := preflight(t, server, "/url/shorten", "https://other.example", http.MethodPost)
	assert.NotEqual(t, http.StatusMethodNotAllowed, denied.StatusCode())
	assert.Empty(t, denied.Header().Get("Access-Control-Allow-Origin"))
}
