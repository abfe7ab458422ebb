package oauth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gonggate/internal/codestore"
	"gonggate/internal/db"
	"gonggate/internal/models"
	"gonggate/internal/security"
	"gonggate/internal/tier"
	"gonggate/internal/token"
	"gonggate/internal/track"
	"gonggate/internal/users"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type fixture struct {
	router *gin.Engine
	conn   *gorm.DB
	tokens *token.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "oauth.db")
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	tokens := token.NewService("test-secret", time.Hour)
	userSvc := users.NewService(conn, tier.NewResolver(nil, tier.Enterprise))
	handler := NewHandler(conn, codestore.NewMemoryStore(), tokens, userSvc, track.Noop{}, "https://gate.example.com")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, handler)

	return &fixture{router: router, conn: conn, tokens: tokens}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) registerClient(t *testing.T) (clientID, clientSecret string) {
	t.Helper()
	body := `{"client_name":"acme","redirect_uris":["https://acme.example.com/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ClientID      string   `json:"client_id"`
		ClientSecret  string   `json:"client_secret"`
		GrantTypes    []string `json:"grant_types"`
		ResponseTypes []string `json:"response_types"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode register response: %v", errDecode)
	}
	if len(resp.GrantTypes) != 1 || resp.GrantTypes[0] != "authorization_code" {
		t.Fatalf("grant_types = %v", resp.GrantTypes)
	}
	if resp.ClientID == "" || resp.ClientSecret == "" {
		t.Fatal("missing client credentials")
	}
	return resp.ClientID, resp.ClientSecret
}

func (f *fixture) seedUser(t *testing.T, email, password string, withGate bool) {
	t.Helper()
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	user := models.User{Email: email, Password: hash, IsActive: true}
	if errCreate := f.conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	if !withGate {
		return
	}
	var perm models.Permission
	if errFind := f.conn.Where("codename = ?", models.GatePermission).First(&perm).Error; errFind != nil {
		t.Fatalf("find gate permission: %v", errFind)
	}
	link := models.UserPermission{UserID: user.ID, PermissionID: perm.ID}
	if errLink := f.conn.Create(&link).Error; errLink != nil {
		t.Fatalf("grant permission: %v", errLink)
	}
}

func (f *fixture) login(t *testing.T, clientID, email, password, challenge string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	form.Set("client_id", clientID)
	form.Set("redirect_uri", "https://acme.example.com/cb")
	form.Set("code_challenge", challenge)
	form.Set("state", "xyz")
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func (f *fixture) exchange(t *testing.T, code, clientID, clientSecret, verifier string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", "https://acme.example.com/cb")
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func codeFromRedirect(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	location, errParse := url.Parse(rec.Header().Get("Location"))
	if errParse != nil {
		t.Fatalf("parse redirect: %v", errParse)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatalf("redirect %q carries no code", location.String())
	}
	if location.Query().Get("state") != "xyz" {
		t.Fatalf("redirect %q lost state", location.String())
	}
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := newFixture(t)
	clientID, clientSecret := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	verifier := "0123456789abcdef0123456789abcdef0123456789abcdef"
	challenge := security.PKCEChallenge(verifier)

	code := codeFromRedirect(t, f.login(t, clientID, "alice@example.com", "hunter2", challenge))

	rec := f.exchange(t, code, clientID, clientSecret, verifier)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode token response: %v", errDecode)
	}
	if resp.TokenType != "bearer" {
		t.Fatalf("token_type = %q", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Fatalf("expires_in = %d", resp.ExpiresIn)
	}

	claims := f.tokens.Verify(resp.AccessToken)
	if claims == nil {
		t.Fatal("issued token does not verify")
	}
	if claims.Subject != "alice@example.com" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Origin != "acme" {
		t.Fatalf("origin = %q", claims.Origin)
	}
	if claims.Tier != string(tier.Enterprise) {
		t.Fatalf("tier = %q", claims.Tier)
	}
}

func TestCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	clientID, clientSecret := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	verifier := "0123456789abcdef0123456789abcdef0123456789abcdef"
	code := codeFromRedirect(t, f.login(t, clientID, "alice@example.com", "hunter2", security.PKCEChallenge(verifier)))

	if rec := f.exchange(t, code, clientID, clientSecret, verifier); rec.Code != http.StatusOK {
		t.Fatalf("first exchange status = %d", rec.Code)
	}
	rec := f.exchange(t, code, clientID, clientSecret, verifier)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replayed exchange status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_grant") {
		t.Fatalf("replay body = %s", rec.Body.String())
	}
}

func TestExchangeRejectsPKCEMismatch(t *testing.T) {
	f := newFixture(t)
	clientID, clientSecret := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	code := codeFromRedirect(t, f.login(t, clientID, "alice@example.com", "hunter2", security.PKCEChallenge("right-verifier-right-verifier-right-verifier")))

	rec := f.exchange(t, code, clientID, clientSecret, "wrong-verifier-wrong-verifier-wrong-verifier")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "PKCE verification failed") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestExchangeRejectsWrongSecret(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	verifier := "0123456789abcdef0123456789abcdef0123456789abcdef"
	code := codeFromRedirect(t, f.login(t, clientID, "alice@example.com", "hunter2", security.PKCEChallenge(verifier)))

	rec := f.exchange(t, code, clientID, "not-the-secret", verifier)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestExchangeRejectsMismatchedClient(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)
	otherID, otherSecret := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	verifier := "0123456789abcdef0123456789abcdef0123456789abcdef"
	code := codeFromRedirect(t, f.login(t, clientID, "alice@example.com", "hunter2", security.PKCEChallenge(verifier)))

	rec := f.exchange(t, code, otherID, otherSecret, verifier)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_client") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	rec := f.login(t, clientID, "alice@example.com", "wrong", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), badCredentialsMessage) {
		t.Fatalf("body does not carry the credentials error: %s", rec.Body.String())
	}
}

func TestLoginRejectsMissingGatePermission(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)
	f.seedUser(t, "bob@example.com", "hunter2", false)

	rec := f.login(t, clientID, "bob@example.com", "hunter2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "contact your administrator") {
		t.Fatalf("body does not carry the access-denied message: %s", rec.Body.String())
	}
}

func TestLoginRejectsUnknownClient(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	rec := f.login(t, "no-such-client", "alice@example.com", "hunter2", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthorizeUnknownClient(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet,
		"/authorize?client_id=ghost&redirect_uri=https%3A%2F%2Facme.example.com%2Fcb&response_type=code&state=xyz", nil)
	rec := f.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAuthorizeRequiresState(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)

	req := httptest.NewRequest(http.MethodGet,
		"/authorize?client_id="+clientID+"&redirect_uri=https%3A%2F%2Facme.example.com%2Fcb&response_type=code", nil)
	rec := f.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_request") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestAuthorizeRendersLogin(t *testing.T) {
	f := newFixture(t)
	clientID, _ := f.registerClient(t)

	req := httptest.NewRequest(http.MethodGet,
		"/authorize?client_id="+clientID+"&redirect_uri=https%3A%2F%2Facme.example.com%2Fcb&response_type=code&state=xyz", nil)
	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `name="client_id" value="`+clientID+`"`) {
		t.Fatalf("login form does not carry client_id: %s", body)
	}
	if !strings.Contains(body, "acme") {
		t.Fatalf("login form does not show client name: %s", body)
	}
}

func TestAPIKeyToken(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice@example.com", "hunter2", true)

	var owner models.User
	if errFind := f.conn.Where("email = ?", "alice@example.com").First(&owner).Error; errFind != nil {
		t.Fatalf("find user: %v", errFind)
	}
	key := models.APIKey{Token: "sk-test-123", UserID: owner.ID}
	if errCreate := f.conn.Create(&key).Error; errCreate != nil {
		t.Fatalf("create api key: %v", errCreate)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"sk-test-123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	claims := f.tokens.Verify(resp.AccessToken)
	if claims == nil {
		t.Fatal("issued token does not verify")
	}
	if claims.Origin != "apikey" {
		t.Fatalf("origin = %q", claims.Origin)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"api_key":"sk-unknown"}`))
	req.Header.Set("Content-Type", "application/json")
	if rec := f.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key status = %d, want 401", rec.Code)
	}
}

func TestWellKnown(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc struct {
		Issuer                string   `json:"issuer"`
		AuthorizationEndpoint string   `json:"authorization_endpoint"`
		CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &doc); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if doc.Issuer != "https://gate.example.com" {
		t.Fatalf("issuer = %q", doc.Issuer)
	}
	if doc.AuthorizationEndpoint != "https://gate.example.com/authorize" {
		t.Fatalf("authorization_endpoint = %q", doc.AuthorizationEndpoint)
	}
	if len(doc.CodeChallengeMethods) != 1 || doc.CodeChallengeMethods[0] != "S256" {
		t.Fatalf("code_challenge_methods_supported = %v", doc.CodeChallengeMethods)
	}
}
