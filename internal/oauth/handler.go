package oauth

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gonggate/internal/codestore"
	"gonggate/internal/models"
	"gonggate/internal/security"
	"gonggate/internal/token"
	"gonggate/internal/track"
	"gonggate/internal/users"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

//go:embed templates/login.html
var templatesFS embed.FS

const (
	accessDeniedMessage = "You don't have access to this service. " +
		"Please contact your administrator to request access."
	badCredentialsMessage = "Incorrect email or password"
)

// Handler implements the authorization-code + PKCE flow: client
// registration, login, code issuance, and token exchange.
type Handler struct {
	db      *gorm.DB
	codes   codestore.Store
	tokens  *token.Service
	users   *users.Service
	tracker track.Tracker
	baseURL string
}

// NewHandler constructs a Handler.
func NewHandler(db *gorm.DB, codes codestore.Store, tokens *token.Service, userSvc *users.Service, tracker track.Tracker, baseURL string) *Handler {
	if tracker == nil {
		tracker = track.Noop{}
	}
	return &Handler{
		db:      db,
		codes:   codes,
		tokens:  tokens,
		users:   userSvc,
		tracker: tracker,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

// RegisterRoutes installs the OAuth endpoints and the login template.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	if r == nil || h == nil {
		return
	}
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	r.POST("/register", h.Register)
	r.GET("/authorize", h.Authorize)
	r.POST("/login", h.Login)
	r.POST("/token", h.Token)
	r.POST("/auth/token", h.APIKeyToken)
	r.GET("/.well-known/oauth-authorization-server", h.WellKnown)
}

// Register handles dynamic client registration.
func (h *Handler) Register(c *gin.Context) {
	// body holds the registration request payload.
	var body struct {
		ClientName              string   `json:"client_name"`
		RedirectURIs            []string `json:"redirect_uris"`
		TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.ClientName)
	if name == "" || len(body.RedirectURIs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "client_name and redirect_uris are required"})
		return
	}
	authMethod := strings.TrimSpace(body.TokenEndpointAuthMethod)
	if authMethod == "" {
		authMethod = "client_secret_post"
	}

	clientID, errID := security.GenerateToken(16)
	if errID != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "generate client id failed"})
		return
	}
	clientSecret, errSecret := security.GenerateToken(32)
	if errSecret != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "generate client secret failed"})
		return
	}

	uris, errMarshal := json.Marshal(body.RedirectURIs)
	if errMarshal != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "encode redirect uris failed"})
		return
	}

	row := models.OAuthClient{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ClientName:   name,
		RedirectURIs: datatypes.JSON(uris),
		CreatedAt:    time.Now().UTC(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		// Token generation collided with an existing client; the
		// caller may simply retry.
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_client_metadata", "error_description": "client already exists"})
		return
	}

	log.WithField("client_name", name).Info("registered oauth client")
	c.JSON(http.StatusCreated, gin.H{
		"client_id":                  clientID,
		"client_secret":              clientSecret,
		"client_name":                name,
		"redirect_uris":              body.RedirectURIs,
		"token_endpoint_auth_method": authMethod,
		"grant_types":                []string{"authorization_code"},
		"response_types":             []string{"code"},
	})
}

// Authorize validates the client and renders the login prompt.
func (h *Handler) Authorize(c *gin.Context) {
	// query holds the authorization request parameters.
	var query struct {
		ClientID            string `form:"client_id" binding:"required"`
		RedirectURI         string `form:"redirect_uri" binding:"required"`
		ResponseType        string `form:"response_type" binding:"required"`
		State               string `form:"state" binding:"required"`
		CodeChallenge       string `form:"code_challenge"`
		CodeChallengeMethod string `form:"code_challenge_method"`
	}
	if errBind := c.ShouldBindQuery(&query); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "missing required parameters"})
		return
	}

	client, errFind := h.findClient(c, query.ClientID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "client lookup failed"})
		return
	}
	if client == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "invalid client or redirect_uri"})
		return
	}

	c.HTML(http.StatusOK, "login.html", gin.H{
		"client_id":      query.ClientID,
		"client_name":    client.ClientName,
		"redirect_uri":   query.RedirectURI,
		"state":          query.State,
		"code_challenge": query.CodeChallenge,
		"email":          "",
	})
}

// Login verifies credentials and gate access, then issues a single-use
// authorization code and redirects back to the client.
func (h *Handler) Login(c *gin.Context) {
	// form holds the submitted login fields.
	var form struct {
		Email         string `form:"email" binding:"required"`
		Password      string `form:"password" binding:"required"`
		ClientID      string `form:"client_id" binding:"required"`
		RedirectURI   string `form:"redirect_uri" binding:"required"`
		CodeChallenge string `form:"code_challenge"`
		State         string `form:"state"`
	}
	if errBind := c.ShouldBind(&form); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "missing required fields"})
		return
	}

	client, errFind := h.findClient(c, form.ClientID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "client lookup failed"})
		return
	}
	if client == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "invalid client credentials"})
		return
	}

	ctx := c.Request.Context()
	renderError := func(message string) {
		c.HTML(http.StatusOK, "login.html", gin.H{
			"client_id":      form.ClientID,
			"client_name":    client.ClientName,
			"redirect_uri":   form.RedirectURI,
			"state":          form.State,
			"code_challenge": form.CodeChallenge,
			"email":          form.Email,
			"error_message":  message,
		})
	}

	if !h.users.ValidatePassword(ctx, form.Email, form.Password) {
		renderError(badCredentialsMessage)
		return
	}

	hasAccess, errAccess := h.users.HasGateAccess(ctx, form.Email)
	if errAccess != nil {
		log.WithError(errAccess).Error("gate access lookup failed")
		renderError("Something went wrong. Please try again.")
		return
	}
	if !hasAccess {
		log.WithField("email", form.Email).Info("login without gate access")
		renderError(accessDeniedMessage)
		return
	}

	userTier := h.users.ResolveTier(ctx, form.Email)

	code, errCode := security.GenerateToken(32)
	if errCode != nil {
		log.WithError(errCode).Error("generate authorization code failed")
		renderError("Something went wrong. Please try again.")
		return
	}
	errSave := h.codes.Save(ctx, code, codestore.AuthCode{
		ClientID:      form.ClientID,
		RedirectURI:   form.RedirectURI,
		CodeChallenge: form.CodeChallenge,
		Email:         form.Email,
		Tier:          string(userTier),
		Origin:        client.ClientName,
	}, codestore.DefaultTTL)
	if errSave != nil {
		log.WithError(errSave).Error("store authorization code failed")
		renderError("Something went wrong. Please try again.")
		return
	}

	h.tracker.Track(form.Email, "oauth_login", map[string]any{
		"origin":       client.ClientName,
		"client_id":    form.ClientID,
		"redirect_uri": form.RedirectURI,
		"user_tier":    string(userTier),
	})

	query := url.Values{}
	query.Set("code", code)
	query.Set("state", form.State)
	c.Redirect(http.StatusFound, form.RedirectURI+"?"+query.Encode())
}

// Token redeems an authorization code for a session token. Secret and
// PKCE checks are independent and each enforced only when its input is
// present, so public and confidential clients both work.
func (h *Handler) Token(c *gin.Context) {
	// form holds the token exchange fields.
	var form struct {
		GrantType    string `form:"grant_type"`
		Code         string `form:"code"`
		RedirectURI  string `form:"redirect_uri"`
		ClientID     string `form:"client_id"`
		ClientSecret string `form:"client_secret"`
		CodeVerifier string `form:"code_verifier"`
	}
	if errBind := c.ShouldBind(&form); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "invalid form body"})
		return
	}

	ctx := c.Request.Context()

	data, errRedeem := h.codes.Redeem(ctx, form.Code)
	if errRedeem != nil {
		log.WithError(errRedeem).Error("redeem authorization code failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "code lookup failed"})
		return
	}
	if data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "invalid or expired code"})
		return
	}

	if data.ClientID != form.ClientID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client", "error_description": "mismatched client_id"})
		return
	}

	if form.ClientSecret != "" {
		client, errFind := h.findClient(c, form.ClientID)
		if errFind != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "client lookup failed"})
			return
		}
		if client == nil || client.ClientSecret != form.ClientSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "invalid client credentials"})
			return
		}
	}

	if form.CodeVerifier != "" {
		if !security.VerifyPKCE(data.CodeChallenge, form.CodeVerifier) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "PKCE verification failed"})
			return
		}
	}

	accessToken, errMint := h.tokens.Mint(data.Email, data.Tier, data.Origin)
	if errMint != nil {
		log.WithError(errMint).Error("mint session token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "token issuance failed"})
		return
	}

	log.WithField("email", data.Email).Info("issued session token")
	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Validity().Seconds()),
	})
}

// APIKeyToken exchanges a machine API key for a session token.
func (h *Handler) APIKeyToken(c *gin.Context) {
	// body holds the API key exchange payload.
	var body struct {
		APIKey string `json:"api_key" binding:"required"`
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "api_key is required"})
		return
	}

	ctx := c.Request.Context()
	owner, errFind := h.users.FindByAPIKey(ctx, body.APIKey)
	if errFind != nil {
		log.WithError(errFind).Error("api key lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "api key lookup failed"})
		return
	}
	if owner == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "invalid api key"})
		return
	}

	userTier := h.users.ResolveTier(ctx, owner.Email)
	accessToken, errMint := h.tokens.Mint(owner.Email, string(userTier), "apikey")
	if errMint != nil {
		log.WithError(errMint).Error("mint session token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "token issuance failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   int(h.tokens.Validity().Seconds()),
	})
}

// WellKnown serves the static authorization-server discovery document.
func (h *Handler) WellKnown(c *gin.Context) {
	base := h.baseURL
	if base == "" {
		scheme := "https"
		if c.Request.TLS == nil {
			scheme = "http"
		}
		base = scheme + "://" + c.Request.Host
	}
	c.JSON(http.StatusOK, gin.H{
		"issuer":                                base,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"registration_endpoint":                 base + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post"},
	})
}

// findClient looks up a registered client, returning nil when unknown.
func (h *Handler) findClient(c *gin.Context, clientID string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	errFind := h.db.WithContext(c.Request.Context()).Where("client_id = ?", clientID).First(&client).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, fmt.Errorf("oauth: find client: %w", errFind)
	}
	return &client, nil
}
