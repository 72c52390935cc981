package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/stream-queue-system/pkg/database"
	"github.com/stream-queue-system/pkg/jwt"
	"github.com/stream-queue-system/pkg/models"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type Handler struct {
	oauth       *oauth2.Config
	db          *database.DB
	jwtSecret   string
	frontendURL string
	log         *zap.Logger
}

func NewHandler(clientID, clientSecret, redirectURL, jwtSecret, frontendURL string, db *database.DB, log *zap.Logger) *Handler {
	return &Handler{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email"},
			Endpoint:     google.Endpoint,
		},
		db:          db,
		jwtSecret:   jwtSecret,
		frontendURL: frontendURL,
		log:         log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)

		protected := auth.Group("", Middleware(h.jwtSecret))
		protected.GET("/me", h.me)
	}
}

func (h *Handler) login(c *gin.Context) {
	state := uuid.New().String()
	c.JSON(http.StatusOK, gin.H{"url": h.oauth.AuthCodeURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	token, err := h.oauth.Exchange(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	email, err := h.fetchEmail(c, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	user, err := h.resolveUser(email)
	if err != nil {
		h.log.Error("failed to resolve user", zap.String("email", email), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve user"})
		return
	}

	jwtToken, err := jwt.GenerateToken(h.jwtSecret, user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     "auth_token",
		Value:    jwtToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})

	c.Redirect(http.StatusFound, h.frontendURL)
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"id": c.GetString("user_id")})
}

func (h *Handler) fetchEmail(c *gin.Context, token *oauth2.Token) (string, error) {
	resp, err := h.oauth.Client(c.Request.Context(), token).Get(userinfoURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo response missing email")
	}
	return info.Email, nil
}

// resolveUser finds the user by email, creating the row on first sign-in.
func (h *Handler) resolveUser(email string) (*models.User, error) {
	user, err := h.db.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &models.User{
		ID:       uuid.New(),
		Email:    email,
		Provider: models.ProviderGoogle,
	}
	if err := h.db.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}
