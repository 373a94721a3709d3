package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/voxhall/voxhall/internal/adapters/signal"
	"github.com/voxhall/voxhall/internal/app"
	"github.com/voxhall/voxhall/internal/auth"
	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/domain"
	"github.com/voxhall/voxhall/internal/store"
)

type Deps struct {
	Cfg      *config.Config
	Auth     *auth.Service
	Sessions *app.SessionRegistry
	Records  *store.Store
	Signal   *signal.Controller
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=36"`
	Password string `json:"password" binding:"required,min=8"`
}

type authResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

func SetupRouter(ctx context.Context, d Deps) *gin.Engine {
	if d.Cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if d.Cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(d.Cfg.Secret))
	r.Use(sessions.Sessions("VoxhallSessions", cookieStore))

	r.Static("/static", d.Cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(d.Cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", d.Cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.POST("/auth/register", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid credentials"})
			return
		}
		user, token, err := d.Auth.Register(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, auth.ErrUsernameTaken) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		rememberToken(c, token)
		c.JSON(http.StatusCreated, authResponse{User: *user, Token: token})
	})

	api.POST("/auth/login", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid credentials"})
			return
		}
		user, token, err := d.Auth.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		rememberToken(c, token)
		c.JSON(http.StatusOK, authResponse{User: *user, Token: token})
	})

	// Logout drops the session registry entry; the live WS connection, if
	// any, is torn down by the presence engine when its transport closes.
	api.POST("/auth/logout", func(c *gin.Context) {
		sess := sessions.Default(c)
		if token, _ := sess.Get("token").(string); token != "" {
			d.Sessions.Invalidate(token)
		}
		sess.Delete("token")
		if err := sess.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("cookie session clear failed")
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// The web client restores its session token from the cookie session
	// after a page reload.
	api.GET("/auth/session", func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("token").(string)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	api.GET("/servers", func(c *gin.Context) {
		servers, err := d.Records.Servers(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("listing servers")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"servers": servers})
	})

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	return r
}

func rememberToken(c *gin.Context, token string) {
	sess := sessions.Default(c)
	sess.Set("token", token)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("cookie session save failed")
	}
}
