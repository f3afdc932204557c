package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/handlers"
	"github.com/can61cebi/sorukayisi-backend/middleware"
	"github.com/can61cebi/sorukayisi-backend/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(
	router *gin.Engine,
	authHandler *handlers.AuthHandler,
	questionHandler *handlers.QuestionHandler,
	gameHandler *handlers.GameHandler,
	hub *services.Hub,
	authService *services.AuthService,
	log zerolog.Logger,
) {
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware(authService))
		{
			protected.GET("/auth/profile", authHandler.GetProfile)

			admin := protected.Group("/admin")
			{
				admin.GET("/pending-teachers", authHandler.PendingTeachers)
				admin.POST("/approve/:id", authHandler.ApproveUser)
			}

			sets := protected.Group("/question-sets")
			{
				sets.GET("", questionHandler.GetQuestionSets)
				sets.POST("", questionHandler.CreateQuestionSet)
				sets.GET("/:id", questionHandler.GetQuestionSet)
				sets.PUT("/:id", questionHandler.UpdateQuestionSet)
				sets.DELETE("/:id", questionHandler.DeleteQuestionSet)
			}

			games := protected.Group("/games")
			{
				games.POST("", gameHandler.CreateGame)
				games.GET("/:code/statistics", gameHandler.GetStatistics)
			}
		}

		// Public game lookups for the join screen and spectators
		games := api.Group("/games")
		{
			games.GET("/:code", gameHandler.GetGame)
			games.GET("/:code/leaderboard", gameHandler.GetLeaderboard)
		}
	}

	// Single websocket endpoint; the session is anonymous until it joins or
	// reconnects. A token query binds the connection to a registered user.
	router.GET("/ws", func(c *gin.Context) {
		var user *game.UserRef
		if token := c.Query("token"); token != "" {
			claims, err := authService.ValidateToken(token)
			if err != nil {
				log.Debug().Err(err).Msg("websocket token rejected, connecting as guest")
			} else if id, err := claims.UserID(); err == nil {
				if u, err := authService.GetUser(id); err == nil {
					user = &game.UserRef{ID: u.ID, Username: u.Username}
				}
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		hub.Connect(conn, user)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
