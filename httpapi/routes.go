package httpapi

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/weedbox/feedflow"
)

const (
	writeRateLimitRPS   = 1.0
	writeRateLimitBurst = 5
)

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, manager feedflow.FeedManager) {
	env := &Env{Manager: manager}

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(SecurityHeadersMiddleware())

	corsOrigin := os.Getenv("CORS_ORIGIN")
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{corsOrigin},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-User-Id", "X-User-Email", "X-User-Nickname"},
		ExposeHeaders: []string{"Content-Length", "X-Request-Id"},
	}))

	limiter := NewIPRateLimiter(rate.Limit(writeRateLimitRPS), writeRateLimitBurst)
	throttled := RateLimitMiddleware(limiter)

	api := router.Group("/api")
	{
		api.GET("/posts", env.GetFeed)
		api.GET("/posts/:id", env.GetPost)
		api.POST("/users", env.RegisterUser)

		auth := api.Group("", IdentityMiddleware())
		{
			auth.POST("/posts", throttled, env.CreatePost)
			auth.DELETE("/posts/:id", env.DeletePost)
			auth.POST("/posts/:id/like", env.LikePost)
			auth.DELETE("/posts/:id/like", env.UnlikePost)
			auth.POST("/posts/:id/comments", throttled, env.CreateComment)
			auth.DELETE("/posts/:id/comments/:commentId", env.DeleteComment)
			auth.POST("/posts/:id/comments/:commentId/replies", throttled, env.CreateReply)
			auth.DELETE("/posts/:id/comments/:commentId/replies/:replyId", env.DeleteReply)
		}
	}
}
