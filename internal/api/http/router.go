package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(roomController *RoomController, validationController *ValidationController, allowOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	if len(allowOrigins) == 0 || (len(allowOrigins) == 1 && allowOrigins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Content-Type",
		"Origin",
		"Accept",
		deviceHeader,
	}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	if roomController != nil {
		api.GET("/teams", roomController.ListTeams)

		rooms := api.Group("/rooms")
		rooms.POST("", roomController.CreateRoom)
		rooms.GET("/:code", roomController.GetRoom)
		rooms.DELETE("/:code", roomController.DeleteRoom)
		rooms.POST("/:code/buzz", roomController.BuzzIn)
		rooms.POST("/:code/reset", roomController.ResetBuzzer)
		rooms.GET("/:code/ws", roomController.WatchRoom)
	}

	if validationController != nil {
		validation := api.Group("/validation")
		validation.POST("", validationController.Validate)
		validation.GET("", validationController.Status)
		validation.DELETE("", validationController.Reset)
		validation.POST("/input", validationController.InputEdited)
		validation.GET("/ws", validationController.WatchStatus)
	}

	return router
}
