package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/handler"
)

func Setup(cfg *config.Config, researchHandler *handler.ResearchHandler) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	// SSE 不能过压缩中间件，否则事件无法及时刷出
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/stream$`})))

	api := r.Group("/api")
	{
		research := api.Group("/research")
		{
			research.POST("", researchHandler.Create)
			research.GET("", researchHandler.List)
			research.GET("/:id", researchHandler.Get)
			research.GET("/:id/stream", researchHandler.Stream)
			research.GET("/:id/report.html", researchHandler.Report)
		}
	}

	return r
}
