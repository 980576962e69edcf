package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/khaledhikmat/df-go/dispatch"
	"github.com/khaledhikmat/df-go/preview"
	"github.com/khaledhikmat/df-go/render"
	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/lgr"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	svcs       service.ServicesFactory
	rc         *render.Context
	dispatcher *dispatch.Dispatcher
	previews   *preview.Builder
	router     *gin.Engine
}

func NewServer(svcs service.ServicesFactory, rc *render.Context, dispatcher *dispatch.Dispatcher) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	router.SetHTMLTemplate(rc.Templates())
	router.MaxMultipartMemory = 32 << 20

	s := &Server{
		svcs:       svcs,
		rc:         rc,
		dispatcher: dispatcher,
		previews:   preview.New(svcs.CfgSvc, svcs.ProbeSvc, svcs.StorageSvc),
		router:     router,
	}

	router.GET("/", s.handlePage)
	router.POST("/detect", s.handleDetect)
	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	api.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:   []string{"Content-Length", requestIDHeader},
		MaxAge:          12 * time.Hour,
	}))
	api.GET("/options", s.handleOptions)
	api.POST("/detect", s.handleAPIDetect)
	api.POST("/detect/stream", s.handleAPIDetectStream)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("requestID", id)

		c.Next()

		lgr.Logger.Info("http request",
			slog.String("id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
