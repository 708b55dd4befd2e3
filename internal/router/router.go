package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/psds-microservice/request-service/api"
	"github.com/psds-microservice/request-service/internal/handler"
)

func New(requestHandler *handler.RequestHandler, queueHandler *handler.QueueHandler, routingHandler *handler.RoutingHandler) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET(paths.PathHealth, gin.WrapF(handler.Health))
	r.GET(paths.PathReady, gin.WrapF(handler.Ready))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/requests", requestHandler.Create)
		v1.GET("/requests", requestHandler.List)
		v1.GET("/requests/:id", requestHandler.Get)
		v1.PUT("/requests/:id", requestHandler.Edit)
		v1.POST("/requests/:id/assign", requestHandler.Assign)
		v1.POST("/requests/:id/claim", requestHandler.Claim)
		v1.POST("/requests/:id/complete", requestHandler.Complete)
		v1.POST("/requests/:id/investigate", requestHandler.Investigate)
		v1.POST("/requests/:id/send-back", requestHandler.SendBack)
		v1.POST("/requests/:id/unable", requestHandler.MarkUnable)
		v1.POST("/requests/:id/comments", requestHandler.AddComment)

		v1.GET("/queue/available", queueHandler.Available)
		v1.GET("/queue/assigned/:userID", queueHandler.AssignedTo)
		v1.GET("/queue/submitted/:userID", queueHandler.SubmittedBy)
		v1.GET("/queue/sent-back/:userID", queueHandler.SentBackTo)
		v1.GET("/queue/status/:status", queueHandler.ByStatus)

		v1.GET("/routing-rules", routingHandler.List)
		v1.GET("/routing-rules/:serviceType", routingHandler.Get)
		v1.PUT("/routing-rules/:serviceType", routingHandler.Upsert)
		v1.DELETE("/routing-rules/:serviceType", routingHandler.Delete)
	}

	return r
}
