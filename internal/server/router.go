package server

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"bucketd/internal/admin"
	"bucketd/internal/auth"
	"bucketd/internal/blob"
	"bucketd/internal/bucket"
	"bucketd/internal/config"
	"bucketd/internal/file"
	"bucketd/internal/logger"
	"bucketd/internal/metrics"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config        config.Config
	DB            *pgxpool.Pool
	BlobStore     *blob.Store
	Logger        *zap.Logger
	AuthService   *auth.Service
	BucketService *bucket.Service
	FileService   *file.Service
	AdminRepo     *admin.Repository
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware(deps.Logger))
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService)

		protected := api.Group("/")
		protected.Use(auth.Middleware(deps.AuthService))

		auth.RegisterProtectedRoutes(protected, deps.AuthService)
		if deps.BucketService != nil {
			bucket.RegisterRoutes(protected, deps.BucketService)
		}
		if deps.FileService != nil {
			file.RegisterRoutes(protected, deps.FileService)
		}
		if deps.AdminRepo != nil {
			admin.RegisterRoutes(protected, deps.AdminRepo)
		}
	}

	return router
}
