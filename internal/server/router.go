package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernwood-labs/platefinder/internal/client"
	"github.com/fernwood-labs/platefinder/internal/shellcache"
	"github.com/fernwood-labs/platefinder/internal/syncqueue"
)

var (
	errMissingWorker     = errors.New("interception worker dependency required")
	errMissingReconciler = errors.New("reconciler dependency required")
	errMissingApp        = errors.New("app facade dependency required")
)

// InterceptionWorker serves intercepted requests and accepts the
// skip-waiting control message.
type InterceptionWorker interface {
	http.Handler
	SkipWaiting(ctx context.Context) error
	State() shellcache.WorkerState
}

// SyncTrigger dispatches background-sync tags and reports queue depths.
type SyncTrigger interface {
	SyncTag(ctx context.Context, tag string) (syncqueue.DrainResult, error)
	PendingFavorites(ctx context.Context) (int64, error)
	PendingReviews(ctx context.Context) (int64, error)
}

// ConnectivityStatus reports the last observed reachability.
type ConnectivityStatus interface {
	Online() bool
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	Worker       InterceptionWorker
	Reconciler   SyncTrigger
	App          *client.App
	Connectivity ConnectivityStatus
	Logger       *zap.Logger
}

// NewHTTPHandler builds the agent's HTTP surface: the control channel under
// /control and the fetch-interception policy for every other request.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Worker == nil {
		return nil, errMissingWorker
	}
	if deps.Reconciler == nil {
		return nil, errMissingReconciler
	}
	if deps.App == nil {
		return nil, errMissingApp
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		worker:       deps.Worker,
		reconciler:   deps.Reconciler,
		app:          deps.App,
		connectivity: deps.Connectivity,
		logger:       logger,
	}

	control := router.Group("/control")
	control.POST("/skip-waiting", handler.handleSkipWaiting)
	control.POST("/sync/:tag", handler.handleSyncTag)
	control.GET("/status", handler.handleStatus)

	handler.registerAppRoutes(router.Group("/app"))

	// Everything that is not a control message goes through the
	// interception policy.
	router.NoRoute(gin.WrapH(deps.Worker))

	return router, nil
}

type httpHandler struct {
	worker       InterceptionWorker
	reconciler   SyncTrigger
	app          *client.App
	connectivity ConnectivityStatus
	logger       *zap.Logger
}

func (h *httpHandler) handleSkipWaiting(c *gin.Context) {
	if err := h.worker.SkipWaiting(c.Request.Context()); err != nil {
		if errors.Is(err, shellcache.ErrNotWaiting) {
			c.JSON(http.StatusConflict, gin.H{"error": "not_waiting"})
			return
		}
		h.logger.Error("skip-waiting failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.worker.State().String()})
}

func (h *httpHandler) handleSyncTag(c *gin.Context) {
	tag := c.Param("tag")
	result, err := h.reconciler.SyncTag(c.Request.Context(), tag)
	if err != nil {
		if errors.Is(err, syncqueue.ErrUnknownTag) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_tag"})
			return
		}
		h.logger.Error("sync trigger failed", zap.String("tag", tag), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tag":       tag,
		"attempted": result.Attempted,
		"replayed":  result.Replayed,
	})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	pendingFavorites, err := h.reconciler.PendingFavorites(ctx)
	if err != nil {
		h.logger.Error("pending favorites count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}
	pendingReviews, err := h.reconciler.PendingReviews(ctx)
	if err != nil {
		h.logger.Error("pending reviews count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
		return
	}

	online := true
	if h.connectivity != nil {
		online = h.connectivity.Online()
	}
	c.JSON(http.StatusOK, gin.H{
		"worker_state":      h.worker.State().String(),
		"online":            online,
		"pending_favorites": pendingFavorites,
		"pending_reviews":   pendingReviews,
	})
}
