package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fernwood-labs/platefinder/internal/catalog"
	"github.com/fernwood-labs/platefinder/internal/client"
)

// registerAppRoutes exposes the facade operations the UI collaborator calls
// into: fetch-with-fallback reads and optimistic writes.
func (h *httpHandler) registerAppRoutes(group *gin.RouterGroup) {
	group.GET("/restaurants", h.handleListRestaurants)
	group.GET("/restaurants/filters", h.handleListFilters)
	group.GET("/restaurants/:id", h.handleGetRestaurant)
	group.GET("/restaurants/:id/reviews", h.handleListReviews)
	group.PUT("/restaurants/:id/favorite", h.handleSetFavorite)
	group.POST("/reviews", h.handleSubmitReview)
	group.DELETE("/reviews/:id", h.handleDeleteReview)
}

func (h *httpHandler) handleListRestaurants(c *gin.Context) {
	restaurants, err := h.app.ListRestaurants(c.Request.Context())
	if err != nil {
		h.logger.Error("restaurant listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	cuisine := c.DefaultQuery("cuisine", catalog.FilterAll)
	neighborhood := c.DefaultQuery("neighborhood", catalog.FilterAll)
	c.JSON(http.StatusOK, catalog.FilterByCuisineAndNeighborhood(restaurants, cuisine, neighborhood))
}

func (h *httpHandler) handleListFilters(c *gin.Context) {
	restaurants, err := h.app.ListRestaurants(c.Request.Context())
	if err != nil {
		h.logger.Error("restaurant listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"neighborhoods": catalog.Neighborhoods(restaurants),
		"cuisines":      catalog.Cuisines(restaurants),
	})
}

func (h *httpHandler) handleGetRestaurant(c *gin.Context) {
	id, ok := h.restaurantID(c)
	if !ok {
		return
	}
	restaurant, err := h.app.GetRestaurant(c.Request.Context(), id)
	if errors.Is(err, client.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("restaurant read failed", zap.Int64("restaurant_id", id.Int64()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, restaurant)
}

func (h *httpHandler) handleListReviews(c *gin.Context) {
	id, ok := h.restaurantID(c)
	if !ok {
		return
	}
	reviews, err := h.app.ListReviews(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("review listing failed", zap.Int64("restaurant_id", id.Int64()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, reviews)
}

type favoritePayload struct {
	IsFavorite bool `json:"is_favorite"`
}

func (h *httpHandler) handleSetFavorite(c *gin.Context) {
	id, ok := h.restaurantID(c)
	if !ok {
		return
	}
	var payload favoritePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.app.SetFavorite(c.Request.Context(), id, payload.IsFavorite); err != nil {
		h.logger.Error("favorite toggle failed", zap.Int64("restaurant_id", id.Int64()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "favorite_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_favorite": payload.IsFavorite})
}

type reviewPayload struct {
	RestaurantID int64  `json:"restaurant_id"`
	Name         string `json:"name"`
	Rating       int    `json:"rating"`
	Comments     string `json:"comments"`
}

func (h *httpHandler) handleSubmitReview(c *gin.Context) {
	var payload reviewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	restaurantID, err := catalog.NewRestaurantID(payload.RestaurantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_restaurant_id"})
		return
	}
	rating, err := catalog.NewRating(payload.Rating)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rating"})
		return
	}

	review, err := h.app.SubmitReview(c.Request.Context(), client.NewReview{
		RestaurantID: restaurantID,
		Name:         payload.Name,
		Rating:       rating,
		Comments:     payload.Comments,
	})
	if err != nil {
		h.logger.Error("review submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed"})
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *httpHandler) handleDeleteReview(c *gin.Context) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_review_id"})
		return
	}
	id, err := catalog.NewReviewID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_review_id"})
		return
	}
	if err := h.app.DeleteReview(c.Request.Context(), id); err != nil {
		h.logger.Error("review delete failed", zap.Int64("review_id", id.Int64()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) restaurantID(c *gin.Context) (catalog.RestaurantID, bool) {
	raw, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_restaurant_id"})
		return 0, false
	}
	id, err := catalog.NewRestaurantID(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_restaurant_id"})
		return 0, false
	}
	return id, true
}
