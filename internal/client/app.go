// Package client is the surface the UI collaborator calls into: reads fall
// back to last-known local data, writes apply optimistically and convert
// network failure into queued-for-later-retry state.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fernwood-labs/platefinder/internal/catalog"
	"github.com/fernwood-labs/platefinder/internal/database"
	"github.com/fernwood-labs/platefinder/internal/gateway"
)

// ErrNotFound reports a record absent both locally and remotely.
var ErrNotFound = database.ErrNotFound

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingGateway  = errors.New("gateway is required")
	noOpLogger         = zap.NewNop()
)

// offlineNotice is shown once a write has been queued instead of sent.
const offlineNotice = "You're offline. Your changes will be sent when you're back online."

// ServiceError carries an operation-scoped failure code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opAppNew          = "client.app.new"
	opListRestaurants = "client.list_restaurants"
	opGetRestaurant   = "client.get_restaurant"
	opSetFavorite     = "client.set_favorite"
	opListReviews     = "client.list_reviews"
	opSubmitReview    = "client.submit_review"
	opDeleteReview    = "client.delete_review"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Notifier shows the transient, auto-dismissing user notification. The
// rendering is the collaborator's concern.
type Notifier interface {
	Notify(message string)
}

type noOpNotifier struct{}

func (noOpNotifier) Notify(string) {}

// Gateway is the remote API surface the app composes fallback around.
type Gateway interface {
	ListRestaurants(ctx context.Context) ([]catalog.Restaurant, error)
	GetRestaurant(ctx context.Context, id catalog.RestaurantID) (catalog.Restaurant, error)
	SetFavorite(ctx context.Context, id catalog.RestaurantID, favorite bool) error
	ListReviews(ctx context.Context, restaurantID catalog.RestaurantID) ([]catalog.Review, error)
	SubmitReview(ctx context.Context, submission gateway.ReviewSubmission) (*catalog.Review, error)
	DeleteReview(ctx context.Context, id catalog.ReviewID) error
}

// WriteQueue accepts pending-write descriptors for deferred replay. A nil
// queue means no offline capability: failed writes are dropped and logged.
type WriteQueue interface {
	EnqueueFavorite(ctx context.Context, restaurantID catalog.RestaurantID) error
	EnqueueReview(ctx context.Context, reviewID catalog.ReviewID) error
}

// Config captures the dependencies of an App.
type Config struct {
	Database *gorm.DB
	Gateway  Gateway
	Queue    WriteQueue
	Notifier Notifier
	Clock    func() time.Time
	Logger   *zap.Logger
}

// App is the application facade handed to the UI collaborator.
type App struct {
	restaurants *database.Table[catalog.Restaurant]
	reviews     *database.Table[catalog.Review]
	gateway     Gateway
	queue       WriteQueue
	notifier    Notifier
	clock       func() time.Time
	logger      *zap.Logger
}

// NewApp constructs the facade.
func NewApp(cfg Config) (*App, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opAppNew, "missing_database", errMissingDatabase)
	}
	if cfg.Gateway == nil {
		return nil, newServiceError(opAppNew, "missing_gateway", errMissingGateway)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = noOpNotifier{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &App{
		restaurants: database.NewTable[catalog.Restaurant](cfg.Database),
		reviews:     database.NewTable[catalog.Review](cfg.Database),
		gateway:     cfg.Gateway,
		queue:       cfg.Queue,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
	}, nil
}

// ListRestaurants reads the collection from the network, refreshing the
// local store wholesale; on failure it serves the last-known local data.
func (a *App) ListRestaurants(ctx context.Context) ([]catalog.Restaurant, error) {
	restaurants, err := a.gateway.ListRestaurants(ctx)
	if err == nil {
		for index := range restaurants {
			if storeErr := a.restaurants.Upsert(ctx, &restaurants[index]); storeErr != nil {
				return nil, newServiceError(opListRestaurants, "store_refresh_failed", storeErr)
			}
		}
		return restaurants, nil
	}

	a.logger.Debug("restaurant fetch fell back to local store", zap.Error(err))
	local, storeErr := collect(a.restaurants.ReadAll(ctx))
	if storeErr != nil {
		return nil, newServiceError(opListRestaurants, "local_read_failed", storeErr)
	}
	return local, nil
}

// GetRestaurant reads one restaurant, network first, local fallback.
// ErrNotFound means the record is absent both locally and remotely.
func (a *App) GetRestaurant(ctx context.Context, id catalog.RestaurantID) (catalog.Restaurant, error) {
	restaurant, err := a.gateway.GetRestaurant(ctx, id)
	if err == nil {
		if storeErr := a.restaurants.Upsert(ctx, &restaurant); storeErr != nil {
			return catalog.Restaurant{}, newServiceError(opGetRestaurant, "store_refresh_failed", storeErr)
		}
		return restaurant, nil
	}

	a.logger.Debug("restaurant fetch fell back to local store",
		zap.Int64("restaurant_id", id.Int64()),
		zap.Error(err))
	local, storeErr := a.restaurants.ReadByID(ctx, id.Int64())
	if errors.Is(storeErr, database.ErrNotFound) {
		return catalog.Restaurant{}, storeErr
	}
	if storeErr != nil {
		return catalog.Restaurant{}, newServiceError(opGetRestaurant, "local_read_failed", storeErr)
	}
	return local, nil
}

// ListReviews reads a restaurant's reviews, network first, local fallback.
func (a *App) ListReviews(ctx context.Context, restaurantID catalog.RestaurantID) ([]catalog.Review, error) {
	reviews, err := a.gateway.ListReviews(ctx, restaurantID)
	if err == nil {
		for index := range reviews {
			if storeErr := a.reviews.Upsert(ctx, &reviews[index]); storeErr != nil {
				return nil, newServiceError(opListReviews, "store_refresh_failed", storeErr)
			}
		}
		return reviews, nil
	}

	a.logger.Debug("review fetch fell back to local store",
		zap.Int64("restaurant_id", restaurantID.Int64()),
		zap.Error(err))
	all, storeErr := collect(a.reviews.ReadAll(ctx))
	if storeErr != nil {
		return nil, newServiceError(opListReviews, "local_read_failed", storeErr)
	}
	local := make([]catalog.Review, 0, len(all))
	for _, review := range all {
		if review.RestaurantID == restaurantID.Int64() {
			local = append(local, review)
		}
	}
	return local, nil
}

// SetFavorite applies the toggle optimistically to the local record, then
// attempts the remote write once. A failed attempt becomes a queued
// descriptor, never a user-facing error.
func (a *App) SetFavorite(ctx context.Context, id catalog.RestaurantID, favorite bool) error {
	restaurant, err := a.restaurants.ReadByID(ctx, id.Int64())
	if err != nil {
		return newServiceError(opSetFavorite, "local_read_failed", err)
	}
	restaurant.IsFavorite = favorite
	if err := a.restaurants.Upsert(ctx, &restaurant); err != nil {
		return newServiceError(opSetFavorite, "local_write_failed", err)
	}

	if err := a.gateway.SetFavorite(ctx, id, favorite); err != nil {
		a.deferWrite(opSetFavorite, err, func() error {
			return a.queue.EnqueueFavorite(ctx, id)
		})
	}
	return nil
}

// NewReview is the UI submission payload for a review.
type NewReview struct {
	RestaurantID catalog.RestaurantID
	Name         string
	Rating       catalog.Rating
	Comments     string
}

// SubmitReview stores the review locally under an auto-assigned identifier
// so it renders immediately, then attempts the remote write once. On remote
// success the server-assigned identifier is adopted; on failure the
// submission is queued for replay.
func (a *App) SubmitReview(ctx context.Context, submission NewReview) (catalog.Review, error) {
	if submission.Name == "" {
		return catalog.Review{}, newServiceError(opSubmitReview, "invalid_author", catalog.ErrInvalidAuthor)
	}

	now := a.clock().UTC()
	review := catalog.Review{
		RestaurantID: submission.RestaurantID.Int64(),
		Name:         submission.Name,
		Rating:       submission.Rating.Int(),
		Comments:     submission.Comments,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.reviews.Upsert(ctx, &review); err != nil {
		return catalog.Review{}, newServiceError(opSubmitReview, "local_write_failed", err)
	}

	created, err := a.gateway.SubmitReview(ctx, gateway.ReviewSubmission{
		RestaurantID: submission.RestaurantID,
		Name:         submission.Name,
		Rating:       submission.Rating.Int(),
		Comments:     submission.Comments,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		reviewID, idErr := catalog.NewReviewID(review.ID)
		if idErr != nil {
			return catalog.Review{}, newServiceError(opSubmitReview, "local_id_invalid", idErr)
		}
		a.deferWrite(opSubmitReview, err, func() error {
			return a.queue.EnqueueReview(ctx, reviewID)
		})
		return review, nil
	}

	if created != nil && created.ID != review.ID {
		if _, err := a.reviews.DeleteWhere(ctx, "id", review.ID); err != nil {
			return catalog.Review{}, newServiceError(opSubmitReview, "adopt_failed", err)
		}
		adopted := *created
		if err := a.reviews.Upsert(ctx, &adopted); err != nil {
			return catalog.Review{}, newServiceError(opSubmitReview, "adopt_failed", err)
		}
		return adopted, nil
	}
	return review, nil
}

// DeleteReview removes the review locally and attempts the remote delete.
// A failed remote delete is logged and notified but never queued.
func (a *App) DeleteReview(ctx context.Context, id catalog.ReviewID) error {
	if _, err := a.reviews.DeleteWhere(ctx, "id", id.Int64()); err != nil {
		return newServiceError(opDeleteReview, "local_delete_failed", err)
	}
	if err := a.gateway.DeleteReview(ctx, id); err != nil {
		a.logger.Warn("remote review delete failed",
			zap.Int64("review_id", id.Int64()),
			zap.Error(err))
		a.notifier.Notify(offlineNotice)
	}
	return nil
}

// HasLocalData reports whether the restaurant cache has ever been
// populated, used by the collaborator to decide on a first-run full fetch.
func (a *App) HasLocalData(ctx context.Context) (bool, error) {
	count, err := a.restaurants.CountWhere(ctx, nil)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// deferWrite converts a failed remote write into queued state. Without a
// durable queue the write is dropped and only logged.
func (a *App) deferWrite(operation string, cause error, enqueue func() error) {
	if a.queue == nil {
		a.logger.Error("write dropped, no durable queue available",
			zap.String("operation", operation),
			zap.Error(cause))
		return
	}
	if err := enqueue(); err != nil {
		a.logger.Error("failed to queue write for replay",
			zap.String("operation", operation),
			zap.Error(err))
		return
	}
	a.logger.Info("write queued for replay",
		zap.String("operation", operation),
		zap.Error(cause))
	a.notifier.Notify(offlineNotice)
}

func collect[T any](sequence func(yield func(T, error) bool)) ([]T, error) {
	var records []T
	var failure error
	sequence(func(record T, err error) bool {
		if err != nil {
			failure = err
			return false
		}
		records = append(records, record)
		return true
	})
	if failure != nil {
		return nil, failure
	}
	return records, nil
}
