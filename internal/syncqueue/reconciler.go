// Package syncqueue replays pending-write descriptors against the remote
// gateway once connectivity returns. The queues are the sole source of
// truth for what still needs sending: a descriptor is removed only on a
// confirmed replay, so repeating a drain is always safe.
package syncqueue

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

// Background-sync tags, each mapped 1:1 to a reconciler entry point.
const (
	TagSyncFavorite = "syncFavorite"
	TagSyncReview   = "syncReview"
)

var (
	errMissingDatabase = errors.New("syncqueue: database handle is required")
	errMissingGateway  = errors.New("syncqueue: gateway is required")

	// ErrUnknownTag reports a sync trigger for a tag no queue owns.
	ErrUnknownTag = errors.New("syncqueue: unknown sync tag")
)

// RemoteGateway is the subset of the gateway the reconciler replays against.
type RemoteGateway interface {
	SetFavorite(ctx context.Context, id catalog.RestaurantID, favorite bool) error
	SubmitReview(ctx context.Context, submission gateway.ReviewSubmission) (*catalog.Review, error)
}

// ConnectivitySource delivers connectivity-restored signals.
type ConnectivitySource interface {
	Subscribe() (<-chan struct{}, func())
}

// IDProvider issues replay keys for new descriptors.
type IDProvider interface {
	NewID() (string, error)
}

// Config captures the dependencies of a Reconciler.
type Config struct {
	Database *gorm.DB
	Gateway  RemoteGateway
	Signals  ConnectivitySource
	Clock    func() time.Time
	IDs      IDProvider
	Logger   *zap.Logger
}

// Reconciler owns the two pending-write queues and their drain-and-confirm
// replay discipline.
type Reconciler struct {
	restaurants   *database.Table[catalog.Restaurant]
	reviews       *database.Table[catalog.Review]
	favoriteQueue *database.Table[catalog.FavoriteRequest]
	reviewQueue   *database.Table[catalog.ReviewRequest]
	gateway       RemoteGateway
	signals       ConnectivitySource
	clock         func() time.Time
	ids           IDProvider
	logger        *zap.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		restaurants:   database.NewTable[catalog.Restaurant](cfg.Database),
		reviews:       database.NewTable[catalog.Review](cfg.Database),
		favoriteQueue: database.NewTable[catalog.FavoriteRequest](cfg.Database),
		reviewQueue:   database.NewTable[catalog.ReviewRequest](cfg.Database),
		gateway:       cfg.Gateway,
		signals:       cfg.Signals,
		clock:         clock,
		ids:           cfg.IDs,
		logger:        logger,
	}, nil
}

// EnqueueFavorite records a favorite toggle whose direct network attempt
// failed. The descriptor carries only the restaurant identifier; replay
// re-reads the current flag from the store.
func (r *Reconciler) EnqueueFavorite(ctx context.Context, restaurantID catalog.RestaurantID) error {
	descriptor := catalog.FavoriteRequest{
		RestaurantID:      restaurantID.Int64(),
		ReplayKey:         r.newReplayKey(),
		EnqueuedAtSeconds: r.clock().UTC().Unix(),
	}
	if err := r.favoriteQueue.Upsert(ctx, &descriptor); err != nil {
		return fmt.Errorf("syncqueue: enqueue favorite: %w", err)
	}
	r.logger.Info("favorite toggle queued for replay",
		zap.Int64("restaurant_id", restaurantID.Int64()))
	return nil
}

// EnqueueReview records a review submission whose direct network attempt
// failed, keyed by the locally assigned review identifier.
func (r *Reconciler) EnqueueReview(ctx context.Context, reviewID catalog.ReviewID) error {
	descriptor := catalog.ReviewRequest{
		ReviewID:          reviewID.Int64(),
		ReplayKey:         r.newReplayKey(),
		EnqueuedAtSeconds: r.clock().UTC().Unix(),
	}
	if err := r.reviewQueue.Upsert(ctx, &descriptor); err != nil {
		return fmt.Errorf("syncqueue: enqueue review: %w", err)
	}
	r.logger.Info("review submission queued for replay",
		zap.Int64("review_id", reviewID.Int64()))
	return nil
}

// DrainResult reports the outcome of one drain pass.
type DrainResult struct {
	Attempted int
	Replayed  int
}

// SyncFavorites performs one drain pass over the favorite queue.
// Descriptors are processed in enqueue order; an unconfirmed replay leaves
// its descriptor queued for a later pass. Descriptors whose restaurant no
// longer exists locally are treated as already resolved.
func (r *Reconciler) SyncFavorites(ctx context.Context) (DrainResult, error) {
	descriptors, err := collect(r.favoriteQueue.ReadAll(ctx))
	if err != nil {
		return DrainResult{}, fmt.Errorf("syncqueue: read favorite queue: %w", err)
	}

	var result DrainResult
	for _, descriptor := range descriptors {
		result.Attempted++

		restaurant, err := r.restaurants.ReadByID(ctx, descriptor.RestaurantID)
		if errors.Is(err, database.ErrNotFound) {
			if _, err := r.favoriteQueue.DeleteWhere(ctx, "restaurant_id", descriptor.RestaurantID); err != nil {
				return result, fmt.Errorf("syncqueue: drop dangling favorite descriptor: %w", err)
			}
			continue
		}
		if err != nil {
			return result, fmt.Errorf("syncqueue: resolve restaurant: %w", err)
		}

		restaurantID, err := catalog.NewRestaurantID(restaurant.ID)
		if err != nil {
			return result, err
		}
		if err := r.gateway.SetFavorite(ctx, restaurantID, restaurant.IsFavorite); err != nil {
			r.logger.Debug("favorite replay unconfirmed, left queued",
				zap.Int64("restaurant_id", restaurant.ID),
				zap.Error(err))
			continue
		}

		if _, err := r.favoriteQueue.DeleteWhere(ctx, "restaurant_id", descriptor.RestaurantID); err != nil {
			return result, fmt.Errorf("syncqueue: confirm favorite replay: %w", err)
		}
		result.Replayed++
	}

	r.logDrain("favorite", result)
	return result, nil
}

// SyncReviews performs one drain pass over the review queue, re-encoding
// each referenced review as a form-like payload. A review the API echoes
// back under a different identifier is rewritten locally under the
// server-assigned one.
func (r *Reconciler) SyncReviews(ctx context.Context) (DrainResult, error) {
	descriptors, err := collect(r.reviewQueue.ReadAll(ctx))
	if err != nil {
		return DrainResult{}, fmt.Errorf("syncqueue: read review queue: %w", err)
	}

	var result DrainResult
	for _, descriptor := range descriptors {
		result.Attempted++

		review, err := r.reviews.ReadByID(ctx, descriptor.ReviewID)
		if errors.Is(err, database.ErrNotFound) {
			if _, err := r.reviewQueue.DeleteWhere(ctx, "review_id", descriptor.ReviewID); err != nil {
				return result, fmt.Errorf("syncqueue: drop dangling review descriptor: %w", err)
			}
			continue
		}
		if err != nil {
			return result, fmt.Errorf("syncqueue: resolve review: %w", err)
		}

		restaurantID, err := catalog.NewRestaurantID(review.RestaurantID)
		if err != nil {
			return result, err
		}
		created, err := r.gateway.SubmitReview(ctx, gateway.ReviewSubmission{
			RestaurantID: restaurantID,
			Name:         review.Name,
			Rating:       review.Rating,
			Comments:     review.Comments,
			CreatedAt:    review.CreatedAt,
			UpdatedAt:    review.UpdatedAt,
			ReplayKey:    descriptor.ReplayKey,
		})
		if err != nil {
			r.logger.Debug("review replay unconfirmed, left queued",
				zap.Int64("review_id", review.ID),
				zap.Error(err))
			continue
		}

		if _, err := r.reviewQueue.DeleteWhere(ctx, "review_id", descriptor.ReviewID); err != nil {
			return result, fmt.Errorf("syncqueue: confirm review replay: %w", err)
		}
		if err := r.adoptServerReview(ctx, review, created); err != nil {
			return result, err
		}
		result.Replayed++
	}

	r.logDrain("review", result)
	return result, nil
}

// adoptServerReview rewrites a locally identified review under the
// server-assigned identifier when the API echoed the created record. When
// there is no echo the local identifier stands; the divergence is logged.
func (r *Reconciler) adoptServerReview(ctx context.Context, local catalog.Review, created *catalog.Review) error {
	if created == nil {
		r.logger.Warn("server did not echo created review; local identifier kept",
			zap.Int64("review_id", local.ID))
		return nil
	}
	if created.ID == local.ID {
		return nil
	}
	if _, err := r.reviews.DeleteWhere(ctx, "id", local.ID); err != nil {
		return fmt.Errorf("syncqueue: drop locally identified review: %w", err)
	}
	adopted := *created
	if err := r.reviews.Upsert(ctx, &adopted); err != nil {
		return fmt.Errorf("syncqueue: adopt server review: %w", err)
	}
	r.logger.Info("adopted server-assigned review identifier",
		zap.Int64("local_id", local.ID),
		zap.Int64("server_id", created.ID))
	return nil
}

// SyncTag dispatches a background-sync trigger to the queue owning the tag.
func (r *Reconciler) SyncTag(ctx context.Context, tag string) (DrainResult, error) {
	switch tag {
	case TagSyncFavorite:
		return r.SyncFavorites(ctx)
	case TagSyncReview:
		return r.SyncReviews(ctx)
	default:
		return DrainResult{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
}

// PendingFavorites reports the favorite queue depth.
func (r *Reconciler) PendingFavorites(ctx context.Context) (int64, error) {
	return r.favoriteQueue.CountWhere(ctx, nil)
}

// PendingReviews reports the review queue depth.
func (r *Reconciler) PendingReviews(ctx context.Context) (int64, error) {
	return r.reviewQueue.CountWhere(ctx, nil)
}

// Run drains both queues at start when they hold descriptors, then again on
// every connectivity-restored signal, until the context is cancelled.
// Descriptors that fail to replay stay queued, so there is no attempt cap.
func (r *Reconciler) Run(ctx context.Context) {
	var signal <-chan struct{}
	if r.signals != nil {
		subscribed, cancel := r.signals.Subscribe()
		defer cancel()
		signal = subscribed
	}

	r.drainPending(ctx)

	if signal == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-signal:
			r.drainPending(ctx)
		}
	}
}

func (r *Reconciler) drainPending(ctx context.Context) {
	if pending, err := r.PendingFavorites(ctx); err == nil && pending > 0 {
		if _, err := r.SyncFavorites(ctx); err != nil {
			r.logger.Error("favorite drain failed", zap.Error(err))
		}
	}
	if pending, err := r.PendingReviews(ctx); err == nil && pending > 0 {
		if _, err := r.SyncReviews(ctx); err != nil {
			r.logger.Error("review drain failed", zap.Error(err))
		}
	}
}

func (r *Reconciler) newReplayKey() string {
	if r.ids == nil {
		return ""
	}
	key, err := r.ids.NewID()
	if err != nil {
		return ""
	}
	return key
}

func (r *Reconciler) logDrain(queue string, result DrainResult) {
	if result.Attempted == 0 {
		return
	}
	r.logger.Info("queue drain pass complete",
		zap.String("queue", queue),
		zap.Int("attempted", result.Attempted),
		zap.Int("replayed", result.Replayed))
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
