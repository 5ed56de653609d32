package client

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/fernwood-labs/platefinder/internal/catalog"
	"github.com/fernwood-labs/platefinder/internal/database"
	"github.com/fernwood-labs/platefinder/internal/gateway"
)

var errOffline = errors.New("origin unreachable")

type stubGateway struct {
	listRestaurants func(ctx context.Context) ([]catalog.Restaurant, error)
	getRestaurant   func(ctx context.Context, id catalog.RestaurantID) (catalog.Restaurant, error)
	setFavorite     func(ctx context.Context, id catalog.RestaurantID, favorite bool) error
	listReviews     func(ctx context.Context, restaurantID catalog.RestaurantID) ([]catalog.Review, error)
	submitReview    func(ctx context.Context, submission gateway.ReviewSubmission) (*catalog.Review, error)
	deleteReview    func(ctx context.Context, id catalog.ReviewID) error
}

func (g *stubGateway) ListRestaurants(ctx context.Context) ([]catalog.Restaurant, error) {
	if g.listRestaurants == nil {
		return nil, errOffline
	}
	return g.listRestaurants(ctx)
}

func (g *stubGateway) GetRestaurant(ctx context.Context, id catalog.RestaurantID) (catalog.Restaurant, error) {
	if g.getRestaurant == nil {
		return catalog.Restaurant{}, errOffline
	}
	return g.getRestaurant(ctx, id)
}

func (g *stubGateway) SetFavorite(ctx context.Context, id catalog.RestaurantID, favorite bool) error {
	if g.setFavorite == nil {
		return errOffline
	}
	return g.setFavorite(ctx, id, favorite)
}

func (g *stubGateway) ListReviews(ctx context.Context, restaurantID catalog.RestaurantID) ([]catalog.Review, error) {
	if g.listReviews == nil {
		return nil, errOffline
	}
	return g.listReviews(ctx, restaurantID)
}

func (g *stubGateway) SubmitReview(ctx context.Context, submission gateway.ReviewSubmission) (*catalog.Review, error) {
	if g.submitReview == nil {
		return nil, errOffline
	}
	return g.submitReview(ctx, submission)
}

func (g *stubGateway) DeleteReview(ctx context.Context, id catalog.ReviewID) error {
	if g.deleteReview == nil {
		return errOffline
	}
	return g.deleteReview(ctx, id)
}

type recordingQueue struct {
	favorites []catalog.RestaurantID
	reviews   []catalog.ReviewID
}

func (q *recordingQueue) EnqueueFavorite(_ context.Context, restaurantID catalog.RestaurantID) error {
	q.favorites = append(q.favorites, restaurantID)
	return nil
}

func (q *recordingQueue) EnqueueReview(_ context.Context, reviewID catalog.ReviewID) error {
	q.reviews = append(q.reviews, reviewID)
	return nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.messages = append(n.messages, message)
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), nil)
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}
	return db
}

func newTestApp(t *testing.T, db *gorm.DB, remote Gateway, queue WriteQueue, notifier Notifier) *App {
	t.Helper()
	app, err := NewApp(Config{
		Database: db,
		Gateway:  remote,
		Queue:    queue,
		Notifier: notifier,
		Clock:    func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("unexpected app error: %v", err)
	}
	return app
}

func mustRestaurantID(t *testing.T, value int64) catalog.RestaurantID {
	t.Helper()
	id, err := catalog.NewRestaurantID(value)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}
	return id
}

func mustRating(t *testing.T, value int) catalog.Rating {
	t.Helper()
	rating, err := catalog.NewRating(value)
	if err != nil {
		t.Fatalf("unexpected rating error: %v", err)
	}
	return rating
}

func seedRestaurant(t *testing.T, db *gorm.DB, record catalog.Restaurant) {
	t.Helper()
	if err := database.NewTable[catalog.Restaurant](db).Upsert(context.Background(), &record); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
}

func TestListRestaurantsRefreshesLocalStoreOnSuccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	remote := &stubGateway{listRestaurants: func(context.Context) ([]catalog.Restaurant, error) {
		return []catalog.Restaurant{{ID: 1, Name: "Emily"}, {ID: 2, Name: "Kang Ho Dong"}}, nil
	}}
	app := newTestApp(t, db, remote, nil, nil)

	restaurants, err := app.ListRestaurants(ctx)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(restaurants) != 2 {
		t.Fatalf("unexpected collection size: %d", len(restaurants))
	}

	stored, err := database.NewTable[catalog.Restaurant](db).ReadByID(ctx, 2)
	if err != nil {
		t.Fatalf("expected the fetch to refresh the store: %v", err)
	}
	if stored.Name != "Kang Ho Dong" {
		t.Fatalf("unexpected stored record: %#v", stored)
	}
}

func TestListRestaurantsFallsBackToLocalStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	seedRestaurant(t, db, catalog.Restaurant{ID: 1, Name: "Emily"})
	app := newTestApp(t, db, &stubGateway{}, nil, nil)

	restaurants, err := app.ListRestaurants(ctx)
	if err != nil {
		t.Fatalf("expected the local fallback to serve: %v", err)
	}
	if len(restaurants) != 1 || restaurants[0].Name != "Emily" {
		t.Fatalf("unexpected fallback collection: %#v", restaurants)
	}
}

func TestGetRestaurantReportsNotFoundWhenAbsentEverywhere(t *testing.T) {
	app := newTestApp(t, newTestDatabase(t), &stubGateway{}, nil, nil)

	_, err := app.GetRestaurant(context.Background(), mustRestaurantID(t, 77))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListReviewsFallbackFiltersByRestaurant(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	reviews := database.NewTable[catalog.Review](db)
	for _, review := range []catalog.Review{
		{ID: 1, RestaurantID: 3, Name: "Alice", Rating: 4, Comments: "Good"},
		{ID: 2, RestaurantID: 5, Name: "Bob", Rating: 2, Comments: "Meh"},
		{ID: 3, RestaurantID: 3, Name: "Cara", Rating: 5, Comments: "Great"},
	} {
		record := review
		if err := reviews.Upsert(ctx, &record); err != nil {
			t.Fatalf("unexpected seed error: %v", err)
		}
	}
	app := newTestApp(t, db, &stubGateway{}, nil, nil)

	local, err := app.ListReviews(ctx, mustRestaurantID(t, 3))
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(local) != 2 {
		t.Fatalf("expected two reviews for the restaurant, got %#v", local)
	}
	for _, review := range local {
		if review.RestaurantID != 3 {
			t.Fatalf("fallback leaked a foreign review: %#v", review)
		}
	}
}

func TestSetFavoriteAppliesOptimisticallyAndQueuesOnFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	seedRestaurant(t, db, catalog.Restaurant{ID: 4, Name: "Emily", IsFavorite: false})
	queue := &recordingQueue{}
	notifier := &recordingNotifier{}
	app := newTestApp(t, db, &stubGateway{}, queue, notifier)

	if err := app.SetFavorite(ctx, mustRestaurantID(t, 4), true); err != nil {
		t.Fatalf("a failed remote write must not surface: %v", err)
	}

	stored, err := database.NewTable[catalog.Restaurant](db).ReadByID(ctx, 4)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if !stored.IsFavorite {
		t.Fatal("optimistic local update missing")
	}
	if len(queue.favorites) != 1 || queue.favorites[0].Int64() != 4 {
		t.Fatalf("expected one queued favorite, got %#v", queue.favorites)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != offlineNotice {
		t.Fatalf("expected the offline notice, got %#v", notifier.messages)
	}
}

func TestSetFavoriteDoesNotQueueOnRemoteSuccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	seedRestaurant(t, db, catalog.Restaurant{ID: 4, Name: "Emily"})
	queue := &recordingQueue{}
	remote := &stubGateway{setFavorite: func(context.Context, catalog.RestaurantID, bool) error {
		return nil
	}}
	app := newTestApp(t, db, remote, queue, nil)

	if err := app.SetFavorite(ctx, mustRestaurantID(t, 4), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.favorites) != 0 {
		t.Fatalf("a confirmed write must not queue, got %#v", queue.favorites)
	}
}

func TestSubmitReviewRendersLocallyAndQueuesWhenOffline(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	queue := &recordingQueue{}
	notifier := &recordingNotifier{}
	app := newTestApp(t, db, &stubGateway{}, queue, notifier)

	review, err := app.SubmitReview(ctx, NewReview{
		RestaurantID: mustRestaurantID(t, 3),
		Name:         "Alice",
		Rating:       mustRating(t, 5),
		Comments:     "Great",
	})
	if err != nil {
		t.Fatalf("an offline submission must still succeed locally: %v", err)
	}
	if review.ID <= 0 {
		t.Fatalf("expected a locally assigned identifier, got %d", review.ID)
	}

	stored, err := database.NewTable[catalog.Review](db).ReadByID(ctx, review.ID)
	if err != nil {
		t.Fatalf("the review must render from the local store: %v", err)
	}
	if stored.Name != "Alice" || stored.Rating != 5 {
		t.Fatalf("unexpected stored review: %#v", stored)
	}
	if len(queue.reviews) != 1 || queue.reviews[0].Int64() != review.ID {
		t.Fatalf("expected one queued review, got %#v", queue.reviews)
	}
	if len(notifier.messages) != 1 || notifier.messages[0] != offlineNotice {
		t.Fatalf("expected the offline notice, got %#v", notifier.messages)
	}
}

func TestSubmitReviewAdoptsServerIdentifierOnDirectSuccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	queue := &recordingQueue{}
	remote := &stubGateway{submitReview: func(_ context.Context, submission gateway.ReviewSubmission) (*catalog.Review, error) {
		return &catalog.Review{
			ID:           900,
			RestaurantID: submission.RestaurantID.Int64(),
			Name:         submission.Name,
			Rating:       submission.Rating,
			Comments:     submission.Comments,
			CreatedAt:    submission.CreatedAt,
			UpdatedAt:    submission.UpdatedAt,
		}, nil
	}}
	app := newTestApp(t, db, remote, queue, nil)

	review, err := app.SubmitReview(ctx, NewReview{
		RestaurantID: mustRestaurantID(t, 3),
		Name:         "Alice",
		Rating:       mustRating(t, 5),
	})
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	if review.ID != 900 {
		t.Fatalf("expected the server-assigned identifier, got %d", review.ID)
	}
	if len(queue.reviews) != 0 {
		t.Fatalf("a confirmed submission must not queue, got %#v", queue.reviews)
	}

	reviews := database.NewTable[catalog.Review](db)
	if _, err := reviews.ReadByID(ctx, 900); err != nil {
		t.Fatalf("the adopted review must be stored: %v", err)
	}
	count, err := reviews.CountWhere(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("the locally identified copy must be rewritten, got %d rows", count)
	}
}

func TestSubmitReviewRejectsEmptyAuthor(t *testing.T) {
	app := newTestApp(t, newTestDatabase(t), &stubGateway{}, nil, nil)

	_, err := app.SubmitReview(context.Background(), NewReview{
		RestaurantID: mustRestaurantID(t, 3),
		Rating:       mustRating(t, 5),
	})
	if !errors.Is(err, catalog.ErrInvalidAuthor) {
		t.Fatalf("expected ErrInvalidAuthor, got %v", err)
	}
}

func TestDeleteReviewRemovesLocallyDespiteRemoteFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	reviews := database.NewTable[catalog.Review](db)
	record := catalog.Review{ID: 6, RestaurantID: 3, Name: "Alice", Rating: 4, Comments: "Good"}
	if err := reviews.Upsert(ctx, &record); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	notifier := &recordingNotifier{}
	app := newTestApp(t, db, &stubGateway{}, nil, notifier)

	reviewID, err := catalog.NewReviewID(6)
	if err != nil {
		t.Fatalf("unexpected id error: %v", err)
	}
	if err := app.DeleteReview(ctx, reviewID); err != nil {
		t.Fatalf("a failed remote delete must not surface: %v", err)
	}
	if _, err := reviews.ReadByID(ctx, 6); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected the local copy removed, got %v", err)
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("expected the offline notice, got %#v", notifier.messages)
	}
}

func TestHasLocalDataReflectsStorePopulation(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)
	app := newTestApp(t, db, &stubGateway{}, nil, nil)

	populated, err := app.HasLocalData(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if populated {
		t.Fatal("a fresh store must report no local data")
	}

	seedRestaurant(t, db, catalog.Restaurant{ID: 1, Name: "Emily"})
	populated, err = app.HasLocalData(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !populated {
		t.Fatal("a seeded store must report local data")
	}
}
