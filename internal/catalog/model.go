package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRestaurantID indicates a non-positive restaurant identifier.
	ErrInvalidRestaurantID = errors.New("catalog: invalid restaurant id")
	// ErrInvalidReviewID indicates a non-positive review identifier.
	ErrInvalidReviewID = errors.New("catalog: invalid review id")
	// ErrInvalidRating indicates a rating outside the accepted 1..5 range.
	ErrInvalidRating = errors.New("catalog: invalid rating")
	// ErrInvalidAuthor indicates an empty review author name.
	ErrInvalidAuthor = errors.New("catalog: invalid author")
)

// RestaurantID represents a validated restaurant identifier.
type RestaurantID int64

// NewRestaurantID validates raw input and returns a RestaurantID.
func NewRestaurantID(value int64) (RestaurantID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRestaurantID, value)
	}
	return RestaurantID(value), nil
}

// Int64 exposes the raw identifier value.
func (id RestaurantID) Int64() int64 {
	return int64(id)
}

// ReviewID represents a validated review identifier.
type ReviewID int64

// NewReviewID validates raw input and returns a ReviewID.
func NewReviewID(value int64) (ReviewID, error) {
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidReviewID, value)
	}
	return ReviewID(value), nil
}

// Int64 exposes the raw identifier value.
func (id ReviewID) Int64() int64 {
	return int64(id)
}

// Rating represents a validated review rating.
type Rating int

// NewRating validates the value and returns a Rating.
func NewRating(value int) (Rating, error) {
	if value < 1 || value > 5 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRating, value)
	}
	return Rating(value), nil
}

// Int exposes the raw rating value.
func (r Rating) Int() int {
	return int(r)
}

// LatLng is a geographic coordinate pair.
type LatLng struct {
	Lat float64 `gorm:"column:lat" json:"lat"`
	Lng float64 `gorm:"column:lng" json:"lng"`
}

// OperatingHours maps a day name to its opening-hours description.
type OperatingHours map[string]string

// Restaurant models the persisted restaurant record.
type Restaurant struct {
	ID             int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name           string         `gorm:"column:name;size:190;not null" json:"name"`
	Neighborhood   string         `gorm:"column:neighborhood;size:190;not null;index:idx_restaurants_neighborhood" json:"neighborhood"`
	CuisineType    string         `gorm:"column:cuisine_type;size:190;not null;index:idx_restaurants_cuisine" json:"cuisine_type"`
	Address        string         `gorm:"column:address;type:text;not null" json:"address"`
	LatLng         LatLng         `gorm:"embedded;embeddedPrefix:latlng_" json:"latlng"`
	OperatingHours OperatingHours `gorm:"column:operating_hours;serializer:json" json:"operating_hours"`
	IsFavorite     bool           `gorm:"column:is_favorite;not null;default:false" json:"is_favorite"`
	Photograph     string         `gorm:"column:photograph;size:190" json:"photograph,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Restaurant) TableName() string {
	return "restaurants"
}

// Review models a persisted review belonging to one restaurant.
//
// RestaurantID is a foreign key by convention only; the store does not
// enforce it and a dangling reference is tolerated.
type Review struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RestaurantID int64     `gorm:"column:restaurant_id;not null;index:idx_reviews_restaurant" json:"restaurant_id"`
	Name         string    `gorm:"column:name;size:190;not null" json:"name"`
	Rating       int       `gorm:"column:rating;not null" json:"rating"`
	Comments     string    `gorm:"column:comments;type:text;not null" json:"comments"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Review) TableName() string {
	return "reviews"
}

// FavoriteRequest is a pending-write descriptor for a favorite toggle whose
// direct network attempt failed. The payload is intentionally minimal: replay
// re-reads the current favorite flag from the restaurant record.
type FavoriteRequest struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RestaurantID      int64  `gorm:"column:restaurant_id;not null;index:idx_favorite_requests_restaurant"`
	ReplayKey         string `gorm:"column:replay_key;size:36;not null"`
	EnqueuedAtSeconds int64  `gorm:"column:enqueued_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FavoriteRequest) TableName() string {
	return "favorite_requests"
}

// ReviewRequest is a pending-write descriptor for a review submission whose
// direct network attempt failed. It references the locally stored review by
// its local identifier; replay re-reads and re-encodes the review content.
type ReviewRequest struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ReviewID          int64  `gorm:"column:review_id;not null;index:idx_review_requests_review"`
	ReplayKey         string `gorm:"column:replay_key;size:36;not null"`
	EnqueuedAtSeconds int64  `gorm:"column:enqueued_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ReviewRequest) TableName() string {
	return "review_requests"
}
