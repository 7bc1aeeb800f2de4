package models

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Review is a user's rating of a tour. A user reviews a tour at most once.
type Review struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Review    string             `bson:"review" json:"review" validate:"required"`
	Rating    float64            `bson:"rating" json:"rating" validate:"required,gte=1,lte=5"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	Tour      primitive.ObjectID `bson:"tour" json:"tour" validate:"required"`
	User      primitive.ObjectID `bson:"user" json:"user" validate:"required"`

	Author *UserSummary `bson:"-" json:"-"`
}

// MarshalJSON replaces the user id with the author summary when populated.
func (r Review) MarshalJSON() ([]byte, error) {
	type plain Review
	out := struct {
		plain
		User interface{} `json:"user"`
	}{
		plain: plain(r),
		User:  r.User,
	}
	if r.Author != nil {
		out.User = r.Author
	}
	return json.Marshal(out)
}

// RatingSummary aggregates the reviews of one tour.
type RatingSummary struct {
	Quantity int
	Average  float64
}

func (r *Review) SetDefaults(now time.Time) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
