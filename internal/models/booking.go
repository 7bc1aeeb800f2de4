package models

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Booking is a paid reservation of a tour by a user.
type Booking struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Tour      primitive.ObjectID `bson:"tour" json:"tour" validate:"required"`
	User      primitive.ObjectID `bson:"user" json:"user" validate:"required"`
	Price     float64            `bson:"price" json:"price" validate:"required,gt=0"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	Paid      bool               `bson:"paid" json:"paid"`

	TourName string       `bson:"-" json:"-"`
	Customer *UserSummary `bson:"-" json:"-"`
}

// MarshalJSON inlines the populated tour name and customer summary.
func (b Booking) MarshalJSON() ([]byte, error) {
	type plain Booking
	out := struct {
		plain
		User     interface{} `json:"user"`
		TourName string      `json:"tourName,omitempty"`
	}{
		plain:    plain(b),
		User:     b.User,
		TourName: b.TourName,
	}
	if b.Customer != nil {
		out.User = b.Customer
	}
	return json.Marshal(out)
}

// SetDefaults stamps the booking and marks it paid.
func (b *Booking) SetDefaults(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.Paid = true
}
