// Package ratings keeps the ratingsQuantity and ratingsAverage of tours in
// line with their reviews. Review writes enqueue the tour and a background
// loop recalculates the queued tours in batches.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/patric-chuzhbe/toursapi/internal/db/storage"
	"github.com/patric-chuzhbe/toursapi/internal/logger"
	"github.com/patric-chuzhbe/toursapi/internal/models"
)

type summarizer interface {
	RatingSummaries(ctx context.Context, tourIDs []primitive.ObjectID) (map[primitive.ObjectID]models.RatingSummary, error)
}

type tourUpdater interface {
	FindByIDAndUpdate(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.Tour, error)
}

// Recalculator batches tour identifiers and recalculates their ratings.
type Recalculator struct {
	queue         chan primitive.ObjectID
	reviews       summarizer
	tours         tourUpdater
	flushInterval time.Duration
	errorChannel  chan error
	done          chan struct{}
	stopOnce      sync.Once
}

// New returns a recalculator with a queue of channelCapacity identifiers
// flushed every flushInterval.
func New(
	reviews summarizer,
	tours tourUpdater,
	channelCapacity int,
	flushInterval time.Duration,
) *Recalculator {
	return &Recalculator{
		queue:         make(chan primitive.ObjectID, channelCapacity),
		reviews:       reviews,
		tours:         tours,
		flushInterval: flushInterval,
		errorChannel:  make(chan error, channelCapacity),
		done:          make(chan struct{}),
	}
}

// ListenErrors hands every failed batch to callback.
func (r *Recalculator) ListenErrors(callback func(error)) {
	go func() {
		for err := range r.errorChannel {
			callback(err)
		}
	}()
}

// Enqueue schedules the recalculation of a tour.
func (r *Recalculator) Enqueue(tourID primitive.ObjectID) {
	r.queue <- tourID
}

// Run processes the queue until ctx is done. Identifiers still pending at
// that moment are processed before Run returns.
func (r *Recalculator) Run(ctx context.Context) {
	defer r.stopOnce.Do(func() { close(r.done) })

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var pending []primitive.ObjectID

	for {
		select {
		case id := <-r.queue:
			pending = append(pending, id)
		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			if err := r.Recalculate(ctx, pending); err != nil {
				// The batch is dropped; the next review write of a tour queues it again.
				r.report(err)
			} else {
				logger.Log.Debugf("recalculated ratings of %d tours", len(pending))
			}
			pending = nil
		case <-ctx.Done():
			pending = append(pending, r.drain()...)
			if len(pending) > 0 {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), r.flushInterval+time.Second)
				if err := r.Recalculate(shutdownCtx, pending); err != nil {
					r.report(err)
				}
				cancel()
			}
			return
		}
	}
}

// Done is closed once Run has returned.
func (r *Recalculator) Done() <-chan struct{} {
	return r.done
}

func (r *Recalculator) drain() []primitive.ObjectID {
	var ids []primitive.ObjectID
	for {
		select {
		case id := <-r.queue:
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

func (r *Recalculator) report(err error) {
	select {
	case r.errorChannel <- err:
	default:
		logger.Log.Errorln("ratings error dropped:", err)
	}
}

// Recalculate sets the rating aggregates of the given tours from their
// reviews. A tour without reviews gets the default average and a zero count.
func (r *Recalculator) Recalculate(ctx context.Context, tourIDs []primitive.ObjectID) error {
	ids := unique(tourIDs)

	summaries, err := r.reviews.RatingSummaries(ctx, ids)
	if err != nil {
		return fmt.Errorf("in internal/ratings/ratings.go/Recalculate(): error while `r.reviews.RatingSummaries()` calling: %w", err)
	}

	for _, id := range ids {
		set := bson.M{
			"ratingsQuantity": 0,
			"ratingsAverage":  models.DefaultRatingsAverage,
		}
		if summary, ok := summaries[id]; ok && summary.Quantity > 0 {
			set["ratingsQuantity"] = summary.Quantity
			set["ratingsAverage"] = models.RoundRating(summary.Average)
		}

		_, err := r.tours.FindByIDAndUpdate(ctx, id, set)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("in internal/ratings/ratings.go/Recalculate(): error while `r.tours.FindByIDAndUpdate()` calling: %w", err)
		}
	}

	return nil
}

func unique(ids []primitive.ObjectID) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]struct{}, len(ids))
	result := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
