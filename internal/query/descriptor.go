package query

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
)

// VersionField is the internal document version key, never returned to clients.
const VersionField = "__v"

// Descriptor is the request-scoped description of a list query: the filter,
// sort keys, projected fields and the pagination window. A zero Limit means
// no window at all.
type Descriptor struct {
	Filter bson.M
	Sort   bson.D
	Fields []string
	Page   int
	Limit  int
}

// NewDescriptor returns an unpaginated descriptor selecting filter.
func NewDescriptor(filter bson.M) *Descriptor {
	if filter == nil {
		filter = bson.M{}
	}
	return &Descriptor{
		Filter: filter,
		Sort:   bson.D{{Key: IDPath, Value: 1}},
		Page:   1,
	}
}

// Skip is the number of documents preceding the requested page. It
// saturates at math.MaxInt64 for pages too far to address.
func (d *Descriptor) Skip() int64 {
	if d.Limit <= 0 || d.Page <= 1 {
		return 0
	}
	pages, limit := int64(d.Page-1), int64(d.Limit)
	if pages > math.MaxInt64/limit {
		return math.MaxInt64
	}
	return pages * limit
}

// Projection returns the inclusion projection of the requested fields, or
// the exclusion of internal metadata when no fields were requested.
func (d *Descriptor) Projection() bson.D {
	if len(d.Fields) == 0 {
		return bson.D{{Key: VersionField, Value: 0}}
	}
	projection := make(bson.D, 0, len(d.Fields))
	for _, field := range d.Fields {
		projection = append(projection, bson.E{Key: field, Value: 1})
	}
	return projection
}

// And returns a copy of the descriptor whose filter must also satisfy extra.
func (d *Descriptor) And(extra bson.M) *Descriptor {
	result := *d
	result.Filter = MergeFilters(d.Filter, extra)
	return &result
}

// MergeFilters combines two filters into one that both must satisfy.
func MergeFilters(a, b bson.M) bson.M {
	if len(a) == 0 {
		return cloneFilter(b)
	}
	if len(b) == 0 {
		return cloneFilter(a)
	}

	for key := range b {
		if _, clash := a[key]; clash {
			return bson.M{"$and": bson.A{a, b}}
		}
	}

	merged := cloneFilter(a)
	for key, value := range b {
		merged[key] = value
	}
	return merged
}

func cloneFilter(filter bson.M) bson.M {
	cloned := make(bson.M, len(filter))
	for key, value := range filter {
		cloned[key] = value
	}
	return cloned
}
