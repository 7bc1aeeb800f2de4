// Package query turns query-string shaped input into a validated Descriptor
// of filters, sort keys, projection and pagination. Building is a pure
// transformation: nothing touches storage until a repository executes the
// descriptor.
package query

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/thoas/go-funk"
	"go.mongodb.org/mongo-driver/bson"
)

// Pagination defaults.
const (
	DefaultPage  = 1
	DefaultLimit = 100
	MaxLimit     = 1000
)

const createdAtPath = "createdAt"

// reservedKeys never take part in filtering.
var reservedKeys = []string{"page", "sort", "limit", "fields"}

var operators = map[string]string{
	"gte": "$gte",
	"gt":  "$gt",
	"lte": "$lte",
	"lt":  "$lt",
}

// Error is a client mistake in the query string.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func errorf(format string, args ...interface{}) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Builder builds descriptors for one entity schema.
type Builder struct {
	schema           *Schema
	multiValueFields []string
}

// Option configures a Builder.
type Option func(*Builder)

// WithMultiValueFields lists the fields whose repeated values select any of
// them. Repeating any other field keeps only the last value.
func WithMultiValueFields(fields ...string) Option {
	return func(b *Builder) {
		b.multiValueFields = append(b.multiValueFields, fields...)
	}
}

// NewBuilder returns a builder for the given schema.
func NewBuilder(schema *Schema, options ...Option) *Builder {
	b := &Builder{schema: schema}
	for _, option := range options {
		option(b)
	}
	return b
}

type fieldCondition struct {
	equals    []interface{}
	operators bson.M
}

// Build parses values into a Descriptor.
func (b *Builder) Build(values url.Values) (*Descriptor, error) {
	filter, err := b.buildFilter(values)
	if err != nil {
		return nil, err
	}

	sortKeys, err := b.buildSort(lastValue(values, "sort"))
	if err != nil {
		return nil, err
	}

	fields, err := b.buildFields(lastValue(values, "fields"))
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		Filter: filter,
		Sort:   sortKeys,
		Fields: fields,
		Page:   positiveOrDefault(lastValue(values, "page"), DefaultPage),
		Limit:  min(positiveOrDefault(lastValue(values, "limit"), DefaultLimit), MaxLimit),
	}, nil
}

func (b *Builder) buildFilter(values url.Values) (bson.M, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := map[string]*fieldCondition{}
	order := []string{}

	for _, key := range keys {
		if funk.ContainsString(reservedKeys, key) {
			continue
		}

		path, operator, err := splitKey(key)
		if err != nil {
			return nil, err
		}

		field, ok := b.schema.Field(path)
		if !ok {
			return nil, errorf("Invalid filter field: %s", path)
		}

		condition, seen := conditions[path]
		if !seen {
			condition = &fieldCondition{operators: bson.M{}}
			conditions[path] = condition
			order = append(order, path)
		}

		raws := values[key]
		if operator == "" && !funk.ContainsString(b.multiValueFields, path) {
			raws = raws[len(raws)-1:]
		}
		if operator != "" {
			raws = raws[len(raws)-1:]
		}

		for _, raw := range raws {
			value, err := field.Coerce(raw)
			if err != nil {
				return nil, &Error{Message: err.Error()}
			}
			if operator == "" {
				condition.equals = append(condition.equals, value)
				continue
			}
			condition.operators[operators[operator]] = value
		}
	}

	filter := bson.M{}
	for _, path := range order {
		condition := conditions[path]
		switch {
		case len(condition.operators) == 0 && len(condition.equals) == 1:
			filter[path] = condition.equals[0]
		case len(condition.operators) == 0:
			filter[path] = bson.M{"$in": bson.A(condition.equals)}
		default:
			if len(condition.equals) == 1 {
				condition.operators["$eq"] = condition.equals[0]
			} else if len(condition.equals) > 1 {
				condition.operators["$in"] = bson.A(condition.equals)
			}
			filter[path] = condition.operators
		}
	}

	return filter, nil
}

// splitKey separates "price[gte]" into the path and the operator.
func splitKey(key string) (string, string, error) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, "", nil
	}
	if !strings.HasSuffix(key, "]") || open == 0 {
		return "", "", errorf("Invalid filter key: %s", key)
	}

	operator := key[open+1 : len(key)-1]
	if _, ok := operators[operator]; !ok {
		return "", "", errorf("Invalid filter operator: %s", operator)
	}

	return key[:open], operator, nil
}

func (b *Builder) buildSort(raw string) (bson.D, error) {
	names := splitList(raw)
	if len(names) == 0 && b.schema.Has(createdAtPath) {
		names = []string{"-" + createdAtPath}
	}

	sortKeys := bson.D{}
	hasID := false
	for _, name := range names {
		direction := 1
		if strings.HasPrefix(name, "-") {
			direction = -1
			name = strings.TrimPrefix(name, "-")
		}
		if name != IDPath && !b.schema.Has(name) {
			return nil, errorf("Invalid sort field: %s", name)
		}
		if name == IDPath {
			hasID = true
		}
		sortKeys = append(sortKeys, bson.E{Key: name, Value: direction})
	}

	if !hasID {
		sortKeys = append(sortKeys, bson.E{Key: IDPath, Value: 1})
	}

	return sortKeys, nil
}

func (b *Builder) buildFields(raw string) ([]string, error) {
	fields := []string{}
	for _, name := range splitList(raw) {
		if name == VersionField || strings.HasPrefix(name, "-") {
			continue
		}
		if name != IDPath && !b.schema.Has(name) {
			return nil, errorf("Invalid projection field: %s", name)
		}
		fields = append(fields, name)
	}

	return funk.UniqString(fields), nil
}

func splitList(raw string) []string {
	result := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func lastValue(values url.Values, key string) string {
	all := values[key]
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

func positiveOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}
