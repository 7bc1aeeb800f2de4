package memorystorage

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// lookup resolves a dotted path against a document. Arrays met on the way
// are traversed element by element, so a path may resolve to several values.
func lookup(doc interface{}, path string) []interface{} {
	if path == "" {
		return []interface{}{doc}
	}

	head, rest, _ := strings.Cut(path, ".")

	switch typed := doc.(type) {
	case bson.M:
		value, ok := typed[head]
		if !ok {
			return nil
		}
		return lookup(value, rest)

	case map[string]interface{}:
		return lookup(bson.M(typed), path)

	case bson.D:
		return lookup(typed.Map(), path)

	case bson.A:
		var result []interface{}
		for _, element := range typed {
			result = append(result, lookup(element, path)...)
		}
		return result
	}

	return nil
}

// candidates expands the resolved values so array fields match by element.
func candidates(values []interface{}) []interface{} {
	result := make([]interface{}, 0, len(values))
	for _, value := range values {
		result = append(result, value)
		if array, ok := value.(bson.A); ok {
			result = append(result, array...)
		}
	}
	return result
}

func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, condition := range filter {
		ok, err := matchesKey(doc, key, condition)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchesKey(doc bson.M, key string, condition interface{}) (bool, error) {
	switch key {
	case "$and", "$or":
		clauses, ok := toArray(condition)
		if !ok {
			return false, fmt.Errorf("%s needs an array", key)
		}
		for _, clause := range clauses {
			sub, ok := toDocument(clause)
			if !ok {
				return false, fmt.Errorf("%s clause must be a document", key)
			}
			matched, err := matches(doc, sub)
			if err != nil {
				return false, err
			}
			if key == "$or" && matched {
				return true, nil
			}
			if key == "$and" && !matched {
				return false, nil
			}
		}
		return key == "$and", nil
	}

	values := lookup(doc, key)

	operators, ok := toDocument(condition)
	if !ok || !isOperatorDocument(operators) {
		return anyEqual(values, condition), nil
	}

	for operator, operand := range operators {
		matched, err := applyOperator(values, operator, operand)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func applyOperator(values []interface{}, operator string, operand interface{}) (bool, error) {
	switch operator {
	case "$eq":
		return anyEqual(values, operand), nil

	case "$ne":
		return !anyEqual(values, operand), nil

	case "$in":
		options, ok := toArray(operand)
		if !ok {
			return false, fmt.Errorf("$in needs an array")
		}
		for _, option := range options {
			if anyEqual(values, option) {
				return true, nil
			}
		}
		return false, nil

	case "$nin":
		matched, err := applyOperator(values, "$in", operand)
		return !matched, err

	case "$exists":
		exists, _ := operand.(bool)
		return (len(values) > 0) == exists, nil

	case "$gt", "$gte", "$lt", "$lte":
		for _, value := range candidates(values) {
			order, comparable := compareValues(value, operand)
			if !comparable {
				continue
			}
			switch {
			case operator == "$gt" && order > 0,
				operator == "$gte" && order >= 0,
				operator == "$lt" && order < 0,
				operator == "$lte" && order <= 0:
				return true, nil
			}
		}
		return false, nil
	}

	return false, fmt.Errorf("unsupported operator %s", operator)
}

func anyEqual(values []interface{}, expected interface{}) bool {
	if len(values) == 0 {
		return normalize(expected) == nil
	}
	for _, value := range candidates(values) {
		if equalValues(value, expected) {
			return true
		}
	}
	return false
}

func isOperatorDocument(doc bson.M) bool {
	if len(doc) == 0 {
		return false
	}
	for key := range doc {
		if !strings.HasPrefix(key, "$") {
			return false
		}
	}
	return true
}

func toDocument(value interface{}) (bson.M, bool) {
	switch typed := value.(type) {
	case bson.M:
		return typed, true
	case map[string]interface{}:
		return bson.M(typed), true
	case bson.D:
		return typed.Map(), true
	}
	return nil, false
}

func toArray(value interface{}) ([]interface{}, bool) {
	switch typed := value.(type) {
	case bson.A:
		return typed, true
	case []interface{}:
		return typed, true
	}

	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice {
		return nil, false
	}
	result := make([]interface{}, reflected.Len())
	for i := range result {
		result[i] = reflected.Index(i).Interface()
	}
	return result, true
}

// normalize maps the numeric and temporal representations produced by bson
// decoding and by query coercion onto one comparable form.
func normalize(value interface{}) interface{} {
	switch typed := value.(type) {
	case int:
		return float64(typed)
	case int32:
		return float64(typed)
	case int64:
		return float64(typed)
	case float32:
		return float64(typed)
	case primitive.DateTime:
		return typed.Time().UTC()
	case time.Time:
		return typed.UTC().Truncate(time.Millisecond)
	case primitive.Null, primitive.Undefined:
		return nil
	}
	return value
}

func equalValues(a, b interface{}) bool {
	order, comparable := compareValues(a, b)
	if comparable {
		return order == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// typeRank follows the cross-type ordering of the document store.
func typeRank(value interface{}) int {
	switch value.(type) {
	case nil:
		return 0
	case float64:
		return 1
	case string:
		return 2
	case bson.M, map[string]interface{}, bson.D:
		return 3
	case bson.A:
		return 4
	case primitive.ObjectID:
		return 5
	case bool:
		return 6
	case time.Time:
		return 7
	}
	return 8
}

// compareValues orders two scalars of the same kind. The second result is
// false when the values are not of the same kind.
func compareValues(a, b interface{}) (int, bool) {
	a, b = normalize(a), normalize(b)

	switch left := a.(type) {
	case nil:
		return 0, b == nil

	case float64:
		right, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case left < right:
			return -1, true
		case left > right:
			return 1, true
		}
		return 0, true

	case string:
		right, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(left, right), true

	case bool:
		right, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case left == right:
			return 0, true
		case !left:
			return -1, true
		}
		return 1, true

	case time.Time:
		right, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return left.Compare(right), true

	case primitive.ObjectID:
		right, ok := b.(primitive.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(left[:], right[:]), true
	}

	return 0, false
}

// sortValue is the value a document is ordered by for one sort key: the
// smallest element for ascending order, the largest for descending order.
func sortValue(doc bson.M, path string, direction int) interface{} {
	values := candidates(lookup(doc, path))
	var chosen interface{}
	for i, value := range values {
		if _, isArray := value.(bson.A); isArray {
			continue
		}
		if i == 0 || chosen == nil {
			chosen = value
			continue
		}
		order := compareDocs(value, chosen)
		if (direction > 0 && order < 0) || (direction < 0 && order > 0) {
			chosen = value
		}
	}
	return normalize(chosen)
}

func compareDocs(a, b interface{}) int {
	a, b = normalize(a), normalize(b)
	if order, comparable := compareValues(a, b); comparable {
		return order
	}
	rankA, rankB := typeRank(a), typeRank(b)
	switch {
	case rankA < rankB:
		return -1
	case rankA > rankB:
		return 1
	}
	return 0
}
