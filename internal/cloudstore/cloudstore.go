// Package cloudstore stores meals and profiles in Firestore using the
// users/{uid} and users/{uid}/meals/{id} document layout.
package cloudstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	usersCollection = "users"
	mealsCollection = "meals"
)

func userDoc(client *firestore.Client, uid string) *firestore.DocumentRef {
	return client.Collection(usersCollection).Doc(uid)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseTime reads ISO strings as well as native Firestore timestamps.
func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x, nil
	case string:
		if x == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return time.Time{}, fmt.Errorf("cloudstore: invalid time %q: %w", x, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("cloudstore: unexpected time value %T", v)
	}
}

// toFloat reads numbers stored as int, double or numeric string. The second
// result is false when v holds no usable number.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
