package middleware

import (
	"errors"
	"strconv"
)

// MaxListLimit caps list sizes on the admin API.
const MaxListLimit = 500

// ValidateUserID parses a platform user id path parameter.
func ValidateUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user ID format")
	}
	return id, nil
}

// ValidateLimit parses an optional limit query parameter. Empty means def.
func ValidateLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > MaxListLimit {
		n = MaxListLimit
	}
	return n, nil
}
