// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPageSize bounds a page size to [1, max], substituting def when the
// input is not positive.
//
// Example:
//
//	n := utils.ClampPageSize(0, 20, 100)   // returns 20
//	n = utils.ClampPageSize(500, 20, 100)  // returns 100
//	n = utils.ClampPageSize(7, 20, 100)    // returns 7
func ClampPageSize(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}
