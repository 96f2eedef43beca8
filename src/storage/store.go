// Package storage keeps payment orders. Both stores implement
// interfaces.OrderStore and change status only by compare-and-set.
package storage

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("order already exists")

	// ErrTransient marks failures worth retrying, such as a locked database.
	ErrTransient = errors.New("transient storage error")
)
