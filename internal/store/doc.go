// Package store defines persistence contracts for progress data. Implementations
// live in other packages; this package must not import database drivers.
package store
