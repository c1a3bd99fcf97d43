// Package store declares the run bookkeeping persisted alongside exports.
package store
