// Package idempotency records a signature of the working tree after each
// patch apply and refuses commits when the tree no longer matches it.
package idempotency
