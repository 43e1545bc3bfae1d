// Package confirm issues short-lived single-use tokens that gate mutating
// routine runs behind a prior preview.
package confirm
