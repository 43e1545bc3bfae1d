// Package actions defines Result, the structured record every orchestration
// step produces, together with the error-kind taxonomy and its mapping onto
// HTTP status codes.
package actions
