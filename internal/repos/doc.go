// Package repos holds the allow-list of working copies the control surface
// may operate on, and discovers candidate entries on disk.
package repos
