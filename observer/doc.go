// Package observer provides Observer implementations for a patchfield service:
// a structured log of graph changes and a Redis publisher that fans events out
// to remote subscribers.
package observer
