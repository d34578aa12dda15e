// Package delivery holds the long-running entry points of the process.
package delivery

import "context"

// Delivery is a component that serves until the process stops: the HTTP server or a
// background worker.
type Delivery interface {
	Serve(ctx context.Context) error
}
