// Package source delivers decoded events to the pipeline, one at a time
// and in (block, log index) order.
package source

import (
	"context"

	"mmledger/internal/event"
)

// Handler consumes one event. A non-nil error stops the batch it came from.
type Handler func(ctx context.Context, ev event.Event) error
