package audit

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"
)

// FailureCounter answers the trailing-window questions the detector asks.
type FailureCounter interface {
	// CountByIP counts events of kind t from ip with timestamp >= since.
	CountByIP(ctx context.Context, t EventType, ip string, since time.Time) (int, error)
	// CountByEmail counts events of kind t for email with timestamp >= since.
	CountByEmail(ctx context.Context, t EventType, email string, since time.Time) (int, error)
}

// Reader serves the admin read paths.
type Reader interface {
	// Query returns one page ordered by timestamp DESC, id DESC and the total
	// filtered count, both observed from the same snapshot.
	Query(ctx context.Context, f Filter, p Page) (QueryResult, error)
	// Stats computes the rollups from a single snapshot.
	Stats(ctx context.Context, p StatsParams) (Summary, error)
}

// Store is the durable, append-only event table. Records are never updated or
// deleted through it.
type Store interface {
	FailureCounter
	Reader
	// Append assigns ID and Timestamp, commits the record atomically and
	// returns it fully populated.
	Append(ctx context.Context, e Event) (Event, error)
	Close() error
}

// AlertPublisher forwards committed suspicious events to an external channel.
type AlertPublisher interface {
	PublishSuspicious(ctx context.Context, e Event) error
}
