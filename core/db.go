package core

import "context"

// DBOrdering is one ORDER BY term. Repositories map Field to a column and
// drop fields they do not know.
type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	if ord.Ascending {
		return ord.Field + " ASC"
	}
	return ord.Field + " DESC"
}

// Pinger is anything whose connectivity can be checked, e.g. the database or the redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }
