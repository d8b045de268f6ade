package lock

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// IDGenerator creates request ids. Ids must be unique across processes.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string {
	return f()
}

// XID returns a generator of 96-bit globally unique, time sortable ids.
func XID() IDGenerator {
	return IDGeneratorFunc(func() string {
		return xid.New().String()
	})
}

// UUID returns a generator of version 7 uuids.
func UUID() IDGenerator {
	return IDGeneratorFunc(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// Sequence returns a deterministic generator yielding prefix1, prefix2, ...
// It is meant for tests running in a single process.
func Sequence(prefix string) IDGenerator {
	var n atomic.Int64
	return IDGeneratorFunc(func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	})
}
