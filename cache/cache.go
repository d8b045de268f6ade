package cache

import "time"

type Cache[V any] interface {
	Set(key string, value V, ttl time.Duration) error
	Get(key string) (V, error)
	Remove(key ...string) error
}
