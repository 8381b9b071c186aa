// Package keyvalue implements the Redis-backed key/value capability
// exposed to the guest module. Namespacing works by key prefix, a
// missing key is detected by empty payload, and failures are classified
// as ConnectionError, KeyNotFound, or UnexpectedError. Connection
// pooling is go-redis's built-in pool, sized from Settings; no
// connection is ever held across guest re-entries because every command
// borrows and returns a pooled connection internally.
package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/flavio/hermit-wasm/internal/errx"
	"github.com/flavio/hermit-wasm/internal/resource"
	"github.com/flavio/hermit-wasm/internal/settings"
)

// Store owns the single Redis client the process uses for every
// namespace the guest opens, plus the resource table that hands out
// namespace handles.
type Store struct {
	client     *redis.Client
	namespaces *resource.Table[*Namespace]
}

// NewStore builds the Redis client from Settings and returns an empty
// Store. It does not eagerly connect; go-redis dials lazily on the
// first command.
func NewStore(s settings.Settings) *Store {
	opts, err := redis.ParseURL(fmt.Sprintf("redis://%s/", s.RedisHost))
	if err != nil {
		opts = &redis.Options{Addr: s.RedisHost}
	}
	opts.PoolSize = s.RedisThreadPoolSize
	client := redis.NewClient(opts)
	return &Store{
		client:     client,
		namespaces: resource.NewTable[*Namespace](),
	}
}

// Open returns the handle for a namespace with the given name, allocating
// a fresh table entry. Distinct Open calls for the same name yield
// distinct handles and distinct table entries; there is no name-based
// interning.
func (s *Store) Open(name string) resource.Handle {
	ns := &Namespace{name: name, client: s.client}
	return s.namespaces.Insert(ns)
}

// Namespace resolves a handle back to its Namespace, or ErrNotFound if the
// handle is stale or unknown.
func (s *Store) Namespace(h resource.Handle) (*Namespace, error) {
	return s.namespaces.Get(h)
}

// Close drops a namespace's table entry.
func (s *Store) Close(h resource.Handle) error {
	return s.namespaces.Drop(h)
}

// Shutdown closes the underlying Redis client.
func (s *Store) Shutdown() error {
	return s.client.Close()
}

// Namespace is one guest-visible key/value namespace: every key the guest
// reads or writes through this handle is physically stored under
// "{name}:{key}".
type Namespace struct {
	name   string
	client *redis.Client
}

func (n *Namespace) physicalKey(key string) string {
	return fmt.Sprintf("%s:%s", n.name, key)
}

// classify sorts a backend failure into the capability's error taxonomy:
// anything network-shaped (dial failures, pool timeouts) is a
// ConnectionError, everything else an UnexpectedError.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.ErrPoolTimeout) {
		return errx.Wrap(ErrConnectionError, err)
	}
	return errx.Wrap(ErrUnexpectedError, err)
}

// Get fetches the payload for key. Returns ErrKeyNotFound, wrapping the
// namespaced physical key, when the key is absent or stored empty — a
// GET on a missing key and a GET on an empty string both read back
// empty, and both count as not-found here.
func (n *Namespace) Get(ctx context.Context, key string) ([]byte, error) {
	physical := n.physicalKey(key)
	val, err := n.client.Get(ctx, physical).Bytes()
	if err != nil && err != redis.Nil {
		return nil, classify(err)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, physical)
	}
	return val, nil
}

// Set stores value under key.
func (n *Namespace) Set(ctx context.Context, key string, value []byte) error {
	if err := n.client.Set(ctx, n.physicalKey(key), value, 0).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Keys lists the guest-visible key names in this namespace, with the
// "{name}:" physical prefix stripped.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	prefix := n.name + ":"
	physical, err := n.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, classify(err)
	}
	keys := make([]string, 0, len(physical))
	for _, k := range physical {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys, nil
}

// Delete removes key from the namespace. Deleting an absent key is not an
// error, matching Redis DEL semantics.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	if err := n.client.Del(ctx, n.physicalKey(key)).Err(); err != nil {
		return classify(err)
	}
	return nil
}
