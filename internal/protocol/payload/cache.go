package payload

import (
	"fmt"
	"reflect"
	"sync"
)

type signature struct {
	n      int
	params [MaxParams]reflect.Type
}

// Cache builds each distinct signature's Type once.
type Cache struct {
	mu    sync.Mutex
	types map[signature]*Type
}

func NewCache() *Cache {
	return &Cache{types: make(map[signature]*Type)}
}

var defaultCache = NewCache()

// TypeOf returns the shared Type for params.
func TypeOf(params ...reflect.Type) (*Type, error) {
	return defaultCache.TypeOf(params...)
}

func (c *Cache) TypeOf(params ...reflect.Type) (*Type, error) {
	if len(params) > MaxParams {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyParams, len(params), MaxParams)
	}
	key := signature{n: len(params)}
	copy(key.params[:], params)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.types[key]; ok {
		return t, nil
	}
	t, err := NewType(params)
	if err != nil {
		return nil, err
	}
	c.types[key] = t
	return t, nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types)
}
