package host

import (
	"sync"

	"github.com/flowmark/flowmark/internal/instance"
	"github.com/flowmark/flowmark/pkg/api"
)

// Cache holds the loaded instances, keyed by identifier. An instance absent
// from the cache is either unknown or unloaded to the store
type Cache struct {
	mu        sync.Mutex
	instances map[api.InstanceID]*instance.Instance
}

// NewCache creates an empty instance cache
func NewCache() *Cache {
	return &Cache{
		instances: map[api.InstanceID]*instance.Instance{},
	}
}

// Add registers the instance under its identifier
func (c *Cache) Add(in *instance.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[in.APIID()] = in
}

// Get returns the cached instance, if loaded
func (c *Cache) Get(id api.InstanceID) (*instance.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.instances[id]
	return in, ok
}

// Remove evicts the instance from the cache
func (c *Cache) Remove(id api.InstanceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.instances, id)
}

// Len returns the number of loaded instances
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// Instances returns a point-in-time copy of the loaded instances
func (c *Cache) Instances() []*instance.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make([]*instance.Instance, 0, len(c.instances))
	for _, in := range c.instances {
		res = append(res, in)
	}
	return res
}
