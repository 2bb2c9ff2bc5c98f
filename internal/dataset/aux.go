package dataset

import "github.com/team-gpu/httomo/internal/pattern"

// auxCache holds one conceptually read-only auxiliary array (darks or
// flats) with a per-placement cache and a dirty flag, so host<->device
// write-back stays coherent: a write on one side invalidates the other,
// matching DataSet._flats_gpu/_flats_dirty in the original.
type auxCache struct {
	host        *Array
	device      *Array
	hostDirty   bool
	deviceDirty bool
}

func newAuxCache(host *Array) *auxCache {
	return &auxCache{host: host}
}

// get returns the array on the requested placement, transferring lazily
// (and refreshing a dirty copy) if needed.
func (c *auxCache) get(p pattern.Placement) *Array {
	switch p {
	case pattern.Host:
		if c.hostDirty || c.host == nil {
			c.host = c.device.Contiguous()
			c.host.Placement = pattern.Host
			c.hostDirty = false
		}
		return c.host
	default:
		if c.deviceDirty || c.device == nil {
			c.device = c.host.Contiguous()
			c.device.Placement = pattern.Device
			c.deviceDirty = false
		}
		return c.device
	}
}

// set overwrites the array on the given placement and marks the other
// side dirty.
func (c *auxCache) set(p pattern.Placement, arr *Array) {
	switch p {
	case pattern.Host:
		c.host = arr
		c.hostDirty = false
		c.deviceDirty = true
	default:
		c.device = arr
		c.deviceDirty = false
		c.hostDirty = true
	}
}
