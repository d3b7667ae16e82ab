package sim

// Handle addresses an entity in the arena. Handles are stable while the entity is
// linked into a bucket and are recycled after it is unlinked.
type Handle int32

const nilHandle Handle = -1

type link struct {
	next, prev Handle
}

// arena owns bucket membership links. Each entity holds one handle; buckets hold
// head/tail handles, so linking and unlinking is handle reassignment.
type arena struct {
	entities []*Entity
	links    []link
	free     []Handle
}

func (a *arena) alloc(e *Entity) Handle {
	var h Handle
	if n := len(a.free); n > 0 {
		h = a.free[n-1]
		a.free = a.free[:n-1]
		a.entities[h] = e
	} else {
		h = Handle(len(a.entities))
		a.entities = append(a.entities, e)
		a.links = append(a.links, link{})
	}
	a.links[h] = link{next: nilHandle, prev: nilHandle}
	e.handle = h
	return h
}

func (a *arena) release(h Handle) {
	if e := a.entities[h]; e != nil {
		e.handle = nilHandle
	}
	a.entities[h] = nil
	a.free = append(a.free, h)
}

func (a *arena) get(h Handle) *Entity { return a.entities[h] }

// live returns the number of allocated handles.
func (a *arena) live() int { return len(a.entities) - len(a.free) }
