package sim

// deferred holds structural work requested while lists are being walked. It is
// drained at safe points: after each bucket pass and at the end of Init.
type deferred struct {
	resize  []*Population
	connect []*Population
	clear   []*Population
}

// DeferResize queues a resize of p to n members. A later request before the
// flush replaces the target.
func (sim *Simulator) DeferResize(p *Population, n int) {
	p.resizeTarget = n
	if p.resizeQueued {
		return
	}
	p.resizeQueued = true
	sim.deferred.resize = append(sim.deferred.resize, p)
	sim.Metrics.deferredOp("resize")
}

// DeferConnect queues a connection pass for p.
func (sim *Simulator) DeferConnect(p *Population) {
	if p.connectQueued {
		return
	}
	p.connectQueued = true
	sim.deferred.connect = append(sim.deferred.connect, p)
	sim.Metrics.deferredOp("connect")
}

// DeferClearNew queues clearing p's newborn flags.
func (sim *Simulator) DeferClearNew(p *Population) {
	if p.clearQueued {
		return
	}
	p.clearQueued = true
	sim.deferred.clear = append(sim.deferred.clear, p)
	sim.Metrics.deferredOp("clear")
}

// updatePopulations drains the deferred queues. Resize runs before connect and
// connect before clear, so connection passes see every newborn. Work queued
// while draining is handled in the same call.
func (sim *Simulator) updatePopulations() {
	d := &sim.deferred
	for {
		switch {
		case len(d.resize) > 0:
			p := d.resize[0]
			d.resize = d.resize[1:]
			p.resizeQueued = false
			if p.Alive() {
				p.Resize(p.resizeTarget)
			}
		case len(d.connect) > 0:
			p := d.connect[0]
			d.connect = d.connect[1:]
			p.connectQueued = false
			if p.Alive() {
				p.connect()
			}
		case len(d.clear) > 0:
			p := d.clear[0]
			d.clear = d.clear[1:]
			p.clearQueued = false
			p.ClearNew()
		default:
			return
		}
	}
}
