package lifecycle

// registry holds the per-stage handler chains. Chains are append-only
// and never reordered. The error stage starts on a default fallback
// handler; the first real error registration evicts it for good and
// later registrations append.
type registry struct {
	chains     [numStages][]Handler
	defaultErr bool
}

func newRegistry() *registry {
	return &registry{defaultErr: true}
}

func (r *registry) add(s Stage, h Handler) {
	if s == StageError {
		r.defaultErr = false
	}
	r.chains[s] = append(r.chains[s], h)
}

func (r *registry) handlers(s Stage) []Handler {
	return r.chains[s]
}
