package mustache

// RequestScope carries the request bound data merged into the render context.
// It is built by the HTTP layer and passed explicitly to Render.
type RequestScope struct {
	Session       map[string]string
	IncomingFlash map[string]string
	OutgoingFlash map[string]string
	Parameters    map[string][]string
}

// merge builds the render context. Later sources override earlier ones:
// session, incoming flash, outgoing flash, request parameters and finally
// vars.
func (s RequestScope) merge(vars map[string]any) map[string]any {
	ctx := map[string]any{}

	for _, m := range []map[string]string{s.Session, s.IncomingFlash, s.OutgoingFlash} {
		for k, v := range m {
			ctx[k] = v
		}
	}

	for k, v := range s.Parameters {
		switch len(v) {
		case 0:
		case 1:
			ctx[k] = v[0]
		default:
			ctx[k] = v
		}
	}

	for k, v := range vars {
		ctx[k] = v
	}

	return ctx
}
