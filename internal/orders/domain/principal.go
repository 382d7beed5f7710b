package domain

// Principal is the resolved caller. Identity is established upstream; the
// orchestrator trusts these fields and does not re-derive them.
type Principal struct {
	Subject string
	Admin   bool
}

// Owns reports whether the caller placed the record
func (p Principal) Owns(r *Record) bool {
	return p.Subject != "" && r != nil && r.Owner == p.Subject
}

// CanView reports whether the caller may read the record
func (p Principal) CanView(r *Record) bool {
	return p.Admin || p.Owns(r)
}

// System is the principal used by internal workflows such as webhook handling
var System = Principal{Subject: "system", Admin: true}
