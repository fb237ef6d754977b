package auth

// Capability is a permission a caller holds for the duration of one request.
type Capability string

const (
	CapCreateOrder    Capability = "orders:create"
	CapReadOwnOrders  Capability = "orders:read_own"
	CapReadAllOrders  Capability = "orders:read_all"
	CapSetOrderStatus Capability = "orders:set_status"
)

// AllCapabilities lists every capability the service checks.
var AllCapabilities = []Capability{
	CapCreateOrder,
	CapReadOwnOrders,
	CapReadAllOrders,
	CapSetOrderStatus,
}

// Principal is an authenticated caller together with the capabilities
// resolved for it. It is built once per request and passed explicitly.
type Principal struct {
	UserID string
	Email  string
	Role   string
	caps   map[Capability]struct{}
}

func NewPrincipal(userID, email, role string, caps ...Capability) *Principal {
	p := &Principal{
		UserID: userID,
		Email:  email,
		Role:   role,
		caps:   make(map[Capability]struct{}, len(caps)),
	}
	for _, c := range caps {
		p.caps[c] = struct{}{}
	}
	return p
}

// Can reports whether the principal holds the capability. A nil principal holds none.
func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	_, ok := p.caps[c]
	return ok
}

func (p *Principal) Capabilities() []Capability {
	if p == nil {
		return nil
	}
	out := make([]Capability, 0, len(p.caps))
	for _, c := range AllCapabilities {
		if p.Can(c) {
			out = append(out, c)
		}
	}
	return out
}
