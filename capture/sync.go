package capture

// trigger2ImageDelayUsPerOffsetUnit scales a Subordinate's offset_units
// into the hardware trigger-to-image delay the reopened camera is
// configured with (§4.C8 sync role transitions).
const trigger2ImageDelayUsPerOffsetUnit = 160

// SyncRole is a camera's role in the hardware sync group (§4.C8's sync
// state machine). Numeric values match the wire codes the coordinator
// exchanges with each camera: Subordinate=0, Master=1, Standalone=2.
type SyncRole int

const (
	RoleSubordinate SyncRole = 0
	RoleMaster      SyncRole = 1
	RoleStandalone  SyncRole = 2
)

func (r SyncRole) String() string {
	switch r {
	case RoleSubordinate:
		return "subordinate"
	case RoleMaster:
		return "master"
	case RoleStandalone:
		return "standalone"
	default:
		return "unknown"
	}
}
