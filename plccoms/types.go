package plccoms

// PLC catalog type names reported by LIST responses.
const (
	TypeBool    = "BOOL"
	TypeInt     = "INT"
	TypeSInt    = "SINT"
	TypeUSInt   = "USINT"
	TypeDInt    = "DINT"
	TypeUDInt   = "UDINT"
	TypeReal    = "REAL"
	TypeTime    = "TIME"
	TypeTOD     = "TOD"
	TypeDate    = "DATE"
	TypeDT      = "DT"
	TypeString  = "STRING"
	TypeUnknown = "UNKNOWN"
)

// VariableInfo is one entry of the variable catalog returned by
// ListVariables.
type VariableInfo struct {
	Name string
	Type string
}

// ConnectionState describes the client's connection lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (state ConnectionState) String() string {
	switch state {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionStateHandler observes connection state transitions.
type ConnectionStateHandler func(state ConnectionState)
