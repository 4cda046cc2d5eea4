package conn

// State is a Connection Manager lifecycle state
type State int

const (
	Idle State = iota
	Scanning
	DeviceFound
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case DeviceFound:
		return "device_found"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}
