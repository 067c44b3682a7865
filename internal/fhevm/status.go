package fhevm

// Status is the construction progress of an encrypted-computation instance.
// On the success path it only moves forward through the declared order.
type Status int

// Construction statuses, in reporting order.
const (
	StatusIdle Status = iota
	StatusSDKLoading
	StatusSDKLoaded
	StatusSDKInitializing
	StatusSDKInitialized
	StatusCreating
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSDKLoading:
		return "sdk-loading"
	case StatusSDKLoaded:
		return "sdk-loaded"
	case StatusSDKInitializing:
		return "sdk-initializing"
	case StatusSDKInitialized:
		return "sdk-initialized"
	case StatusCreating:
		return "creating"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Loading reports whether s is an in-progress construction step.
func (s Status) Loading() bool {
	return s > StatusIdle && s < StatusReady
}

// State is a snapshot of a Session.
type State struct {
	Instance Instance
	Status   Status
	Err      error

	// ChainID is the chain the instance was built for.
	ChainID uint64
}

// IsLoading reports whether a construction is in flight.
func (s State) IsLoading() bool { return s.Status.Loading() }

// IsReady reports whether an instance is available.
func (s State) IsReady() bool { return s.Status == StatusReady && s.Instance != nil }
