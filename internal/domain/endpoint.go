package domain

import "time"

// EndpointState is derived from the health tracker's bookkeeping; it is never
// set directly by callers.
type EndpointState string

const (
	EndpointStateHealthy  EndpointState = "healthy"
	EndpointStateCooldown EndpointState = "cooldown"
)

// Endpoint is a remote service instance used to read chain state, fetch
// quotes, or submit transactions.
type Endpoint struct {
	Address string
	Weight  int
}

// EndpointStatus is a point-in-time view of one endpoint's health.
type EndpointStatus struct {
	Address           string        `json:"address"`
	Weight            int           `json:"weight"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	State             EndpointState `json:"state"`
	CooldownUntil     *time.Time    `json:"cooldown_until,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}
