package toversok

import "time"

// Config holds every timing and policy knob of the probe workflow.
type Config struct {
	// DirectConnectTimeout bounds the direct connection attempt to a supplied address.
	DirectConnectTimeout time.Duration

	// DiscoveryTimeout bounds the wait for the peer to show up in the registry.
	DiscoveryTimeout time.Duration
	// ConnectTimeout bounds the wait for the transport to report the peer as connected.
	ConnectTimeout time.Duration
	// RecordTimeout bounds the wait for the peer's record to carry an address or key.
	RecordTimeout time.Duration

	// AckTimeout bounds the initiator's wait for an acknowledgment.
	AckTimeout time.Duration
	// ProbeWaitTimeout bounds the responder's wait for a probe.
	ProbeWaitTimeout time.Duration

	PollInterval time.Duration

	// RefreshEvery is how often the connection refresh is retriggered while waiting for a connection.
	RefreshEvery time.Duration
	// ProbeResendInterval is how often an unanswered probe is sent again, zero disables resending.
	ProbeResendInterval time.Duration

	// StrictCorrelation makes the initiator ignore acknowledgments that do not echo its correlation value.
	//
	// Off by default, in which case a mismatching acknowledgment is accepted with a warning.
	StrictCorrelation bool

	// RequireTarget refuses to resolve a peer without an explicit target address.
	//
	// Without a target, the first peer that shows up is taken, which is only correct with exactly two participants.
	RequireTarget bool
}

func DefaultConfig() Config {
	return Config{
		DirectConnectTimeout: 5 * time.Second,
		DiscoveryTimeout:     60 * time.Second,
		ConnectTimeout:       30 * time.Second,
		RecordTimeout:        10 * time.Second,
		AckTimeout:           30 * time.Second,
		ProbeWaitTimeout:     120 * time.Second,
		PollInterval:         500 * time.Millisecond,
		RefreshEvery:         2 * time.Second,
		ProbeResendInterval:  3 * time.Second,
	}
}
