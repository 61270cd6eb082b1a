package toversok

import (
	"errors"
	"fmt"

	"github.com/edup2p/peerprobe/toversok/poll"
)

var (
	ErrDiscoveryTimeout  = errors.New("discovery timeout")
	ErrConnectionFailure = errors.New("connection failure")
	ErrMissingPeerKey    = errors.New("missing peer key")
	ErrSendFailed        = errors.New("send failed")
	ErrRefresh           = errors.New("refresh failed")
	ErrNoProbe           = errors.New("no probe received")
	ErrNoAck             = errors.New("no acknowledgment received")
	ErrNoTarget          = errors.New("no target address given")
)

// StepError is returned when a step of the workflow fails, it names the step and carries both the
// error kind (one of the sentinels above) and the underlying cause.
type StepError struct {
	Step string
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s during %s: %s", e.Kind, e.Step, e.Err)
}

func (e *StepError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// stepError tags a poll timeout with its step and kind, any other error is returned as is.
func stepError(step string, kind, err error) error {
	var te *poll.TimeoutError
	if !errors.As(err, &te) {
		return err
	}

	return &StepError{Step: step, Kind: kind, Err: err}
}
