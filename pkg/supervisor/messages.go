package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when listening is requested without a live chain client.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownNetwork is returned for a network key missing from the registry.
	ErrUnknownNetwork = errors.New("unknown network")
)

// connectFailedMessage is the consumer-facing text for a failed connectivity probe.
func connectFailedMessage(networkName string) string {
	return fmt.Sprintf("Unable to connect to %s. The network may not be available yet.", networkName)
}

// headSourceFailedMessage is the consumer-facing text for a head source that gave up.
func headSourceFailedMessage(networkName string) string {
	return fmt.Sprintf("Lost block subscription on %s.", networkName)
}
