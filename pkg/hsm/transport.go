package hsm

import "context"

// TransportStatus reports what a Transport can determine about the
// physical link without going through the secure channel: whether it
// is connected, and whatever device identity fields it can read off
// the link itself (a USB descriptor, a connector daemon's health
// endpoint). Fields the transport can't discover are left at their
// zero value.
type TransportStatus struct {
	Connected       bool
	VendorID        uint16
	ProductID       uint16
	SerialNumber    string
	FirmwareVersion string
}

// Transport abstracts the physical link to the device: USB bulk
// endpoints, an HTTP connector, or a test double. It knows nothing
// about SCP03 — it sends one wire frame (as built by encodeFrame) and
// returns the matching reply frame (as expected by decodeFrame).
//
// Implementations must be safe for sequential use only; the Session
// facade above this interface serializes all calls.
type Transport interface {
	// SendFrame writes frame and returns the device's reply frame.
	// It must return a *TransportError (directly or via errors.As) on
	// any I/O failure so the caller can distinguish a transport fault
	// from a protocol or cryptographic one.
	SendFrame(ctx context.Context, frame []byte) ([]byte, error)

	// Status reports the link's own connection state and device
	// identity, independent of the secure channel's phase.
	Status(ctx context.Context) (TransportStatus, error)

	// Close releases the underlying link. Safe to call more than
	// once.
	Close() error
}
