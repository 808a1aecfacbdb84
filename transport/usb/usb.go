// Package usb implements the hsm.Transport interface over a direct USB
// bulk connection to the device, using vendor and product IDs to find
// it among attached devices.
package usb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/gousb"

	"github.com/vault-edge/go-hsm/pkg/hsm"
)

// defaultVendorID and defaultProductID identify the device's factory
// USB descriptor. Callers with a different device variant can override
// them via Options.
const (
	defaultVendorID  = gousb.ID(0x1050)
	defaultProductID = gousb.ID(0x0030)

	// The device exposes bulk-out endpoint address 0x01 and bulk-in
	// endpoint address 0x81; gousb addresses each by its endpoint
	// number (the low nibble) and infers direction from which of
	// OutEndpoint/InEndpoint is called.
	bulkOutEndpoint = 1
	bulkInEndpoint  = 1

	readBufferSize = hsm.MaxFrameBody + 3 // header + max payload
)

// Options configures Open.
type Options struct {
	VendorID  gousb.ID
	ProductID gousb.ID
	Logger    *slog.Logger
}

// Connection is a USB bulk-transfer connection to the device. It
// mirrors the Connect/Transmit/Close lifecycle of a PC/SC reader
// connection, adapted to gousb's context and endpoint model.
type Connection struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	iface  *gousb.Interface
	ifDone func()
	out    *gousb.OutEndpoint
	in     *gousb.InEndpoint
	log    *slog.Logger
}

// Open enumerates attached USB devices and connects to the first one
// matching the configured vendor/product ID.
func Open(opts Options) (*Connection, error) {
	vid := opts.VendorID
	if vid == 0 {
		vid = defaultVendorID
	}
	pid := opts.ProductID
	if pid == 0 {
		pid = defaultProductID
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}
	if dev == nil {
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: fmt.Errorf("no device found for vid=%s pid=%s", vid, pid)}
	}

	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}
	iface, done, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}

	out, err := iface.OutEndpoint(bulkOutEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}
	in, err := iface.InEndpoint(bulkInEndpoint)
	if err != nil {
		done()
		dev.Close()
		ctx.Close()
		return nil, &hsm.TransportError{Op: "usb.Open", Cause: err}
	}

	log.Debug("usb: connected", "vendor", vid, "product", pid)
	return &Connection{ctx: ctx, dev: dev, iface: iface, ifDone: done, out: out, in: in, log: log}, nil
}

// SendFrame writes frame to the bulk-out endpoint and reads the
// device's reply frame from the bulk-in endpoint.
func (c *Connection) SendFrame(ctx context.Context, frame []byte) ([]byte, error) {
	if c == nil || c.out == nil {
		return nil, &hsm.TransportError{Op: "usb.SendFrame", Cause: fmt.Errorf("connection not open")}
	}
	if _, err := c.out.WriteContext(ctx, frame); err != nil {
		return nil, &hsm.TransportError{Op: "usb.SendFrame", Cause: err}
	}

	buf := make([]byte, readBufferSize)
	n, err := c.in.ReadContext(ctx, buf)
	if err != nil {
		return nil, &hsm.TransportError{Op: "usb.SendFrame", Cause: err}
	}
	c.log.Debug("usb: frame exchanged", "sent", len(frame), "received", n)
	return buf[:n], nil
}

// Status reports the connected device's USB vendor/product ID, serial
// number, and release number (standing in for a firmware version, as
// gousb exposes no separate firmware field).
func (c *Connection) Status(ctx context.Context) (hsm.TransportStatus, error) {
	if c == nil || c.dev == nil {
		return hsm.TransportStatus{}, &hsm.TransportError{Op: "usb.Status", Cause: fmt.Errorf("connection not open")}
	}
	status := hsm.TransportStatus{
		Connected:       true,
		VendorID:        uint16(c.dev.Desc.Vendor),
		ProductID:       uint16(c.dev.Desc.Product),
		FirmwareVersion: c.dev.Desc.Device.String(),
	}
	if serial, err := c.dev.SerialNumber(); err == nil {
		status.SerialNumber = serial
	} else {
		c.log.Debug("usb: serial number unavailable", "error", err)
	}
	return status, nil
}

// Close releases the interface, device handle, and USB context. Safe
// to call more than once.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if c.ifDone != nil {
		c.ifDone()
		c.ifDone = nil
	}
	if c.dev != nil {
		_ = c.dev.Close()
		c.dev = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Close()
		c.ctx = nil
	}
	return nil
}
