// Package trezor speaks the Trezor wire protocol over USB HID and implements
// the device transport and signing task used by device sessions.
package trezor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/karalabe/hid"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/device"
	"github.com/yolodolo42/hwsign/internal/logger"
)

// USB identifiers of Trezor devices.
const (
	HIDVendorID     = 0x534c // Trezor One (HID)
	HIDProductID    = 0x0001
	HIDUsagePage    = 0xff00
	WebUSBVendorID  = 0x1209 // Trezor One (WebUSB), Model T
	WebUSBProductID = 0x53c1
)

var (
	// ErrNoDevice is returned by an Opener when no device is attached.
	ErrNoDevice = errors.New("no trezor attached")
	// ErrPermission is returned by an Opener when a device is attached but
	// the process may not open it.
	ErrPermission = errors.New("no permission to open trezor")
)

// Opener finds and opens a device.
type Opener func() (io.ReadWriteCloser, error)

// Transport is a device.Transport over a framed byte stream. The session
// serializes calls, but the mutex also guards the connection against Close.
type Transport struct {
	open Opener
	log  *zap.Logger

	mu      sync.Mutex
	dev     io.ReadWriteCloser
	denied  bool
	advised bool
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a transport that connects through open. A nil open
// selects the USB HID opener.
func NewTransport(open Opener, log *zap.Logger) *Transport {
	if log == nil {
		log = logger.Named("trezor")
	}
	if open == nil {
		open = OpenHID
	}
	return &Transport{open: open, log: log}
}

// OpenHID opens the first attached Trezor.
func OpenHID() (io.ReadWriteCloser, error) {
	if !hid.Supported() {
		return nil, errors.New("usb hid is not supported on this platform")
	}

	var found []hid.DeviceInfo
	for _, ids := range [][2]uint16{{HIDVendorID, HIDProductID}, {WebUSBVendorID, WebUSBProductID}} {
		infos, err := hid.Enumerate(ids[0], ids[1])
		if err != nil {
			return nil, fmt.Errorf("enumerate usb: %w", err)
		}
		for _, info := range infos {
			if info.VendorID == HIDVendorID && info.UsagePage != HIDUsagePage {
				continue
			}
			if info.VendorID == WebUSBVendorID && info.Interface != 0 {
				continue
			}
			found = append(found, info)
		}
	}
	if len(found) == 0 {
		return nil, ErrNoDevice
	}

	dev, err := found[0].Open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) || strings.Contains(strings.ToLower(err.Error()), "permission") {
			return nil, fmt.Errorf("%w: %s", ErrPermission, found[0].Path)
		}
		return nil, fmt.Errorf("open %s: %w", found[0].Path, err)
	}
	return dev, nil
}

// TryConnect reports whether a device is connected, opening one if needed.
func (t *Transport) TryConnect() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev != nil {
		return true
	}
	dev, err := t.open()
	switch {
	case err == nil:
		t.dev = dev
		t.denied = false
		t.log.Info("trezor connected")
		return true
	case errors.Is(err, ErrPermission):
		t.denied = true
	case errors.Is(err, ErrNoDevice):
		t.denied = false
	default:
		t.denied = false
		t.log.Debug("trezor open failed", zap.Error(err))
	}
	return false
}

func (t *Transport) HasDeviceWithoutPermission(bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.denied
}

// RequestPermission has no runtime grant on desktop platforms; it tells the
// user how to give the process access instead.
func (t *Transport) RequestPermission(prompt bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.advised && !prompt {
		return
	}
	t.advised = true
	t.log.Warn("trezor found but cannot be opened; install the trezor udev rules or run with access to the hidraw device")
}

// Exchange writes msg and waits for one reply. A failed exchange drops the
// connection so the next TryConnect reopens the device.
func (t *Transport) Exchange(ctx context.Context, msg device.Outbound) (device.Inbound, error) {
	req, err := encode(msg)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil, ErrNoDevice
	}
	dev := t.dev

	// Closing the device unblocks a pending read.
	stop := context.AfterFunc(ctx, func() { _ = dev.Close() })
	defer stop()

	if err := writeMessage(dev, req); err != nil {
		t.drop()
		return nil, fmt.Errorf("write %s: %w", msg, err)
	}
	kind, data, err := readMessage(dev)
	if err != nil {
		t.drop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("read reply to %s: %w", msg, err)
	}
	return decode(kind, data)
}

// Close releases the device.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil
	}
	err := t.dev.Close()
	t.dev = nil
	return err
}

func (t *Transport) drop() {
	if t.dev != nil {
		_ = t.dev.Close()
		t.dev = nil
	}
}
