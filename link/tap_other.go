//go:build !linux

package link

import (
	"net/netip"

	"github.com/juju/errors"
)

// TAP is a Linux TAP interface. It is unavailable on this platform.
type TAP struct{}

func OpenTAP(name string, hostAddr netip.Prefix) (*TAP, error) {
	return nil, errors.NotSupportedf("tap interfaces on this platform")
}

func (tap *TAP) Name() string { return "" }
func (tap *TAP) ReadFrame(dst []byte) (int, error) { return 0, errors.NotSupportedf("tap") }
func (tap *TAP) WriteFrame(frame []byte) error { return errors.NotSupportedf("tap") }
func (tap *TAP) Close() error { return nil }
func (tap *TAP) MTU() (int, error) { return 0, errors.NotSupportedf("tap") }
func (tap *TAP) HostHardwareAddr() ([6]byte, error) { return [6]byte{}, errors.NotSupportedf("tap") }
