//go:build linux

package link

import (
	"net"
	"net/netip"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// TAP is a Linux TAP interface. Frames written by the stack reach the host
// kernel as if received on the interface named by [TAP.Name].
type TAP struct {
	fd   int // /dev/net/tun descriptor bound to the interface.
	name string
}

// OpenTAP creates or attaches to the TAP interface name. When hostAddr is
// valid the interface is brought up and the host side is assigned the
// prefix, which requires CAP_NET_ADMIN.
func OpenTAP(name string, hostAddr netip.Prefix) (*TAP, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.NotValidf("interface name %q", name)
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Annotate(err, "open tun device")
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Trace(err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	err = unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Annotatef(err, "create tap %s", name)
	}
	tap := &TAP{fd: fd, name: name}
	if hostAddr.IsValid() {
		err = tap.configure(hostAddr)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	return tap, nil
}

// configure assigns the host address and sets the interface up.
func (tap *TAP) configure(prefix netip.Prefix) error {
	if !prefix.Addr().Is4() {
		return errors.NotValidf("host prefix %s", prefix)
	}
	sock, err := tap.ctlSocket()
	if err != nil {
		return err
	}
	defer unix.Close(sock)

	addr := prefix.Addr().As4()
	ifr, _ := unix.NewIfreq(tap.name)
	if err = ifr.SetInet4Addr(addr[:]); err != nil {
		return errors.Trace(err)
	}
	if err = unix.IoctlIfreq(sock, unix.SIOCSIFADDR, ifr); err != nil {
		return errors.Annotate(err, "set address")
	}
	mask := net.CIDRMask(prefix.Bits(), 32)
	ifr, _ = unix.NewIfreq(tap.name)
	if err = ifr.SetInet4Addr(mask); err != nil {
		return errors.Trace(err)
	}
	if err = unix.IoctlIfreq(sock, unix.SIOCSIFNETMASK, ifr); err != nil {
		return errors.Annotate(err, "set netmask")
	}
	ifr, _ = unix.NewIfreq(tap.name)
	if err = unix.IoctlIfreq(sock, unix.SIOCGIFFLAGS, ifr); err != nil {
		return errors.Annotate(err, "get flags")
	}
	ifr.SetUint16(ifr.Uint16() | unix.IFF_UP)
	if err = unix.IoctlIfreq(sock, unix.SIOCSIFFLAGS, ifr); err != nil {
		return errors.Annotate(err, "set link up")
	}
	return nil
}

// Name returns the interface name.
func (tap *TAP) Name() string { return tap.name }

// ReadFrame blocks until the host sends a frame through the interface.
func (tap *TAP) ReadFrame(dst []byte) (int, error) {
	n, err := unix.Read(tap.fd, dst)
	if err != nil {
		return 0, errors.Annotate(err, "tap read")
	}
	return n, nil
}

// WriteFrame delivers frame to the host.
func (tap *TAP) WriteFrame(frame []byte) error {
	_, err := unix.Write(tap.fd, frame)
	if err != nil {
		return errors.Annotate(err, "tap write")
	}
	return nil
}

func (tap *TAP) Close() error {
	return unix.Close(tap.fd)
}

// MTU returns the interface MTU as configured on the host.
func (tap *TAP) MTU() (int, error) {
	sock, err := tap.ctlSocket()
	if err != nil {
		return 0, err
	}
	defer unix.Close(sock)
	ifr, _ := unix.NewIfreq(tap.name)
	err = unix.IoctlIfreq(sock, unix.SIOCGIFMTU, ifr)
	if err != nil {
		return 0, errors.Annotate(err, "get mtu")
	}
	return int(ifr.Uint32()), nil
}

// HostHardwareAddr returns the host side hardware address of the interface.
// A stack attached to the TAP must use a different address.
func (tap *TAP) HostHardwareAddr() (hw [6]byte, err error) {
	iface, err := net.InterfaceByName(tap.name)
	if err != nil {
		return hw, errors.Trace(err)
	}
	if len(iface.HardwareAddr) != 6 {
		return hw, errors.NotValidf("hardware address %s", iface.HardwareAddr)
	}
	copy(hw[:], iface.HardwareAddr)
	return hw, nil
}

// ctlSocket opens a socket to issue interface ioctls on.
func (tap *TAP) ctlSocket() (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_IP)
	if err != nil {
		return 0, errors.Annotate(err, "tap control socket")
	}
	return sock, nil
}
