package link

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/juju/errors"
)

// Pcap writes frames to a pcap capture file.
type Pcap struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	snaplen int
	now     func() time.Time
}

// NewPcap writes the capture file header to w. Frames longer than snaplen
// are truncated in the capture.
func NewPcap(w io.Writer, snaplen int) (*Pcap, error) {
	if snaplen <= 0 {
		return nil, errors.NotValidf("snaplen %d", snaplen)
	}
	pw := pcapgo.NewWriter(w)
	err := pw.WriteFileHeader(uint32(snaplen), layers.LinkTypeEthernet)
	if err != nil {
		return nil, errors.Annotate(err, "pcap header")
	}
	return &Pcap{w: pw, snaplen: snaplen, now: time.Now}, nil
}

// Capture records frame. It is safe for concurrent use.
func (p *Pcap) Capture(frame []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     p.now(),
		CaptureLength: min(len(frame), p.snaplen),
		Length:        len(frame),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.WritePacket(ci, frame[:ci.CaptureLength])
}

// Tee returns a device that captures every frame read from or written to dev.
// Capture errors are reported to onErr if not nil and never fail the device.
func (p *Pcap) Tee(dev Device, onErr func(error)) Device {
	return &teeDevice{dev: dev, pcap: p, onErr: onErr}
}

type teeDevice struct {
	dev   Device
	pcap  *Pcap
	onErr func(error)
}

func (t *teeDevice) WriteFrame(frame []byte) error {
	t.capture(frame)
	return t.dev.WriteFrame(frame)
}

func (t *teeDevice) ReadFrame(dst []byte) (int, error) {
	n, err := t.dev.ReadFrame(dst)
	if err == nil && n > 0 {
		t.capture(dst[:n])
	}
	return n, err
}

func (t *teeDevice) capture(frame []byte) {
	err := t.pcap.Capture(frame)
	if err != nil && t.onErr != nil {
		t.onErr(err)
	}
}
