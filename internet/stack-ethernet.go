package internet

import (
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/ethernet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/pktbuf"
)

// ProcessRx handles one received Ethernet frame. The frame is copied into a
// receive buffer so the caller may reuse it once ProcessRx returns. Frames
// are dropped and counted when no receive buffer is free.
func (s *Stack) ProcessRx(frame []byte) error {
	s.count(CounterRxFrames)
	buf, ok := s.rx.TryAcquire()
	if !ok {
		s.count(CounterRxNoBuffer)
		return fixnet.ErrExhausted
	}
	defer s.rx.Release(buf)
	n := copy(buf.Bytes(), frame)
	buf.Truncate(n)

	efrm, err := ethernet.NewFrame(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	dst := efrm.DestinationHardwareAddr()
	if *dst != s.hw && !efrm.IsBroadcast() {
		s.count(CounterRxFiltered)
		return nil
	}
	etype := efrm.EtherTypeOrSize()
	if s.logenabled(internal.LevelTrace) {
		s.trace("eth:rx", internal.SlogAddr6("src", efrm.SourceHardwareAddr()),
			slog.String("etype", etype.String()), slog.Int("len", n))
	}
	buf.Strip(fixnet.SizeHeaderEthernet)
	switch etype {
	case fixnet.EtherTypeIPv4:
		return s.rxIPv4(buf)
	case fixnet.EtherTypeARP:
		return s.rxARP(buf)
	}
	s.count(CounterRxUnknownType)
	return nil
}

// GetTxBuffer waits up to timeout for a transmit buffer with headroom for
// all headers reserved. timeout<=0 waits indefinitely.
func (s *Stack) GetTxBuffer(timeout time.Duration) (*pktbuf.Buffer, error) {
	buf, err := s.tx.Acquire(timeout)
	if err != nil {
		s.count(CounterTxNoBuffer)
		return nil, err
	}
	buf.Reserve(txHeadroom)
	return buf, nil
}

// tryTxBuffer is the non-blocking GetTxBuffer used from the receive path.
func (s *Stack) tryTxBuffer() (*pktbuf.Buffer, bool) {
	buf, ok := s.tx.TryAcquire()
	if !ok {
		s.count(CounterTxNoBuffer)
		return nil, false
	}
	buf.Reserve(txHeadroom)
	return buf, true
}

// transmitEthernet prepends the Ethernet header to buf and writes the frame
// to the link. Disposable buffers are released; pinned buffers get their
// window restored to the view they had on entry.
func (s *Stack) transmitEthernet(buf *pktbuf.Buffer, dst [6]byte, etype fixnet.EtherType) error {
	off, length := buf.Window()
	hdr := buf.Prepend(fixnet.SizeHeaderEthernet)
	efrm, _ := ethernet.NewFrame(hdr)
	efrm.SetHeader(dst, s.hw, etype)
	if pad := fixnet.MinFrameSize - buf.Len(); pad > 0 {
		clear(buf.Extend(pad))
	}
	err := s.link.WriteFrame(buf.Bytes())
	if buf.Pinned() {
		buf.SetWindow(off, length)
	} else {
		s.tx.Release(buf)
	}
	if err != nil {
		s.count(CounterTxErrors)
		s.error("eth:tx", slog.String("err", err.Error()))
		return errors.Annotate(err, "link write")
	}
	s.count(CounterTxFrames)
	return nil
}

// release returns a buffer to the transmit pool unless it is held by a connection.
func (s *Stack) release(buf *pktbuf.Buffer) {
	if !buf.Pinned() {
		s.tx.Release(buf)
	}
}
