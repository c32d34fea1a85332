package protocol

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Handler consumes one command. It must decode exactly its own arguments
// from args so that the next command in the frame can be found.
type Handler func(cmdID uint16, args *[]byte) error

// LinkStats counts link level events
type LinkStats struct {
	FramesIn    uint64
	FramesOut   uint64
	CRCErrors   uint64
	SeqErrors   uint64 // Frames that did not carry the expected sequence
	Resyncs     uint64 // Times input was skipped up to the next sync byte
	BadCommands uint64 // Handler failures, including undecodable payloads
}

// Link exchanges framed commands over a byte stream. Each direction keeps
// its own sequence counter; a gap is counted but the frame is still used.
// Send and Poll may be called from different goroutines.
type Link struct {
	rw io.ReadWriter

	wmu   sync.Mutex
	txSeq uint8

	rmu     sync.Mutex
	rxSeq   uint8
	in      *FifoBuffer
	readBuf [MessageLengthMax]byte

	framesIn    atomic.Uint64
	framesOut   atomic.Uint64
	crcErrors   atomic.Uint64
	seqErrors   atomic.Uint64
	resyncs     atomic.Uint64
	badCommands atomic.Uint64
}

// NewLink creates a link on rw
func NewLink(rw io.ReadWriter) *Link {
	return &Link{
		rw:    rw,
		txSeq: MessageDest,
		rxSeq: MessageDest,
		in:    NewFifoBuffer(4 * MessageLengthMax),
	}
}

// Send writes one frame holding a single command
func (l *Link) Send(cmdID uint16, args ...uint32) error {
	payload, err := EncodeCommand(cmdID, args...)
	if err != nil {
		return err
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	frame, err := EncodeFrame(l.txSeq, payload)
	if err != nil {
		return err
	}
	if _, err := l.rw.Write(frame); err != nil {
		return err
	}
	l.txSeq = nextSeq(l.txSeq)
	l.framesOut.Add(1)
	return nil
}

// Poll performs one read and hands every complete command to h. It returns
// the number of frames handled and any read error; handler errors are only
// counted.
func (l *Link) Poll(h Handler) (int, error) {
	l.rmu.Lock()
	defer l.rmu.Unlock()

	n, rerr := l.rw.Read(l.readBuf[:min(len(l.readBuf), l.in.Free())])
	if n > 0 {
		l.in.Write(l.readBuf[:n])
	}
	frames := l.process(h)
	return frames, rerr
}

// Reset forgets buffered input and restarts both sequence counters
func (l *Link) Reset() {
	l.rmu.Lock()
	l.in.Reset()
	l.rxSeq = MessageDest
	l.rmu.Unlock()

	l.wmu.Lock()
	l.txSeq = MessageDest
	l.wmu.Unlock()
}

// Stats returns a snapshot of the counters
func (l *Link) Stats() LinkStats {
	return LinkStats{
		FramesIn:    l.framesIn.Load(),
		FramesOut:   l.framesOut.Load(),
		CRCErrors:   l.crcErrors.Load(),
		SeqErrors:   l.seqErrors.Load(),
		Resyncs:     l.resyncs.Load(),
		BadCommands: l.badCommands.Load(),
	}
}

func (l *Link) process(h Handler) int {
	data := l.in.Data()
	frames := 0

	for len(data) > 0 {
		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		seq, payload, n, err := DecodeFrame(data)
		if errors.Is(err, ErrShortFrame) {
			break
		}
		if err != nil {
			if errors.Is(err, ErrFrameCRC) {
				l.crcErrors.Add(1)
			}
			data = l.resync(data)
			continue
		}
		data = data[n:]
		frames++
		l.framesIn.Add(1)

		if seq != l.rxSeq {
			l.seqErrors.Add(1)
		}
		l.rxSeq = nextSeq(seq)

		l.dispatch(payload, h)
	}

	l.in.Pop(l.in.Available() - len(data))
	return frames
}

// resync drops input up to and including the next sync byte
func (l *Link) resync(data []byte) []byte {
	l.resyncs.Add(1)
	i := bytes.IndexByte(data[1:], MessageValueSync)
	if i < 0 {
		return nil
	}
	return data[i+2:]
}

func (l *Link) dispatch(payload []byte, h Handler) {
	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			l.badCommands.Add(1)
			return
		}
		if h == nil {
			return
		}
		if err := h(uint16(cmdID), &payload); err != nil {
			// Argument boundaries are unknown after a failure
			l.badCommands.Add(1)
			return
		}
	}
}
