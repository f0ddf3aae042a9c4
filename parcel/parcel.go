// Package parcel implements the flat payload container carried by binder
// transactions. Values are written and read back in the same order as
// little-endian fixed-width fields, length-prefixed strings and object
// references. Parcels are pooled; InUse counts the ones not yet recycled so
// tests can check that every transaction gives its parcels back.
package parcel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// Sentinel errors.
var (
	ErrShortRead     = errors.New("parcel: not enough data")
	ErrBadInterface  = errors.New("parcel: interface token mismatch")
	ErrBadObject     = errors.New("parcel: value is not an object reference")
	ErrNegativeCount = errors.New("parcel: negative length")
)

const (
	exceptionNone   int32 = 0
	exceptionRemote int32 = -1

	tagObject int32 = 0x73622a85 // object reference marker
)

// RemoteError is the exception a peer wrote into a reply parcel.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "parcel: remote exception: " + e.Message
}

// Parcel is a flat, little-endian container for transaction payloads.
// Writes append; reads consume from an internal cursor.
// Parcels are pooled: get one with Obtain and hand it back with Recycle.
type Parcel struct {
	buf      []byte
	pos      int
	recycled bool
}

var (
	pool = sync.Pool{
		New: func() any { return &Parcel{buf: make([]byte, 0, 64)} },
	}
	inUse atomic.Int64
)

// Obtain returns an empty parcel from the pool.
func Obtain() *Parcel {
	p := pool.Get().(*Parcel)
	p.buf = p.buf[:0]
	p.pos = 0
	p.recycled = false
	inUse.Add(1)
	return p
}

// From returns a pooled parcel holding a copy of b, positioned at the start.
func From(b []byte) *Parcel {
	p := Obtain()
	p.buf = append(p.buf, b...)
	return p
}

// InUse reports how many obtained parcels have not been recycled yet.
func InUse() int64 {
	return inUse.Load()
}

// Recycle returns the parcel to the pool. The parcel must not be used
// afterwards. A second Recycle before anyone obtains the parcel again is
// ignored; once the pool has handed it out, a stale Recycle would release
// the new owner's parcel.
func (p *Parcel) Recycle() {
	if p == nil || p.recycled {
		return
	}
	p.recycled = true
	p.buf = p.buf[:0]
	p.pos = 0
	inUse.Add(-1)
	pool.Put(p)
}

// Bytes returns the marshalled content. The slice is only valid until the
// parcel is written to or recycled.
func (p *Parcel) Bytes() []byte {
	return p.buf
}

// SetBytes replaces the content with a copy of b and rewinds the cursor.
func (p *Parcel) SetBytes(b []byte) {
	p.buf = append(p.buf[:0], b...)
	p.pos = 0
}

// Len returns the total number of bytes in the parcel.
func (p *Parcel) Len() int {
	return len(p.buf)
}

// DataAvail returns the number of unread bytes.
func (p *Parcel) DataAvail() int {
	return len(p.buf) - p.pos
}

// Rewind moves the read cursor back to the start.
func (p *Parcel) Rewind() {
	p.pos = 0
}

func (p *Parcel) WriteInt32(v int32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

func (p *Parcel) WriteUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *Parcel) WriteInt64(v int64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, uint64(v))
}

func (p *Parcel) WriteUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *Parcel) WriteFloat32(v float32) {
	p.WriteUint32(math.Float32bits(v))
}

func (p *Parcel) WriteBool(v bool) {
	if v {
		p.WriteInt32(1)
		return
	}
	p.WriteInt32(0)
}

// WriteString writes a length-prefixed UTF-8 string.
func (p *Parcel) WriteString(s string) {
	p.WriteInt32(int32(len(s)))
	p.buf = append(p.buf, s...)
}

// WriteInterfaceToken writes the descriptor of the interface a transaction
// is addressed to. The receiver checks it with EnforceInterface.
func (p *Parcel) WriteInterfaceToken(descriptor string) {
	p.WriteString(descriptor)
}

// WriteObject writes a reference to an object living in the sender's
// process, identified by id.
func (p *Parcel) WriteObject(id string) {
	p.WriteInt32(tagObject)
	p.WriteString(id)
}

// WriteNoException marks a reply as successful.
func (p *Parcel) WriteNoException() {
	p.WriteInt32(exceptionNone)
}

// WriteException marks a reply as failed with err's message.
func (p *Parcel) WriteException(err error) {
	p.WriteInt32(exceptionRemote)
	p.WriteString(err.Error())
}

func (p *Parcel) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeCount
	}
	if p.DataAvail() < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrShortRead, n, p.DataAvail())
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b, nil
}

func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (p *Parcel) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

func (p *Parcel) ReadUint64() (uint64, error) {
	b, err := p.next(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (p *Parcel) ReadFloat32() (float32, error) {
	v, err := p.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.ReadInt32()
	return v != 0, err
}

func (p *Parcel) ReadString() (string, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	b, err := p.next(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EnforceInterface reads the interface token and checks it against
// descriptor.
func (p *Parcel) EnforceInterface(descriptor string) error {
	token, err := p.ReadString()
	if err != nil {
		return err
	}
	if token != descriptor {
		return fmt.Errorf("%w: got %q, want %q", ErrBadInterface, token, descriptor)
	}
	return nil
}

// ReadObject reads an object reference written by WriteObject.
func (p *Parcel) ReadObject() (string, error) {
	tag, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	if tag != tagObject {
		return "", ErrBadObject
	}
	return p.ReadString()
}

// ReadException reads the reply header. It returns nil for a successful
// reply, a *RemoteError for a failed one, and a read error when the parcel
// holds no header at all.
func (p *Parcel) ReadException() error {
	code, err := p.ReadInt32()
	if err != nil {
		return err
	}
	if code == exceptionNone {
		return nil
	}
	msg, err := p.ReadString()
	if err != nil {
		return err
	}
	return &RemoteError{Message: msg}
}
