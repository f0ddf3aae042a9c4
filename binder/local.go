package binder

import (
	"context"
	"fmt"

	"github.com/journeyos/godeye/parcel"
)

// Local is an object hosted by this process. Kill simulates the death of
// its process, which is how tests exercise death notification.
type Local struct {
	stub   Stub
	deaths deathList
}

// NewLocal wraps stub. A nil stub rejects every transaction with
// ErrUnknownTransaction.
func NewLocal(stub Stub) *Local {
	return &Local{stub: stub}
}

func (b *Local) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if !b.deaths.alive() {
		return ErrDeadObject
	}
	if b.stub == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, code)
	}
	if data == nil {
		data = parcel.Obtain()
		defer data.Recycle()
	}
	if reply == nil || IsOneway(flags) {
		scratch := parcel.Obtain()
		defer scratch.Recycle()
		reply = scratch
	}
	return b.stub.OnTransact(ctx, code, data, reply, flags)
}

func (b *Local) LinkToDeath(recipient func()) (Link, error) {
	return b.deaths.link(recipient)
}

func (b *Local) IsBinderAlive() bool {
	return b.deaths.alive()
}

// Kill marks the object dead and notifies its death recipients.
func (b *Local) Kill() {
	b.deaths.kill()
}

func (b *Local) String() string {
	return fmt.Sprintf("binder.Local@%p", b)
}
