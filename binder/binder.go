// Package binder is a small same-host IPC layer: objects that can be called
// with parcels, and that report when the process hosting them goes away.
//
// A Binder is either a Local object living in this process or a Proxy for an
// object exported by a peer process over a unix socket Conn. Binder values
// are pointers, so they compare by identity and can key a map.
package binder

import (
	"context"
	"errors"

	"github.com/journeyos/godeye/parcel"
)

// FlagOneway marks a transaction as fire-and-forget: no reply is sent.
const FlagOneway uint32 = 0x01

// Sentinel errors.
var (
	ErrDeadObject         = errors.New("binder: object is dead")
	ErrUnknownTransaction = errors.New("binder: unknown transaction code")
	ErrNoSuchObject       = errors.New("binder: no such object")
	ErrTransactionFailed  = errors.New("binder: transaction failed")
)

// Binder is a remotely callable object.
type Binder interface {
	// Transact sends a call. reply may be nil; it is ignored for one-way calls.
	Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error

	// LinkToDeath registers recipient to run once when the process hosting
	// the object dies. It fails with ErrDeadObject if it already has; the
	// recipient is never called from inside LinkToDeath.
	LinkToDeath(recipient func()) (Link, error)

	// IsBinderAlive reports whether the hosting process is still reachable.
	IsBinderAlive() bool
}

// Link is a live death subscription.
type Link interface {
	// Unlink cancels the subscription. It returns false if the recipient was
	// already called or the link was already removed.
	Unlink() bool
}

// Stub receives transactions for a Local object.
type Stub interface {
	OnTransact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error
}

// StubFunc adapts a function to Stub.
type StubFunc func(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error

func (f StubFunc) OnTransact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	return f(ctx, code, data, reply, flags)
}

// Resolver looks up a named service for transactions addressed to an
// object the connection does not export itself.
type Resolver func(name string) (Binder, error)

// IsOneway reports whether flags carry FlagOneway.
func IsOneway(flags uint32) bool {
	return flags&FlagOneway != 0
}
