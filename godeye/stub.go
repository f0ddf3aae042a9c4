package godeye

import (
	"context"
	"errors"
	"fmt"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/parcel"
	"github.com/yaoapp/kun/log"
)

// ServiceDescriptor is the interface token of GodEye service calls.
const ServiceDescriptor = "com.journeyOS.godeye.IGodEyeService"

// Service transaction codes.
const (
	TransactAddListener uint32 = iota + 1
	TransactRemoveListener
	TransactSetFactor
	TransactUpdateFactor
	TransactRemoveFactor
	TransactCheckFactor
)

// ErrNotRemote is returned for listener calls that did not arrive over a
// connection, since there is no peer object to call back.
var ErrNotRemote = errors.New("godeye: listener calls must come from another process")

// Stub serves GodEye calls from other processes. The pid a call acts on is
// always the caller's own, taken from the connection's peer credentials.
type Stub struct {
	mgr *Manager
}

// NewStub returns a Stub backed by mgr.
func NewStub(mgr *Manager) *Stub {
	return &Stub{mgr: mgr}
}

// Binder wraps the stub in a local object ready to be published.
func (s *Stub) Binder() *binder.Local {
	return binder.NewLocal(s)
}

func (s *Stub) OnTransact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if err := data.EnforceInterface(ServiceDescriptor); err != nil {
		return err
	}
	pid := binder.CallingPid(ctx)

	var ok bool
	switch code {
	case TransactAddListener, TransactRemoveListener:
		m, err := s.monitor(ctx, data)
		if err != nil {
			return err
		}
		if code == TransactAddListener {
			ok = s.mgr.AddListener(pid, m)
		} else {
			ok = s.mgr.RemoveListener(m)
		}
		if code == TransactRemoveListener || !ok {
			release(m)
		}

	case TransactSetFactor, TransactUpdateFactor, TransactRemoveFactor, TransactCheckFactor:
		factors, err := data.ReadUint64()
		if err != nil {
			return err
		}
		switch code {
		case TransactSetFactor:
			ok = s.mgr.SetFactor(pid, factors)
		case TransactUpdateFactor:
			ok = s.mgr.UpdateFactor(pid, factors)
		case TransactRemoveFactor:
			ok = s.mgr.RemoveFactor(pid, factors)
		default:
			ok = s.mgr.CheckFactor(factors)
		}

	default:
		return fmt.Errorf("%w: %d", binder.ErrUnknownTransaction, code)
	}

	reply.WriteNoException()
	reply.WriteBool(ok)
	return nil
}

// release drops the connection's cached proxy of an unregistered monitor.
func release(m *RemoteMonitor) {
	if p, ok := m.AsBinder().(*binder.Proxy); ok {
		p.Conn().ReleaseProxy(p)
	}
}

func (s *Stub) monitor(ctx context.Context, data *parcel.Parcel) (*RemoteMonitor, error) {
	id, err := data.ReadObject()
	if err != nil {
		return nil, err
	}
	conn := binder.CallerFrom(ctx)
	if conn == nil {
		log.Warn("godeye: in-process listener call for %s rejected", id)
		return nil, ErrNotRemote
	}
	return NewRemoteMonitor(conn.Proxy(id)), nil
}
