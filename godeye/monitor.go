package godeye

import (
	"context"
	"fmt"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/parcel"
)

// MonitorDescriptor is the interface token of monitor callbacks.
const MonitorDescriptor = "com.journeyOS.godeye.IGodEyeMonitor"

// TransactOnFactorChanged is the only monitor call.
const TransactOnFactorChanged uint32 = 1

// Monitor is implemented by processes that want factor callbacks.
//
// Callbacks from one daemon connection run one at a time, in the order they
// were sent. A callback may call back into its Client, but while it runs the
// callbacks queued behind it wait.
type Monitor interface {
	OnFactorChanged(factor uint64, status int64, packageName string)
}

// RemoteMonitor is a registered monitor as the service sees it.
type RemoteMonitor struct {
	remote binder.Binder
}

// NewRemoteMonitor wraps b. Wrappers of the same binder are the same
// listener.
func NewRemoteMonitor(b binder.Binder) *RemoteMonitor {
	return &RemoteMonitor{remote: b}
}

func (m *RemoteMonitor) AsBinder() binder.Binder {
	return m.remote
}

// OnFactorChanged delivers a callback. It is one-way: an error means the
// message could not be sent, not that the monitor failed.
func (m *RemoteMonitor) OnFactorChanged(ctx context.Context, factor uint64, status int64, packageName string) error {
	data := parcel.Obtain()
	defer data.Recycle()

	data.WriteInterfaceToken(MonitorDescriptor)
	data.WriteUint64(factor)
	data.WriteInt64(status)
	data.WriteString(packageName)
	return m.remote.Transact(ctx, TransactOnFactorChanged, data, nil, binder.FlagOneway)
}

func (m *RemoteMonitor) String() string {
	return fmt.Sprint(m.remote)
}

// NewMonitorStub returns the Stub that turns incoming callbacks into calls
// on m.
func NewMonitorStub(m Monitor) binder.Stub {
	return binder.StubFunc(func(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
		if code != TransactOnFactorChanged {
			return fmt.Errorf("%w: %d", binder.ErrUnknownTransaction, code)
		}
		if err := data.EnforceInterface(MonitorDescriptor); err != nil {
			return err
		}
		factor, err := data.ReadUint64()
		if err != nil {
			return err
		}
		status, err := data.ReadInt64()
		if err != nil {
			return err
		}
		packageName, err := data.ReadString()
		if err != nil {
			return err
		}
		m.OnFactorChanged(factor, status, packageName)
		return nil
	})
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(factor uint64, status int64, packageName string)

func (f MonitorFunc) OnFactorChanged(factor uint64, status int64, packageName string) {
	f(factor, status, packageName)
}
