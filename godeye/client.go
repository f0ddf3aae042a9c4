package godeye

import (
	"context"
	"fmt"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/parcel"
)

// Client talks to the GodEye service of a daemon.
type Client struct {
	conn    *binder.Conn
	service binder.Binder
}

// Dial connects to the daemon's listener socket.
func Dial(ctx context.Context, socket string) (*Client, error) {
	conn, err := binder.Dial(ctx, socket, nil)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient uses an established connection.
func NewClient(conn *binder.Conn) *Client {
	return &Client{conn: conn, service: conn.Proxy(ServiceName)}
}

// Conn is the underlying connection.
func (c *Client) Conn() *binder.Conn {
	return c.conn
}

// Close drops the connection; the daemon forgets this process's monitors.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AddListener exports m and registers it. The returned id identifies the
// registration for RemoveListener.
func (c *Client) AddListener(ctx context.Context, m Monitor) (string, error) {
	id := binder.NewObjectID("monitor")
	c.conn.Export(id, binder.NewLocal(NewMonitorStub(m)))

	ok, err := c.call(ctx, TransactAddListener, func(data *parcel.Parcel) { data.WriteObject(id) })
	if err != nil || !ok {
		c.conn.Unexport(id)
		if err == nil {
			err = fmt.Errorf("godeye: listener %s rejected", id)
		}
		return "", err
	}
	return id, nil
}

// RemoveListener unregisters and unexports the monitor registered as id.
func (c *Client) RemoveListener(ctx context.Context, id string) error {
	defer c.conn.Unexport(id)
	_, err := c.call(ctx, TransactRemoveListener, func(data *parcel.Parcel) { data.WriteObject(id) })
	return err
}

// SetFactor replaces this process's factors.
func (c *Client) SetFactor(ctx context.Context, factors uint64) (bool, error) {
	return c.callFactors(ctx, TransactSetFactor, factors)
}

// UpdateFactor adds factors.
func (c *Client) UpdateFactor(ctx context.Context, factors uint64) (bool, error) {
	return c.callFactors(ctx, TransactUpdateFactor, factors)
}

// RemoveFactor toggles factors.
func (c *Client) RemoveFactor(ctx context.Context, factors uint64) (bool, error) {
	return c.callFactors(ctx, TransactRemoveFactor, factors)
}

// CheckFactor asks whether any process listens for factors.
func (c *Client) CheckFactor(ctx context.Context, factors uint64) (bool, error) {
	return c.callFactors(ctx, TransactCheckFactor, factors)
}

func (c *Client) callFactors(ctx context.Context, code uint32, factors uint64) (bool, error) {
	return c.call(ctx, code, func(data *parcel.Parcel) { data.WriteUint64(factors) })
}

func (c *Client) call(ctx context.Context, code uint32, write func(*parcel.Parcel)) (bool, error) {
	data := parcel.Obtain()
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()

	data.WriteInterfaceToken(ServiceDescriptor)
	write(data)
	if err := c.service.Transact(ctx, code, data, reply, 0); err != nil {
		return false, err
	}
	if err := reply.ReadException(); err != nil {
		return false, err
	}
	return reply.ReadBool()
}
