// Package vrr drives the display refresh rate. It maps a requested rate to
// a compositor display mode and sends the compositor a one-way
// set-refresh-rate transaction.
package vrr

import (
	"context"
	"errors"

	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/parcel"
	"github.com/yaoapp/kun/log"
)

// Compositor contract.
const (
	TransactSetRefreshRate uint32 = 1035
	ComposerDescriptor            = "android.ui.ISurfaceComposer"
	ServiceName                   = "SurfaceFlinger"
)

// ErrNoMode is returned by resolvers that know no mode for a rate.
var ErrNoMode = errors.New("vrr: no display mode for refresh rate")

// ModeResolver maps a refresh rate to the id of the compositor's default
// mode for it.
type ModeResolver interface {
	FindDefaultModeID(rate float32) (int32, error)
}

// ServiceLookup finds a published service by name.
type ServiceLookup interface {
	GetService(name string) (binder.Binder, error)
}

// SurfaceFlinger issues refresh rate commands to the compositor.
type SurfaceFlinger struct {
	modes    ModeResolver
	services ServiceLookup
}

// NewSurfaceFlinger returns a command issuer. Both collaborators are
// required.
func NewSurfaceFlinger(modes ModeResolver, services ServiceLookup) *SurfaceFlinger {
	return &SurfaceFlinger{modes: modes, services: services}
}

// SetRefreshRate asks the compositor to switch to the default mode for rate.
// Failures are logged and never returned; the call is fire-and-forget.
func (sf *SurfaceFlinger) SetRefreshRate(ctx context.Context, rate float32) {
	modeID, err := sf.modes.FindDefaultModeID(rate)
	if err != nil {
		log.Warn("vrr: set refresh rate %.2f: %v", rate, err)
		return
	}
	log.Info("vrr: set refresh rate %.2f, mode id = [%d]", rate, modeID)

	data := parcel.Obtain()
	reply := parcel.Obtain()
	defer func() {
		data.Recycle()
		// A one-way call never fills reply; drain it anyway and drop what
		// comes out.
		if err := reply.ReadException(); err != nil {
			log.Debug("vrr: reply drained: %v", err)
		}
		reply.Recycle()
	}()

	data.WriteInterfaceToken(ComposerDescriptor)
	data.WriteInt32(modeID)

	service, err := sf.services.GetService(ServiceName)
	if err != nil {
		log.Error("vrr: compositor unavailable: %v", err)
		return
	}

	if err := service.Transact(ctx, TransactSetRefreshRate, data, nil, binder.FlagOneway); err != nil {
		log.Error("vrr: set refresh rate transaction failed: %v", err)
	}
}
