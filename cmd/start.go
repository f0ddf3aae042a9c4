package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/journeyos/godeye/binder"
	"github.com/journeyos/godeye/config"
	"github.com/journeyos/godeye/godeye"
	"github.com/journeyos/godeye/logger"
	"github.com/journeyos/godeye/openapi"
	"github.com/journeyos/godeye/parcel"
	"github.com/journeyos/godeye/servicemanager"
	"github.com/journeyos/godeye/vrr"
	"github.com/journeyos/godeye/vrr/randr"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var log = logger.New("daemon")

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := newDaemon(ctx, config.Conf)
		if err != nil {
			return err
		}
		return d.run(ctx)
	},
}

// defaultModes is used when neither a mode file nor RandR is configured.
var defaultModes = []vrr.Mode{
	{ID: 0, RefreshRate: 60, Default: true},
	{ID: 1, RefreshRate: 90},
	{ID: 2, RefreshRate: 120},
	{ID: 3, RefreshRate: 144},
}

type daemon struct {
	cfg        config.Config
	services   *servicemanager.ServiceManager
	manager    *godeye.Manager
	modes      *vrr.ModeTable
	flinger    *vrr.SurfaceFlinger
	window     *vrr.WindowState
	server     *binder.Server
	admin      *openapi.Server
	compositor *binder.Conn
}

func newDaemon(ctx context.Context, cfg config.Config) (_ *daemon, err error) {
	d := &daemon{
		cfg:      cfg,
		services: servicemanager.New(),
		manager:  godeye.NewManager(),
	}
	defer func() {
		if err != nil {
			d.shutdown() //nolint:errcheck
		}
	}()

	if err := d.services.AddService(godeye.ServiceName, godeye.NewStub(d.manager).Binder()); err != nil {
		return nil, err
	}

	if d.modes, err = loadModes(cfg); err != nil {
		return nil, err
	}
	if err := d.connectCompositor(ctx); err != nil {
		return nil, err
	}
	d.flinger = vrr.NewSurfaceFlinger(d.modes, d.services)
	d.window = vrr.NewWindowState(d.flinger)

	if d.server, err = binder.Listen(cfg.Socket, d.services.GetService); err != nil {
		return nil, err
	}
	d.admin = openapi.New(openapi.Options{
		Manager:  d.manager,
		Setter:   d.flinger,
		Window:   d.window,
		Services: d.services.ListServices,
	})
	return d, nil
}

func loadModes(cfg config.Config) (*vrr.ModeTable, error) {
	switch {
	case cfg.Modes != "":
		return vrr.LoadModeTable(cfg.Modes)
	case cfg.RandR:
		modes, err := randr.Load(cfg.Display)
		if err != nil {
			return nil, err
		}
		log.Info("%d display modes from RandR", len(modes))
		return vrr.NewModeTable(modes), nil
	}
	log.Warn("no mode table configured, using built-in modes")
	return vrr.NewModeTable(defaultModes), nil
}

// connectCompositor publishes the compositor under vrr.ServiceName. Without
// a compositor socket a local stand-in logs the commands it receives.
func (d *daemon) connectCompositor(ctx context.Context) error {
	if d.cfg.Compositor == "" {
		log.Warn("no compositor configured, refresh rate commands are only logged")
		return d.services.AddService(vrr.ServiceName, binder.NewLocal(loggingCompositor{}))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := binder.Dial(dialCtx, d.cfg.Compositor, nil)
	if err != nil {
		return err
	}
	d.compositor = conn
	log.Info("compositor connected at %s", d.cfg.Compositor)
	return d.services.AddService(vrr.ServiceName, conn.Proxy(vrr.ServiceName))
}

type loggingCompositor struct{}

func (loggingCompositor) OnTransact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if err := data.EnforceInterface(vrr.ComposerDescriptor); err != nil {
		return err
	}
	modeID, err := data.ReadInt32()
	if err != nil {
		return err
	}
	log.Info("compositor transaction %d: mode id %d", code, modeID)
	return nil
}

func (d *daemon) run(ctx context.Context) error {
	ln, err := openapi.Listen(d.cfg.Admin)
	if err != nil {
		d.shutdown() //nolint:errcheck
		return err
	}

	errs := make(chan error, 3)
	go func() { errs <- d.server.Serve(ctx) }()
	go func() { errs <- d.admin.Serve(ln) }()
	go func() { errs <- d.modes.Watch(ctx) }()

	log.Info("godeye %s listening on %s, admin on %s", Version, d.cfg.Socket, d.cfg.Admin)

	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case err := <-errs:
			if err != nil {
				log.Error("daemon stopped: %v", err)
				runErr = err
				break wait
			}
		}
	}

	if err := d.shutdown(); err != nil {
		runErr = multierror.Append(runErr, err)
	}
	log.Info("godeye stopped")
	return runErr
}

func (d *daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if d.admin != nil {
		if err := d.admin.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("admin: %w", err))
		}
	}
	if d.server != nil {
		if err := d.server.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("listener socket: %w", err))
		}
	}
	if d.compositor != nil {
		if err := d.compositor.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("compositor: %w", err))
		}
	}
	if err := d.manager.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("godeye: %w", err))
	}
	return result.ErrorOrNil()
}
