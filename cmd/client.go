package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/journeyos/godeye/config"
	"github.com/journeyos/godeye/godeye"
	"github.com/journeyos/godeye/openapi"
	godeyeapi "github.com/journeyos/godeye/openapi/godeye"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

var (
	notifyStatus  int64
	notifyPackage string
)

func adminClient(cmd *cobra.Command) (*openapi.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	return openapi.NewClient(config.Conf.Admin), ctx, cancel
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the registered listeners",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := adminClient(cmd)
		defer cancel()
		resp, err := client.Clients(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), resp.Dump)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <factors>",
	Short: "Report whether any listener wants the given factors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := adminClient(cmd)
		defer cancel()
		resp, err := client.Check(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (0x%x): %v\n", resp.Names, resp.Factors, resp.Listening)
		return nil
	},
}

var rateCmd = &cobra.Command{
	Use:   "rate <hz>",
	Short: "Ask the compositor for a refresh rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := cast.ToFloat32E(args[0])
		if err != nil || rate <= 0 {
			return fmt.Errorf("invalid refresh rate %q", args[0])
		}
		client, ctx, cancel := adminClient(cmd)
		defer cancel()
		return client.SetRefreshRate(ctx, rate)
	},
}

var windowCmd = &cobra.Command{
	Use:   "window <pid> <hz>",
	Short: "Report the preferred refresh rate of a window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := cast.ToIntE(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("invalid pid %q", args[0])
		}
		rate, err := cast.ToFloat32E(args[1])
		if err != nil || rate < 0 {
			return fmt.Errorf("invalid refresh rate %q", args[1])
		}
		client, ctx, cancel := adminClient(cmd)
		defer cancel()
		resp, err := client.SetWindow(ctx, pid, rate)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pid %d rate %.2f changed %v\n", resp.Pid, resp.Rate, resp.Changed)
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify <factors>",
	Short: "Tell listeners that factors changed",
	Long:  "Factors are names joined by | or , (app, game, video, touch, screen, battery, thermal, refresh_rate, all) or a number.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, ctx, cancel := adminClient(cmd)
		defer cancel()
		resp, err := client.Notify(ctx, godeyeapi.NotifyRequest{
			Factors: args[0],
			Status:  notifyStatus,
			Package: notifyPackage,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "notified %s\n", godeye.FactorString(resp.Factors))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <factors>",
	Short: "Register as a listener and print callbacks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		factors, err := godeye.ParseFactors(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := godeye.Dial(ctx, config.Conf.Socket)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		out := cmd.OutOrStdout()
		id, err := client.AddListener(ctx, godeye.MonitorFunc(func(factor uint64, status int64, pkg string) {
			fmt.Fprintf(out, "%s %s status=%d package=%s\n", time.Now().Format(time.RFC3339), godeye.FactorString(factor), status, pkg)
		}))
		if err != nil {
			return err
		}
		if _, err := client.SetFactor(ctx, factors); err != nil {
			return err
		}
		fmt.Fprintf(out, "watching %s as %s\n", godeye.FactorString(factors), id)

		select {
		case <-ctx.Done():
			rmCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return client.RemoveListener(rmCtx, id)
		case <-client.Conn().Closed():
			return fmt.Errorf("daemon connection closed")
		}
	},
}

func init() {
	notifyCmd.Flags().Int64Var(&notifyStatus, "status", 1, "status passed to listeners")
	notifyCmd.Flags().StringVar(&notifyPackage, "package", "", "package name passed to listeners")
}
