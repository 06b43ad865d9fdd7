package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/hoststate"
	"github.com/dnakov/vmcage/pkg/vmlaunch"
)

var startCmd = &cobra.Command{
	Use:   "start <rootfs>",
	Short: "Start a sandbox guest VM from a rootfs image",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

func init() {
	startCmd.Flags().String("kernel", "", "Path to the guest kernel image")
	startCmd.Flags().String("initrd", "", "Path to the guest initrd image (optional)")
	startCmd.Flags().Int("cpus", 2, "Number of guest vCPUs")
	startCmd.Flags().Int("memory", 1024, "Guest memory in MB")
	startCmd.Flags().StringArray("share", nil, "Host directory to share as host:tag (repeatable)")

	viper.BindPFlag("start.kernel", startCmd.Flags().Lookup("kernel"))
	viper.BindPFlag("start.initrd", startCmd.Flags().Lookup("initrd"))
	viper.BindPFlag("start.cpus", startCmd.Flags().Lookup("cpus"))
	viper.BindPFlag("start.memory", startCmd.Flags().Lookup("memory"))

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	rootfs := args[0]
	if rootfs == "" {
		return ErrRootfsRequired
	}

	shares, err := cmd.Flags().GetStringArray("share")
	if err != nil {
		return err
	}
	cfgShares, err := parseShares(shares)
	if err != nil {
		return err
	}

	cfg := vmlaunch.Config{
		Kernel:   viper.GetString("start.kernel"),
		Initrd:   viper.GetString("start.initrd"),
		Rootfs:   rootfs,
		CPUs:     viper.GetInt("start.cpus"),
		MemoryMB: viper.GetInt("start.memory"),
		Shares:   cfgShares,
	}

	ctx, cancel := contextWithSignal(context.Background())
	defer cancel()

	launcher := &vmlaunch.QEMULauncher{}
	handle, err := launcher.Launch(ctx, cfg)
	if err != nil {
		return errx.Wrap(ErrStartFailed, err)
	}

	reg := hoststate.Open(hoststate.DefaultBaseDir())
	defer reg.Close()

	id, err := reg.Register(handle.PID, handle.Port, rootfs)
	if err != nil {
		_ = handle.Stop()
		return errx.Wrap(ErrStartFailed, err)
	}

	fmt.Printf("%s\n", id)
	fmt.Fprintf(os.Stderr, "guest listening on 127.0.0.1:%d (pid %d)\n", handle.Port, handle.PID)
	return nil
}

// parseShares turns "host:tag" strings from repeated --share flags into
// virtio-fs share descriptors.
func parseShares(raw []string) ([]vmlaunch.Share, error) {
	var out []vmlaunch.Share
	for _, s := range raw {
		idx := lastColon(s)
		if idx <= 0 || idx == len(s)-1 {
			return nil, errx.With(ErrInvalidShare, ": %s", s)
		}
		out = append(out, vmlaunch.Share{HostPath: s[:idx], Tag: s[idx+1:]})
	}
	return out, nil
}

func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// contextWithSignal returns a context cancelled on SIGINT/SIGTERM.
func contextWithSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
