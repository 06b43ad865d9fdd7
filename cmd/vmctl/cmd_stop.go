package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/hoststate"
)

var stopCmd = &cobra.Command{
	Use:   "stop <port>",
	Short: "Stop a running guest VM",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	reg := hoststate.Open(hoststate.DefaultBaseDir())
	defer reg.Close()

	id := args[0]
	vm, err := reg.Get(id)
	if err != nil {
		if _, perr := parsePositiveInt(id); perr == nil {
			return stopByPort(reg, id)
		}
		return errx.Wrap(ErrVMNotFound, err)
	}

	if err := reg.Kill(vm.ID); err != nil {
		return errx.Wrap(ErrVMNotRunning, err)
	}
	if err := reg.MarkStopped(vm.ID); err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", vm.ID)
	return nil
}

// stopByPort handles the common case where the caller passes the port
// number vmctl start printed to stderr rather than the registry id.
func stopByPort(reg *hoststate.Registry, port string) error {
	vms, err := reg.List()
	if err != nil {
		return err
	}
	portNum, _ := parsePositiveInt(port)
	for _, vm := range vms {
		if vm.Port == portNum && vm.Status == hoststate.StatusRunning {
			if err := reg.Kill(vm.ID); err != nil {
				return errx.Wrap(ErrVMNotRunning, err)
			}
			if err := reg.MarkStopped(vm.ID); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", vm.ID)
			return nil
		}
	}
	return errx.With(ErrVMNotFound, ": port %s", port)
}
