package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dnakov/vmcage/pkg/hoststate"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List guest VMs started by this host",
	RunE:    runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	reg := hoststate.Open(hoststate.DefaultBaseDir())
	defer reg.Close()

	vms, err := reg.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPORT\tPID\tROOTFS\tCREATED")
	for _, vm := range vms {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			vm.ID, vm.Status, vm.Port, vm.PID, vm.Rootfs, vm.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove stopped/crashed VMs from the host registry",
	RunE:  runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	reg := hoststate.Open(hoststate.DefaultBaseDir())
	defer reg.Close()

	removed, err := reg.GC()
	if err != nil {
		return err
	}
	for _, id := range removed {
		fmt.Printf("removed %s\n", id)
	}
	fmt.Printf("removed %d VMs\n", len(removed))
	return nil
}
