package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/client"
)

var installCmd = &cobra.Command{
	Use:   "install <port> <file>",
	Short: "Install a local binary into the guest's /usr/local/bin",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().Bool("no-exec", false, "Install with mode 0644 instead of 0755")
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	portNum, err := resolvePort(args[0])
	if err != nil {
		return err
	}
	localPath := args[1]
	noExec, _ := cmd.Flags().GetBool("no-exec")

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errx.Wrap(ErrInstallFailed, err)
	}

	c, err := client.Dial("127.0.0.1", portNum)
	if err != nil {
		return errx.Wrap(ErrExecFailed, err)
	}
	defer c.Close()

	name := filepath.Base(localPath)
	if err := c.InstallBinary(name, data, !noExec); err != nil {
		return errx.Wrap(ErrInstallFailed, err)
	}
	fmt.Printf("installed /usr/local/bin/%s\n", name)
	return nil
}
