package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "papyrix-stub",
		Short: "Serve and exercise the ESP32 flasher stub protocol",
		Long: `Papyrix Stub runs the flasher stub command processor against an
emulated ESP32 (flash, RAM, registers) and serves it over a serial port or a
WebSocket, so host flashing tools can be developed and tested without a chip.

It also carries the host side: selftest and dump talk to any stub, emulated or
real, over a serial port or WebSocket.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// glog's flags are registered on cobra's flag set; mark the Go
			// flag set parsed so glog does not complain.
			flag.CommandLine.Parse(nil)
		},
	}
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("papyrix-stub %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSelftestCmd(),
		newDumpCmd(),
		newTraceCmd(),
		newListCmd(),
		versionCmd,
	)

	err := rootCmd.Execute()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
