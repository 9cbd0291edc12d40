package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigbag/papyrix-stub/internal/detect"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/serial"
)

func newListCmd() *cobra.Command {
	var (
		probe bool
		baud  int
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Long:  "List serial ports. With --probe every port is synced to find the ones a stub answers on.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if probe {
				return runProbe(cmd, baud, reset)
			}
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("No serial ports found")
				return nil
			}
			fmt.Println("Available serial ports:")
			for _, p := range ports {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Sync every port and report the stubs found")
	cmd.Flags().IntVarP(&baud, "baud", "b", protocol.DefaultBaudRate, "Baud rate to probe at")
	cmd.Flags().BoolVar(&reset, "reset", false, "Pulse DTR/RTS into the loader before probing")
	return cmd
}

func runProbe(cmd *cobra.Command, baud int, reset bool) error {
	fmt.Println("Probing serial ports...")
	results, err := detect.ListDevices(cmd.Context(), baud, reset)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No stubs found")
		return nil
	}
	for _, r := range results {
		secure := ""
		if r.Secure {
			secure = " (secure)"
		}
		fmt.Printf("  %s: %s, API %d%s\n", r.Port, r.ChipName, r.APIVersion, secure)
	}
	return nil
}
