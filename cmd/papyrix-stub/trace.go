package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/bigbag/papyrix-stub/internal/trace"
)

func newTraceCmd() *cobra.Command {
	var showHex bool
	cmd := &cobra.Command{
		Use:   "trace <file>",
		Short: "Print a packet trace recorded by serve --trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open trace: %w", err)
			}
			defer file.Close()
			return printTrace(cmd.OutOrStdout(), file, showHex)
		},
	}
	cmd.Flags().BoolVarP(&showHex, "hex", "x", false, "Hex dump every packet")
	return cmd
}

// printTrace writes one line per record, with times relative to the first.
func printTrace(w io.Writer, r io.Reader, showHex bool) error {
	tr := trace.NewReader(r)
	var start time.Time
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if start.IsZero() {
			start = rec.Timestamp()
		}
		elapsed := rec.Timestamp().Sub(start)
		fmt.Fprintf(w, "%6d %10.3fms %s %s\n", rec.Seq, float64(elapsed.Microseconds())/1000, rec.Direction, rec.Summary())
		if showHex {
			// xxd prints to stdout only.
			xxd.Print(0, rec.Packet)
		}
	}
}
