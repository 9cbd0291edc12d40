package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/bigbag/papyrix-stub/internal/flasher"
	"github.com/bigbag/papyrix-stub/internal/protocol"
)

type dumpFlags struct {
	target    targetFlags
	address   uint32
	size      uint32
	out       string
	flashSize uint32
}

func newDumpCmd() *cobra.Command {
	var f dumpFlags
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Read a flash region",
		Long:  "Read a flash region with READ_FLASH and hex dump it, or save it with --out.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.Context(), &f)
		},
	}
	f.target.register(cmd)
	cmd.Flags().Uint32VarP(&f.address, "address", "a", 0, "Flash address to read from")
	cmd.Flags().Uint32VarP(&f.size, "size", "s", 0x100, "Number of bytes to read")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write the data to a file instead of stdout")
	cmd.Flags().Uint32Var(&f.flashSize, "flash-size", protocol.DefaultFlashSize, "Flash size reported to SPI_SET_PARAMS")
	return cmd
}

func runDump(ctx context.Context, f *dumpFlags) error {
	if f.size == 0 {
		return fmt.Errorf("size must be positive")
	}

	t, err := f.target.open(ctx)
	if err != nil {
		return err
	}
	defer t.close()

	fl := flasher.New(t.conn)
	if err := fl.Connect(ctx, f.flashSize); err != nil {
		return err
	}

	// The bar would interleave with the dump on stdout.
	if f.out != "" {
		bar := newBar(int(protocol.CalculateDeflBlocks(int(f.size), protocol.FlashSectorSize)), "Reading")
		fl.SetProgressCallback(func(current, total int) { bar.Set(current) })
		defer bar.Finish()
	}
	data, err := fl.ReadFlash(ctx, f.address, f.size)
	if err != nil {
		return err
	}

	if f.out == "" {
		xxd.Print(int(f.address), data)
		return nil
	}
	if err := os.WriteFile(f.out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.out, err)
	}
	fmt.Printf("Read %d bytes from 0x%X into %s\n", len(data), f.address, f.out)
	return nil
}
