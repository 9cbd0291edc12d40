package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/bigbag/papyrix-stub/internal/flasher"
	"github.com/bigbag/papyrix-stub/internal/protocol"
)

type selftestFlags struct {
	target   targetFlags
	image    string
	size     int
	address  uint32
	compress bool
	window   uint32
}

func newSelftestCmd() *cobra.Command {
	var f selftestFlags
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Write, read back and verify a region",
		Long: `Connect to a stub, write an image (random data unless --image is
given), read it back with READ_FLASH and compare.

Without --port or --url the test runs against an in-process emulated chip.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelftest(cmd.Context(), &f)
		},
	}
	f.target.register(cmd)
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "Image to write instead of random data")
	cmd.Flags().IntVarP(&f.size, "size", "s", 0x10000, "Random image size in bytes")
	cmd.Flags().Uint32VarP(&f.address, "address", "a", 0x10000, "Flash address to write at")
	cmd.Flags().BoolVarP(&f.compress, "compress", "z", false, "Use the compressed (deflate) write path")
	cmd.Flags().Uint32Var(&f.window, "window", 16, "READ_FLASH packets in flight")
	return cmd
}

func newBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func runSelftest(ctx context.Context, f *selftestFlags) error {
	var image []byte
	if f.image != "" {
		data, err := os.ReadFile(f.image)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		image = data
	} else {
		image = make([]byte, f.size)
		if _, err := rand.Read(image); err != nil {
			return err
		}
	}
	if len(image) == 0 {
		return fmt.Errorf("nothing to write")
	}

	t, err := f.target.open(ctx)
	if err != nil {
		return err
	}
	defer t.close()
	fmt.Printf("Target: %s\n", t.name)

	fl := flasher.New(t.conn, flasher.WithReadWindow(protocol.FlashSectorSize, f.window))

	fmt.Println("Connecting...")
	if err := fl.Connect(ctx, protocol.DefaultFlashSize); err != nil {
		return err
	}
	info, err := fl.SecurityInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s (API %d)\n", protocol.ChipName(info.ChipID), info.APIVersion)

	mode := "plain"
	if f.compress {
		mode = "deflate"
	}
	fmt.Printf("Writing %d bytes at 0x%X (%s)...\n", len(image), f.address, mode)
	bar := newBar(int(protocol.CalculateFlashBlocks(len(image))), "Writing")
	fl.SetProgressCallback(func(current, total int) {
		bar.ChangeMax(total)
		bar.Set(current)
	})
	region := flasher.FlashRegion{Address: f.address, Data: image, Name: "selftest"}
	if err := fl.FlashMultiple(ctx, []flasher.FlashRegion{region}, f.compress, true); err != nil {
		return err
	}
	bar.Finish()
	fmt.Println("Write verified by MD5")

	bar = newBar(int(protocol.CalculateDeflBlocks(len(image), protocol.FlashSectorSize)), "Reading")
	fl.SetProgressCallback(func(current, total int) {
		bar.ChangeMax(total)
		bar.Set(current)
	})
	got, err := fl.ReadFlash(ctx, f.address, uint32(len(image)))
	if err != nil {
		return err
	}
	bar.Finish()

	if i := firstDiff(got, image); i >= 0 {
		return fmt.Errorf("read back differs at 0x%X", f.address+uint32(i))
	}
	fmt.Printf("Read back %d bytes, contents match\n", len(got))
	return nil
}

// firstDiff returns the index of the first differing byte, or -1.
func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
