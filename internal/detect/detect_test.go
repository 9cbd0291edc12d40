package detect

import (
	"context"
	"testing"
	"time"

	"github.com/bigbag/papyrix-stub/internal/device"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/server"
	"github.com/bigbag/papyrix-stub/internal/stub"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		chipID uint32
		want   string
	}{
		{"esp32-c3", protocol.ChipIDESP32C3, protocol.ChipName(protocol.ChipIDESP32C3)},
		{"esp32-s3", protocol.ChipIDESP32S3, protocol.ChipName(protocol.ChipIDESP32S3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := device.DefaultConfig()
			cfg.ChipID = tt.chipID
			dev, err := device.New(cfg)
			if err != nil {
				t.Fatalf("device.New() error = %v", err)
			}

			host, target := transport.Pipe()
			defer host.Close()
			defer target.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			go server.New(target, stub.New(dev.Hardware())).Serve(ctx)

			got, err := Probe(ctx, host)
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if got.ChipID != tt.chipID || got.ChipName != tt.want {
				t.Errorf("Probe() = %d %q, want %d %q", got.ChipID, got.ChipName, tt.chipID, tt.want)
			}
			if got.Secure {
				t.Error("Probe() reported a secure chip")
			}
		})
	}
}

func TestProbe_UnknownVariant(t *testing.T) {
	dev, _ := device.New(device.DefaultConfig())
	hw := dev.Hardware()
	hw.Identity = nil

	host, target := transport.Pipe()
	defer host.Close()
	defer target.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go server.New(target, stub.New(hw)).Serve(ctx)

	got, err := Probe(ctx, host)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if got.ChipName != "ESP32 (unknown variant)" {
		t.Errorf("Probe() ChipName = %q, want the unknown variant", got.ChipName)
	}
}

func TestProbe_Silent(t *testing.T) {
	host, target := transport.Pipe()
	defer host.Close()
	defer target.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := Probe(ctx, host); err == nil {
		t.Error("Probe() without a stub succeeded")
	}
}
