// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"spectrogram/cmd"
	"spectrogram/pkg/build"
)

// main wires process-level concerns and hands over to the command tree.
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Install signal handling
//
// 2. Concurrent Phase (Hot Path):
//   - The selected command runs until it finishes or the context is
//     cancelled by SIGINT/SIGTERM
//
// 3. Shutdown Phase (Cold Path):
//   - Commands release their own resources before returning
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Builds without ldflags keep the default version information.
	if err := build.Initialize(); err != nil {
		log.Printf("Build information unavailable: %v", err)
	}

	// Limit OS threads to optimize for real-time audio processing:
	// - One thread dedicated to the audio callback (time-critical)
	// - One thread for inference, transports and I/O
	runtime.GOMAXPROCS(2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		log.Fatal(err)
	}
}
