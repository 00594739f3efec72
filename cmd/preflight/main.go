// Command preflight installs the playwright driver and the chromium build the
// service needs, then verifies a context can launch. Run it once in the
// deployment pipeline before starting the service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"browserengine/engine"
)

func main() {
	fmt.Println("Checking browser runtime...")

	start := time.Now()
	eng, err := engine.NewPlaywright(engine.Options{Headless: true})
	if err != nil {
		color.Red("✗ Browser engine failed to start: %v", err)
		os.Exit(1)
	}
	color.Green("✓ Driver installed and browser launched (%v)", time.Since(start).Round(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h, err := eng.Launch(ctx)
	if err != nil {
		color.Red("✗ Context launch failed: %v", err)
		eng.Close()
		os.Exit(1)
	}
	color.Green("✓ Execution context launched")

	if err := eng.Terminate(h); err != nil {
		color.Yellow("⚠ Context teardown reported: %v", err)
	}
	if err := eng.Close(); err != nil {
		color.Yellow("⚠ Engine close reported: %v", err)
	}
	color.Green("✓ Preflight complete")
}
