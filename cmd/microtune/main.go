// Command microtune routes MIDI note input through per-destination
// microtonal retuning engines.
package main

import (
	"fmt"
	"os"

	midi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the MIDI driver

	"github.com/quillaudio/microtune/internal/cli"
)

func main() {
	defer midi.CloseDriver()

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
