package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillaudio/microtune/internal/device"
)

// DeviceList is the devices command's payload.
type DeviceList struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "devices",
		Short:         "List available MIDI ports",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(rootOpts, cmd)
		},
	}
}

func runDevices(opts *RootOptions, cmd *cobra.Command) error {
	var reg device.Registry
	list := DeviceList{Inputs: reg.InNames(), Outputs: reg.OutNames()}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
		return formatter.Success(list)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Inputs:")
	for _, name := range list.Inputs {
		fmt.Fprintf(w, "  %s\n", name)
	}
	if len(list.Inputs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	fmt.Fprintln(w, "Outputs:")
	for _, name := range list.Outputs {
		fmt.Fprintf(w, "  %s\n", name)
	}
	if len(list.Outputs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	return nil
}
