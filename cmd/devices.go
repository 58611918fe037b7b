package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/camback/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long: `Lists capture devices with the unique id to use in frontends.toml. ` +
			`With --verbose, also lists pixel formats, frame sizes and controls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := v4l2.FindDevices()
			if err != nil {
				return fmt.Errorf("failed to enumerate devices: %w", err)
			}
			return printDevices(cmd.OutOrStdout(), devices, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show formats, frame sizes and controls")
	return cmd
}

func printDevices(out io.Writer, devices []v4l2.DeviceInfo, verbose bool) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No capture devices found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIQUE ID\tNAME\tDRIVER\tBUS\tSTABLE ID")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Node(), d.DeviceName, d.Driver, d.BusInfo, d.DeviceID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !verbose {
		return nil
	}
	for _, d := range devices {
		fmt.Fprintf(out, "\n%s (%s)\n", d.Node(), d.DevicePath)
		describeDevice(out, d.DevicePath)
	}
	return nil
}

func describeDevice(out io.Writer, path string) {
	formats, err := v4l2.GetFormats(path)
	if err != nil {
		fmt.Fprintf(out, "  formats: %v\n", err)
	}
	for _, f := range formats {
		emulated := ""
		if f.Emulated {
			emulated = " (emulated)"
		}
		fmt.Fprintf(out, "  %s %s%s\n", v4l2.FormatFourCC(f.PixelFormat), f.FormatName, emulated)

		sizes, err := v4l2.GetResolutions(path, f.PixelFormat)
		if err != nil {
			continue
		}
		for _, s := range sizes {
			fmt.Fprintf(out, "    %dx%d", s.Width, s.Height)
			if rates, err := v4l2.GetFramerates(path, f.PixelFormat, s.Width, s.Height); err == nil {
				for _, r := range rates {
					fmt.Fprintf(out, " %.4g", r.FPS())
				}
				fmt.Fprint(out, " fps")
			}
			fmt.Fprintln(out)
		}
	}

	dev, err := v4l2.Open(path)
	if err != nil {
		fmt.Fprintf(out, "  controls: %v\n", err)
		return
	}
	defer dev.Close()
	ctrls, err := dev.QueryControls()
	if err != nil {
		fmt.Fprintf(out, "  controls: %v\n", err)
		return
	}
	for _, c := range ctrls {
		value := "-"
		if c.Flags&v4l2.CtrlFlagWriteOnly == 0 {
			if v, err := dev.ControlValue(c.ID); err == nil {
				value = fmt.Sprint(v)
			}
		}
		fmt.Fprintf(out, "  control %-24s min=%d max=%d step=%d default=%d value=%s\n",
			c.Name, c.Minimum, c.Maximum, c.Step, c.Default, value)
	}
}

