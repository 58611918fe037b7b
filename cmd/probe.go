package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/logging"
	"github.com/smazurov/camback/internal/nats"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var (
		url     string
		prefix  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <dom> <dev>",
		Short: "Query a bound frontend as a guest would",
		Long: `Connects to the backend's NATS server and sends read-only requests on a frontend's ` +
			`ring: config-get, buffer-get-layout and control-enum. Nothing is changed on the device.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var domID, devID uint32
			if _, err := fmt.Sscan(args[0], &domID); err != nil {
				return fmt.Errorf("invalid domain id %q", args[0])
			}
			if _, err := fmt.Sscan(args[1], &devID); err != nil {
				return fmt.Errorf("invalid device index %q", args[1])
			}

			client, err := nats.DialFrontend(url, prefix, domID, devID, logging.GetLogger("probe"))
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return probe(ctx, cmd.OutOrStdout(), client)
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", "nats://127.0.0.1:4222", "Backend NATS URL")
	cmd.Flags().StringVar(&prefix, "prefix", nats.DefaultFrontendPrefix, "Frontend subject prefix")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Overall timeout")
	return cmd
}

// requester is the part of nats.FrontendClient probe uses.
type requester interface {
	Do(ctx context.Context, op cameraif.Op, payload any) (cameraif.Response, error)
}

func probe(ctx context.Context, out io.Writer, c requester) error {
	var cfg cameraif.Config
	if err := call(ctx, c, cameraif.OpConfigGet, nil, &cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "format:  %s %dx%d @ %d/%d fps\n",
		v4l2.FormatFourCC(cfg.PixelFormat), cfg.Width, cfg.Height, cfg.FrameRateNumer, cfg.FrameRateDenom)

	var layout cameraif.Layout
	if err := call(ctx, c, cameraif.OpBufGetLayout, nil, &layout); err != nil {
		return err
	}
	fmt.Fprintf(out, "buffer:  %d bytes, %d plane(s), stride %d\n", layout.Size, layout.NumPlanes, layout.PlaneStride[0])

	for i := 0; i < 256; i++ {
		var ctrl cameraif.CtrlEnumResp
		err := call(ctx, c, cameraif.OpCtrlEnum, cameraif.Index{Index: uint8(i)}, &ctrl)
		if errors.Is(err, syscall.EINVAL) {
			break
		}
		if err != nil {
			return err
		}
		name, nerr := cameraif.ControlName(ctrl.Type)
		if nerr != nil {
			name = fmt.Sprintf("type %d", ctrl.Type)
		}
		fmt.Fprintf(out, "control: %-12s min=%d max=%d step=%d default=%d\n", name, ctrl.Min, ctrl.Max, ctrl.Step, ctrl.Default)
	}
	return nil
}

// call sends one request and decodes a successful response into out. A
// negative status comes back as the matching errno.
func call(ctx context.Context, c requester, op cameraif.Op, payload, out any) error {
	resp, err := c.Do(ctx, op, payload)
	if err != nil {
		return err
	}
	if resp.Status != 0 {
		return fmt.Errorf("%s: %w", op, syscall.Errno(-resp.Status))
	}
	return cameraif.DecodePayload(resp.Payload, out)
}
