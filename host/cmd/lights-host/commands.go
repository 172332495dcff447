package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"lightlink/host/device"
	"lightlink/protocol"
)

func deviceCommands(a *app) []*cobra.Command {
	return []*cobra.Command{
		configCmd(a),
		pixelCmd(a),
		fillCmd(a),
		uploadCmd(a),
		simpleCmd(a, "start", "Resume animation playback", (*device.Client).Start),
		simpleCmd(a, "stop", "Halt animation playback", (*device.Client).Stop),
		simpleCmd(a, "noop", "Check that the device answers", (*device.Client).Noop),
		echoCmd(a),
	}
}

// printResponse writes resp and turns a device rejection into an error
func printResponse(w io.Writer, resp protocol.Response) error {
	if !resp.OK() {
		return fmt.Errorf("device answered %s: %w", resp, resp.Error)
	}
	fmt.Fprintln(w, resp)
	return nil
}

func parseUint32(name, s string) (uint32, error) {
	v, err := protocol.ParseWord(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func simpleCmd(a *app, use, short string, op func(*device.Client) (protocol.Response, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			resp, err := op(c)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func echoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "echo <value>",
		Short: "Write the echo register and wait for the value to come back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseUint32("value", args[0])
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			resp, err := c.Echo(value)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and write configuration registers",
		Long: `Read and write configuration registers.

Registers are addressed by name or number:
  echo, fps_ms, running, led_count, frame_count, debug_r, debug_g,
  debug_b, debug_cmd, status_report, current_file`,
	}

	get := &cobra.Command{
		Use:   "get <index>",
		Short: "Read one register",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := protocol.ParseConfigIndex(args[0])
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			value, ok, err := c.GetConfig(idx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no value\n", idx)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %d (0x%X)\n", idx, value, value)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <index> <value>",
		Short: "Write one register",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := protocol.ParseConfigIndex(args[0])
			if err != nil {
				return err
			}
			value, err := parseUint32("value", args[1])
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			resp, err := c.SetConfig(idx, value)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Read every known register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, idx := range protocol.ConfigIndexes {
				value, ok, err := c.GetConfig(idx)
				switch {
				case err != nil:
					fmt.Fprintf(w, "%-14s error: %v\n", idx, err)
				case !ok:
					fmt.Fprintf(w, "%-14s -\n", idx)
				default:
					fmt.Fprintf(w, "%-14s %d\n", idx, value)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(get, set, list)
	return cmd
}

func pixelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pixel",
		Short: "Read and write single LEDs of a stored frame",
	}

	set := &cobra.Command{
		Use:   "set <frame> <led> <color>",
		Short: "Set one LED",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := parseUint32("frame", args[0])
			if err != nil {
				return err
			}
			led, err := parseUint32("led", args[1])
			if err != nil {
				return err
			}
			color, err := protocol.ParseColor(args[2])
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			resp, err := c.SetPixel(frame, led, color)
			if err != nil {
				return err
			}
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}

	get := &cobra.Command{
		Use:   "get <frame> <led>",
		Short: "Read one LED",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := parseUint32("frame", args[0])
			if err != nil {
				return err
			}
			led, err := parseUint32("led", args[1])
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			color, err := c.GetPixel(frame, led)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color)
			return nil
		},
	}

	cmd.AddCommand(set, get)
	return cmd
}

// uploadFlags are shared by fill and upload
type uploadFlags struct {
	file    uint32
	start   uint32
	replace bool
}

func (f *uploadFlags) register(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&f.file, "file", 0, "device file to store the frame in")
	cmd.Flags().Uint32Var(&f.start, "start", 0, "word offset inside the file")
	cmd.Flags().BoolVar(&f.replace, "replace", false, "replace the file contents instead of updating")
}

func (f *uploadFlags) flag() protocol.UpdateFlag {
	if f.replace {
		return protocol.FlagReplace
	}
	return protocol.FlagUpdate
}

func runUpload(a *app, cmd *cobra.Command, f *uploadFlags, buffer []protocol.Color) error {
	c, err := a.connect()
	if err != nil {
		return err
	}
	result, err := c.UploadFrame(f.file, f.start, f.flag(), buffer)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d pixels as %d runs in %d words (%d chunks)\n",
		result.Pixels, result.Runs, result.Words, result.Chunks)
	return nil
}

func fillCmd(a *app) *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "fill <count> <color>",
		Short: "Upload a frame of count identical pixels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 0 {
				return fmt.Errorf("count: invalid value %q", args[0])
			}
			color, err := protocol.ParseColor(args[1])
			if err != nil {
				return err
			}
			buffer := make([]protocol.Color, count)
			for i := range buffer {
				buffer[i] = color
			}
			return runUpload(a, cmd, &f, buffer)
		},
	}
	f.register(cmd)
	return cmd
}

func uploadCmd(a *app) *cobra.Command {
	var f uploadFlags
	cmd := &cobra.Command{
		Use:   "upload <color>...",
		Short: "Compact a frame and store it in a device file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buffer := make([]protocol.Color, len(args))
			for i, arg := range args {
				color, err := protocol.ParseColor(arg)
				if err != nil {
					return fmt.Errorf("pixel %d: %w", i, err)
				}
				buffer[i] = color
			}
			return runUpload(a, cmd, &f, buffer)
		},
	}
	f.register(cmd)
	return cmd
}
