package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pior/unirpc"
	"github.com/pior/unirpc/packet"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <arg>...",
	Short: "Send one raw request and dump the response",
	Long: `Send one request built from typed arguments and dump the response.

Arguments are written in order. A prefix selects the type:
  i:42        32-bit integer
  d:1.5       double
  s:text      string (default when no prefix is given)
  c:text      character array
  f:NAME      function name

The first argument is normally the integer function code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := packet.New()
		for i, raw := range args {
			arg, err := parseArgument(raw)
			if err != nil {
				return fmt.Errorf("argument %d: %w", i, err)
			}
			if err := req.Write(i, arg); err != nil {
				return err
			}
		}

		s, err := unirpc.Connect(cmd.Context(), sessionConfig())
		if err != nil {
			return err
		}
		defer s.Close()

		start := time.Now()
		resp, err := s.Invoke(cmd.Context(), req)
		elapsed := time.Since(start)

		var serverErr *unirpc.ServerError
		if err != nil && !errors.As(err, &serverErr) {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Response (took %v)\n%s", elapsed, resp.Dump())
		if serverErr != nil {
			fmt.Fprintf(out, "Status: %v\n", serverErr)
		}
		return nil
	},
}

// parseArgument turns "type:value" into a packet argument.
func parseArgument(raw string) (packet.Argument, error) {
	kind, value, found := strings.Cut(raw, ":")
	if !found || len(kind) != 1 {
		return packet.Bytes([]byte(raw)), nil
	}

	switch kind {
	case "i":
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return packet.Argument{}, err
		}
		return packet.Int(int32(v)), nil
	case "d":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return packet.Argument{}, err
		}
		return packet.Double(v), nil
	case "s":
		return packet.Bytes([]byte(value)), nil
	case "c":
		return packet.CharArray([]byte(value)), nil
	case "f":
		return packet.FuncName(value), nil
	}
	return packet.Bytes([]byte(raw)), nil
}
