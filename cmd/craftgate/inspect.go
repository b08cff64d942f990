package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"craftgate/internal/app"
	"craftgate/internal/config"
	"craftgate/internal/protocol"
	"craftgate/pkg/mcproto"
)

func inspectCmd() *cobra.Command {
	var (
		file    string
		parsers []string
	)

	cmd := &cobra.Command{
		Use:   "inspect [hex]",
		Short: "Decode a captured connection prelude",
		Long: `Decode the first bytes of a connection the way the proxy would.

The prelude is given as a hex string (spaces allowed), or read raw from
--file ("-" for stdin). Prints the Minecraft handshake fields when there
is one, then the routing result and request variables.`,
		Example: `  craftgate inspect 10 00 ff 05 09 6c 6f 63 61 6c 68 6f 73 74 63 dd 01
  craftgate inspect --file capture.bin --parsers tls_sni`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prelude, err := readPrelude(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			return inspect(cmd, prelude, parsers)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", `read raw bytes from a file ("-" for stdin)`)
	cmd.Flags().StringSliceVarP(&parsers, "parsers", "p", []string{"minecraft_handshake", "tls_sni", "http_host"}, "builtin parsers to try, in order")

	return cmd
}

func readPrelude(stdin io.Reader, file string, args []string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, errors.New("give either a hex argument or --file, not both")
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	case len(args) == 1:
		s := strings.Join(strings.Fields(args[0]), "")
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode hex: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("nothing to inspect: pass hex bytes or --file")
	}
}

func inspect(cmd *cobra.Command, prelude []byte, names []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "bytes:            %d\n", len(prelude))

	if hs, err := mcproto.ParseHandshake(prelude); err == nil {
		env, _ := mcproto.DecodeEnvelope(prelude)
		fmt.Fprintf(out, "packet length:    %d\n", env.DeclaredLength.Value)
		fmt.Fprintf(out, "protocol version: %d\n", hs.ProtocolVersion)
		fmt.Fprintf(out, "server address:   %q\n", hs.ServerAddress.String())
		fmt.Fprintf(out, "server port:      %d\n", hs.ServerPort)
		fmt.Fprintf(out, "next state:       %d (%s)\n", hs.NextState, mcproto.NextStateName(hs.NextState))
		if extra := len(prelude) - hs.Consumed; extra > 0 {
			fmt.Fprintf(out, "trailing bytes:   %d\n", extra)
		}
	} else {
		fmt.Fprintf(out, "handshake:        %v\n", err)
	}

	cfgs := make([]config.RoutingParserConfig, 0, len(names))
	for _, n := range names {
		cfgs = append(cfgs, config.RoutingParserConfig{Type: "builtin", Name: n})
	}
	chain, _, err := app.BuildHostParser(cmd.Context(), cfgs, 0)
	if err != nil {
		return err
	}

	md, err := chain.Parse(prelude)
	switch {
	case errors.Is(err, protocol.ErrNeedMoreData):
		fmt.Fprintln(out, "route:            need more data")
		return nil
	case errors.Is(err, protocol.ErrNoMatch):
		fmt.Fprintln(out, "route:            no parser matched (default route)")
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "parser:           %s\n", md.Parser)
	fmt.Fprintf(out, "host:             %s\n", md.Host)
	for _, name := range md.Vars.Names() {
		fmt.Fprintf(out, "$%s = %s\n", name, md.Vars[name])
	}
	return nil
}
