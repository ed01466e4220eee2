package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucian/wireline/internal/radius"
)

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file|->",
		Short: "Decode a captured RADIUS packet",
		Long: "Reads a packet dump from a file or stdin (-) and prints the decoded\n" +
			"contents. Hex text (whitespace ignored) and raw binary both work.",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			raw, err := readPacketDump(args[0])
			if err != nil {
				return err
			}

			pkt, err := radius.Decode(dict, raw)
			if err != nil {
				return fmt.Errorf("decode packet: %w", err)
			}

			out, err := formatPacket(pkt, outputFormat)
			if err != nil {
				return fmt.Errorf("format packet: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// readPacketDump loads the dump from a file or stdin ("-").
func readPacketDump(path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)

	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read packet dump: %w", err)
	}

	if decoded, ok := decodeHexDump(raw); ok {
		return decoded, nil
	}

	return raw, nil
}

// decodeHexDump strips whitespace and tries to interpret the bytes as
// hex text. Returns false when the dump is not hex; the caller then
// treats it as a raw binary packet.
func decodeHexDump(raw []byte) ([]byte, bool) {
	compact := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == ' ' || b == '\t' || b == '\r' || b == '\n' {
			continue
		}
		compact = append(compact, b)
	}

	out := make([]byte, hex.DecodedLen(len(compact)))
	if _, err := hex.Decode(out, compact); err != nil {
		return nil, false
	}

	return out, true
}
