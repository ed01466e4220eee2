package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucian/wireline/internal/radius"
)

// errAttrNotFound is returned when no dictionary entry matches the query.
var errAttrNotFound = errors.New("attribute not found in dictionary")

func dictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dict",
		Short: "Query the attribute dictionary",
	}

	cmd.AddCommand(dictLookupCmd())

	return cmd
}

func dictLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <type|vendor:type|name>",
		Short: "Look up an attribute by type number or name",
		Long: "Resolves an attribute in the builtin dictionary plus any --dict files:\n" +
			"a bare number queries the plain namespace, vendor:type the\n" +
			"vendor-specific namespace, anything else matches by name.",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			entry, ok := lookupEntry(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", errAttrNotFound, args[0])
			}

			out, err := formatEntry(entry, outputFormat)
			if err != nil {
				return fmt.Errorf("format entry: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// lookupEntry resolves the identifier argument against the dictionary.
func lookupEntry(identifier string) (radius.Entry, bool) {
	if vendor, typ, ok := strings.Cut(identifier, ":"); ok {
		vid, verr := strconv.ParseUint(vendor, 10, 32)
		vtyp, terr := strconv.ParseUint(typ, 10, 8)
		if verr == nil && terr == nil {
			return dict.LookupVendor(uint32(vid), uint8(vtyp))
		}
	}

	if typ, err := strconv.ParseUint(identifier, 10, 8); err == nil {
		return dict.Lookup(uint8(typ))
	}

	return dict.LookupName(identifier)
}
