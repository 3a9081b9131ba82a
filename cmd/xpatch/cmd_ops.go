package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlas-foundry/xpatch-go/patch"
)

func newOpsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ops [kind]",
		Short: "List patch operation kinds and their fields",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descs := patch.DefaultRegistry.List()
			if len(args) == 1 {
				op, err := patch.DefaultRegistry.New(args[0])
				if err != nil {
					return err
				}
				descs = []patch.Descriptor{{Kind: op.Kind(), Fields: op.Fields()}}
			}
			return writeDescriptors(cmd.OutOrStdout(), descs)
		},
	}
}

func writeDescriptors(w io.Writer, descs []patch.Descriptor) error {
	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(d.Kind + "\n")
		for _, f := range d.Fields {
			fmt.Fprintf(&sb, "  %-10s %s", f.Name, f.Type)
			if len(f.Options) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(f.Options, "|"))
			}
			if f.Nested {
				sb.WriteString(" (operations)")
			}
			if def := f.Default.Text(); def != "" {
				fmt.Fprintf(&sb, " default %s", def)
			}
			sb.WriteByte('\n')
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
