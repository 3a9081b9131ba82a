package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atlas-foundry/xpatch-go/patch"
	"github.com/atlas-foundry/xpatch-go/report"
	"github.com/atlas-foundry/xpatch-go/session"
)

type opFlags struct {
	file string
	kind string
	sets []string
}

func (f *opFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "op", "", `Operation XML file ("-" for stdin)`)
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "", "Operation kind, e.g. PatchOperationAdd")
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "Field assignment name=value (repeatable)")
}

func (f *opFlags) build(cmd *cobra.Command) (patch.Operation, error) {
	return buildOperation(f.file, f.kind, f.sets, cmd.InOrStdin())
}

func newSimulateCmd(a *app) *cobra.Command {
	var (
		f      opFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Preview a patch operation against the merged definitions",
		Long: `Applies the operation to a private copy of the merged definitions and prints
the affected nodes before and after, with a line diff. The loaded files are
never modified.

Examples:
  xpatch simulate --op Patches/Guns.xml
  xpatch simulate -k PatchOperationAttributeSet \
    --set xpath='/Defs/ThingDef[defName="Gun_Revolver"]' \
    --set attribute=ParentName --set value=BaseWeapon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := f.build(cmd)
			if err != nil {
				return err
			}
			s, err := a.loadSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			res, err := simulate(s, op)
			if err != nil {
				return err
			}
			return writeSimulation(cmd.OutOrStdout(), res, format)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, markdown, org")
	return cmd
}

// simulate stages op in the session under its kind and runs it.
func simulate(s *session.Session, op patch.Operation) (patch.Result, error) {
	if err := s.SelectKind(op.Kind()); err != nil {
		return patch.Result{}, err
	}
	staged := s.Operation()
	patch.Reset(staged)
	fields, values := patch.NonDefault(op)
	for i, fd := range fields {
		if err := staged.Set(fd.Name, values[i]); err != nil {
			return patch.Result{}, err
		}
	}
	return s.Simulate()
}

func writeSimulation(w io.Writer, res patch.Result, format string) error {
	if format != formatText && format != "" {
		return writeReport(w, report.Simulation(res), format)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s on %s: matched %d, scope %d, applied %s, success %s\n",
		res.Kind, res.Query, res.Matches, res.Scope, yesNo(res.Applied), yesNo(res.Success))
	if res.Err != nil {
		fmt.Fprintf(&sb, "error: %v\n", res.Err)
	}
	if res.Changed() {
		sb.WriteString("\n")
		sb.WriteString(res.FormatDiff())
	} else {
		sb.WriteString("no changes\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
