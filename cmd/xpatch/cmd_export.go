package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/export"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write query matches or a patch operation to the export directory or bucket",
		Long: `Exports go to export.dir, or to the S3 bucket in export.s3 when it is
configured. The written location is printed.`,
	}
	cmd.AddCommand(newExportMatchesCmd(a), newExportOpCmd(a))
	return cmd
}

func newExportMatchesCmd(a *app) *cobra.Command {
	var (
		name   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "matches <xpath>",
		Short: "Export every node the query matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.loadSession(cmd.Context(), false)
			if err != nil {
				return err
			}
			res, err := s.Query(args[0])
			if err != nil {
				return err
			}
			data, err := encodeMatches(res.Matches, asJSON)
			if err != nil {
				return err
			}
			if name == "" {
				name = export.DefaultMatchesFile
				if asJSON {
					name = strings.TrimSuffix(name, ".xml") + ".json"
				}
			}
			return a.put(cmd, name, data)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "File or object name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Export a JSON tree instead of XML")
	return cmd
}

func encodeMatches(nodes []*xmldoc.Node, asJSON bool) ([]byte, error) {
	if asJSON {
		return export.JSON(nodes)
	}
	return export.Matches(nodes, export.DefaultOptions())
}

func newExportOpCmd(a *app) *cobra.Command {
	var (
		f    opFlags
		name string
	)
	cmd := &cobra.Command{
		Use:   "op",
		Short: "Export a patch operation as patch XML",
		Long: `Builds the operation from --kind and --set, or reads it from --op, and writes
it as <Patch><Operation Class="...">. Fields left at their defaults are omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := f.build(cmd)
			if err != nil {
				return err
			}
			data, err := export.Operation(op, export.DefaultOptions())
			if err != nil {
				return err
			}
			if name == "" {
				name = export.DefaultOperationFile
			}
			return a.put(cmd, name, data)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "File or object name")
	return cmd
}

func (a *app) put(cmd *cobra.Command, name string, data []byte) error {
	sink, err := a.sink()
	if err != nil {
		return err
	}
	where, err := sink.Put(cmd.Context(), name, data)
	if err != nil {
		return fmt.Errorf("export %s: %w", name, err)
	}
	a.logger.Info("exported", zap.String("name", name), zap.String("location", where), zap.Int("bytes", len(data)))
	_, err = fmt.Fprintln(cmd.OutOrStdout(), where)
	return err
}
