package main

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/powersheet/sheetbase/internal/engine"
	"github.com/powersheet/sheetbase/internal/snapshot"
)

func newSheetsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "List, create, rename and delete sheets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sheets in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				sheets, err := e.ListSheets(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, sheets)
			})
		},
	}

	var columns, rows int
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				sheet, err := e.CreateSheet(ctx, args[0], columns, rows)
				if err != nil {
					return err
				}
				return printJSON(cmd, sheet)
			})
		},
	}
	create.Flags().IntVar(&columns, "columns", 26, "Number of columns")
	create.Flags().IntVar(&rows, "rows", 100, "Number of rows")

	rename := &cobra.Command{
		Use:   "rename SHEET NEW_NAME",
		Short: "Rename a sheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				sheet, err := e.RenameSheet(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, sheet)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete SHEET",
		Short: "Delete a sheet with its data and formulas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.DeleteSheet(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, create, rename, del)
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var (
		opts      engine.ImportOptions
		delimiter string
		types     []string
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV or XLSX file as a new sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if delimiter != "" {
				if delimiter == `\t` || strings.EqualFold(delimiter, "tab") {
					delimiter = "\t"
				}
				if utf8.RuneCountInString(delimiter) != 1 {
					return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
				}
				opts.Delimiter, _ = utf8.DecodeRuneInString(delimiter)
			}
			if len(types) > 0 {
				opts.ColumnTypes = make(map[string]string, len(types))
				for _, t := range types {
					name, typ, ok := strings.Cut(t, "=")
					if !ok || name == "" || typ == "" {
						return fmt.Errorf("invalid column type %q (want COLUMN=TYPE)", t)
					}
					opts.ColumnTypes[name] = typ
				}
			}
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				sheet, err := e.ImportFile(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(cmd, sheet)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "Sheet name (default: file name)")
	cmd.Flags().StringVar(&opts.IDColumn, "id-column", "", "Identifier column (default: first column)")
	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "Worksheet to read from an XLSX workbook")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", "CSV delimiter (default: detected)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Column type override as COLUMN=TYPE (repeatable)")
	return cmd
}

func newSchemaCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema SHEET",
		Short: "Show the columns and row count of a sheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				s, err := e.GetSchema(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			})
		},
	}
}

func newRowsCmd(g *globalFlags) *cobra.Command {
	var offset, limit int64
	cmd := &cobra.Command{
		Use:   "rows SHEET",
		Short: "Print a page of rows in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				page, err := e.ReadRows(ctx, args[0], offset, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			})
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "First row to print")
	cmd.Flags().Int64Var(&limit, "limit", 100, "Maximum rows to print")
	return cmd
}

func newQueryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query SQL",
		Short: "Run a SQL statement against the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.RunQuery(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newSnapshotCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list and restore database snapshots",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the database to the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				info, err := e.Snapshot(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, info)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				infos, err := e.ListSnapshots(ctx)
				if err != nil {
					return err
				}
				if infos == nil {
					infos = []snapshot.Info{}
				}
				return printJSON(cmd, infos)
			})
		},
	}

	restore := &cobra.Command{
		Use:   "restore ID DEST",
		Short: "Write snapshot ID to the database file DEST",
		Long:  "Restore writes a new database file. Point the server at DEST (or move it into place) while the server is stopped.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if err := e.Snapshots().Restore(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(create, list, restore)
	return cmd
}
