package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kshedden/surveyeda"
)

// newCSVCmd returns the command that writes a unified domain table, or
// a single data file, as CSV on standard output.
func newCSVCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "csv <domain|file>",
		Short: "Write a unified domain table or a single data file as CSV",
		Long: `Writes CSV on standard output.  If the argument names a configured
domain the whole domain is loaded, renamed and cleaned first.  Otherwise
the argument is read as a single .sav, .dta or .csv file.  Missing values
are written as empty fields and categorical variables as their codes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var tbl *surveyeda.Table
			var err error
			if d, ok := a.cfg.domain(args[0]); ok {
				tbl, err = loadForExport(a, d)
			} else {
				tbl, err = readFile(args[0])
			}
			if err != nil {
				return err
			}
			return surveyeda.WriteCSV(cmd.OutOrStdout(), tbl)
		},
	}
}

func loadForExport(a *app, d surveyeda.Domain) (*surveyeda.Table, error) {
	res, err := surveyeda.NewLoader(d.Schema, a.logger).Load(d.Folder, d.Name)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", d.Name, err)
	}
	if res.Absent() {
		return nil, errors.New("no data loaded")
	}
	return res.Table, nil
}

// readFile reads a whole data file, choosing the reader from the file
// extension.
func readFile(path string) (*surveyeda.Table, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rdr, err := surveyeda.OpenStatfile(filepath.Ext(path), f)
	if err != nil {
		return nil, err
	}

	return surveyeda.ReadTable(rdr)
}
