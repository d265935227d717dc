package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kshedden/surveyeda"
)

// newInspectCmd returns the command that prints the dictionary of a
// data file.
func newInspectCmd() *cobra.Command {
	var showLabels bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the variables of a data file",
		Long:  "Prints the variables of a .sav, .dta or .csv file with their types and labels, without reading the data.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rdr, err := surveyeda.OpenStatfile(filepath.Ext(args[0]), f)
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), args[0], rdr, showLabels)
		},
	}

	cmd.Flags().BoolVar(&showLabels, "labels", false, "Also print the value labels of coded variables")
	return cmd
}

func inspect(w io.Writer, name string, rdr surveyeda.StatfileReader, showLabels bool) error {

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "File:\t%s\n", name)

	switch r := rdr.(type) {
	case *surveyeda.SPSSReader:
		fmt.Fprintf(tw, "Product:\t%s\n", r.ProductName)
		fmt.Fprintf(tw, "Label:\t%s\n", r.FileLabel)
		fmt.Fprintf(tw, "Created:\t%s %s\n", r.CreationDate, r.CreationTime)
		fmt.Fprintf(tw, "Encoding:\t%s\n", r.Encoding)
		fmt.Fprintf(tw, "Compression:\t%s\n", compressionName(r.Compression))
		fmt.Fprintf(tw, "Rows:\t%s\n", rowCount(r.RowCount()))
		fmt.Fprintf(tw, "Variables:\t%d\n\n", len(r.ColumnNames()))
		fmt.Fprintf(tw, "NAME\tTYPE\tLABEL\tVALUE LABELS\n")
		types := r.ColumnTypes()
		for j, na := range r.ColumnNames() {
			ty := "numeric"
			if types[j] > 0 {
				ty = fmt.Sprintf("string(%d)", types[j])
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", na, ty, r.ColumnLabels[j], len(r.ValueLabels[na]))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if showLabels {
			for _, na := range r.ColumnNames() {
				codes := r.SortedValueLabels(na)
				if len(codes) == 0 {
					continue
				}
				fmt.Fprintf(w, "\n%s:\n", na)
				for _, c := range codes {
					fmt.Fprintf(w, "   %s = %s\n", strconv.FormatFloat(c, 'f', -1, 64), r.ValueLabels[na][c])
				}
			}
		}
		return nil
	case *surveyeda.StataReader:
		fmt.Fprintf(tw, "Format version:\t%d\n", r.FormatVersion)
		fmt.Fprintf(tw, "Label:\t%s\n", r.DatasetLabel)
		fmt.Fprintf(tw, "Created:\t%s\n", r.TimeStamp)
		fmt.Fprintf(tw, "Rows:\t%s\n", rowCount(r.RowCount()))
		fmt.Fprintf(tw, "Variables:\t%d\n\n", r.Nvar)
		fmt.Fprintf(tw, "NAME\tFORMAT\tLABEL\tVALUE LABELS\n")
		for j, na := range r.ColumnNames() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", na, r.Formats[j], r.ColumnNamesLong[j], r.ValueLabelNames[j])
		}
	case *surveyeda.CSVReader:
		names := r.ColumnNames()
		fmt.Fprintf(tw, "Variables:\t%d\n\n", len(names))
		fmt.Fprintf(tw, "NAME\tTYPE\n")
		for j, na := range names {
			ty := "unknown"
			if j < len(r.DataTypes) {
				ty = r.DataTypes[j]
			}
			fmt.Fprintf(tw, "%s\t%s\n", na, ty)
		}
	default:
		for _, na := range rdr.ColumnNames() {
			fmt.Fprintf(tw, "%s\n", na)
		}
	}

	return tw.Flush()
}

func compressionName(c int) string {
	switch c {
	case 0:
		return "none"
	case 1:
		return "bytecode"
	default:
		return strconv.Itoa(c)
	}
}

func rowCount(n int) string {
	if n < 0 {
		return "unknown"
	}
	return strconv.Itoa(n)
}
