// Copyright 2015 Kerby Shedden

/*
Package surveyeda loads yearly statistical survey exports, unifies
them into one table per domain, and writes a descriptive report.

The readers decode SPSS system files (.sav), Stata dta files
(versions 114, 115, 117 and 118) and CSV files into Column values.
All readers satisfy the StatfileReader interface and can read a file
by chunks of consecutive records.  Categorical variables are read as
their numeric codes; the value labels stay available on the readers.

A Loader reads every file of a domain folder, renames legacy columns
according to a Schema, records the source file of each row in the
ARCHIVO_ORIGEN column, concatenates the years, and blanks the survey
codes for "ignored" values (99, 999 and 9999 by default).

A Reporter prints the dimensions of a table, a sample of its column
types, summary statistics and histograms of its numeric measures, and
frequency tables of its low-cardinality columns.
*/
package surveyeda
