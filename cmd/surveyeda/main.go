// Command surveyeda loads the yearly marriage and divorce survey
// exports and prints an exploratory report for each domain.
package main

import "os"

func main() {
	os.Exit(execute())
}
