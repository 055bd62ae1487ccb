package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// printJSON prints v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printYAML prints v as YAML.
func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printError prints an error message.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", colorRed(w, "Error:"), err.Error())
}

// newTable creates a new tabwriter for formatted output.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row. out is the writer under the table.
func printTableHeader(out io.Writer, w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, colorBold(out, col))
	}
	fmt.Fprintln(w)
}

// Terminal colors, applied only when w is a terminal.

func colorRed(w io.Writer, s string) string {
	return colorize(w, "\033[31m", s)
}

func colorGreen(w io.Writer, s string) string {
	return colorize(w, "\033[32m", s)
}

func colorYellow(w io.Writer, s string) string {
	return colorize(w, "\033[33m", s)
}

func colorBold(w io.Writer, s string) string {
	return colorize(w, "\033[1m", s)
}

func colorize(w io.Writer, code, s string) string {
	if !isTTY(w) {
		return s
	}
	return code + s + "\033[0m"
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
