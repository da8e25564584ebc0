package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pior/unirpc/mvarray"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Print the structure of a dynamic array",
	Long: `Decode a dynamic array read from a file (or stdin) with the default
marks and print it as an indented tree.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		raw, err := io.ReadAll(in)
		if err != nil {
			return err
		}

		level := mvarray.LevelField
		if viper.GetBool("records") {
			level = mvarray.LevelRecord
		}
		printArray(cmd.OutOrStdout(), mvarray.Decode(raw, mvarray.DefaultMarks, level), 0)
		return nil
	},
}

func init() {
	decodeCmd.Flags().Bool("records", false, "split on the item mark first")
}

func printArray(w io.Writer, a mvarray.Array, depth int) {
	indent := strings.Repeat("  ", depth)
	if !a.IsList() {
		fmt.Fprintf(w, "%s%q\n", indent, a.Bytes())
		return
	}
	for i, item := range a.Items() {
		if item.IsList() {
			fmt.Fprintf(w, "%s[%d]\n", indent, i+1)
			printArray(w, item, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s[%d] %q\n", indent, i+1, item.Bytes())
	}
}
