package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/prism-udf/pkg/udfd"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the udfctl and protocol versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "udfctl %s (udfd %s)\n", version, udfd.Version)
		return nil
	},
}
