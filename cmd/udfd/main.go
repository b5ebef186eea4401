package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jrepp/prism-udf/pkg/udfd"
)

// main is the udf worker entrypoint. The client starts it with no
// arguments and hands it the endpoint through UDF_ENDPOINT_* variables.
func main() {
	configPath := flag.String("config", "", "Worker config file (default: $UDFD_CONFIG)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(udfd.Version)
		return
	}

	if err := udfd.Bootstrap(udfd.NewRegistry(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
