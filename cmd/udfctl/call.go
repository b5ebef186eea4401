package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jrepp/prism-udf/pkg/udfc"
	"github.com/jrepp/prism-udf/pkg/udfd"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

var (
	callName   string
	callPath   string
	callValues []int64
	callInput  string
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Run one UDF through Init, Normal and Finalize",
	Long: `Start the worker, set up the named UDF, run Init, one Normal step with the
given input and Finalize, then tear it down.

Example:
  udfctl call --name sum --values 1,2,3
  udfctl call --name echo --input hello`,
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callName, "name", "sum", "UDF name")
	callCmd.Flags().StringVar(&callPath, "path", "", "Library or script path passed to the worker")
	callCmd.Flags().Int64SliceVar(&callValues, "values", nil, "Input as little-endian int64 values")
	callCmd.Flags().StringVar(&callInput, "input", "", "Input as raw bytes (ignored with --values)")
}

func runCall(cmd *cobra.Command, args []string) error {
	logger, err := setupLogging()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := startClient(ctx, logger)
	if err != nil {
		return err
	}
	defer stopClient(client, logger)

	session, err := client.Setup(ctx, udfc.SetupParams{Name: callName, Path: callPath})
	if err != nil {
		return fmt.Errorf("setup %s: %w", callName, err)
	}
	defer func() {
		if err := client.Teardown(context.WithoutCancel(ctx), session); err != nil {
			logger.Warn("teardown failed", "handle", session.Handle(), "error", err)
		}
	}()

	input := []byte(callInput)
	if len(callValues) > 0 {
		input = udfd.EncodeInt64s(callValues...)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s handle=%d worker_pid=%d\n", callName, session.Handle(), client.WorkerPID())

	var state []byte
	steps := []struct {
		step  udfproto.Step
		input []byte
	}{
		{udfproto.StepInit, nil},
		{udfproto.StepNormal, input},
		{udfproto.StepFinalize, nil},
	}
	for _, s := range steps {
		newState, output, err := client.Call(ctx, session, s.step, state, s.input)
		if err != nil {
			return fmt.Errorf("%s step: %w", s.step, err)
		}
		state = newState
		fmt.Fprintf(out, "  %-8s output=%s state=%s\n", s.step, formatPayload(output), formatPayload(state))
	}

	return nil
}

// formatPayload prints 8-byte aligned payloads as int64 values when
// --values was used and as quoted bytes otherwise
func formatPayload(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(callValues) > 0 {
		if values, err := udfd.DecodeInt64s(b); err == nil {
			return fmt.Sprint(values)
		}
	}
	return fmt.Sprintf("%q", b)
}
