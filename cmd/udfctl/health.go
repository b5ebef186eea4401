package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

var healthCmd = &cobra.Command{
	Use:   "health [address]",
	Short: "Query the gRPC health of a running udfctl serve",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	addr := "localhost:9091"
	if len(args) == 1 {
		addr = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", addr, err)
	}
	defer conn.Close()

	rsp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{
		Service: healthService,
	})
	if err != nil {
		return fmt.Errorf("health check against %s failed: %w", addr, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", healthService, rsp.Status)
	if rsp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("bridge is %s", rsp.Status)
	}
	return nil
}
