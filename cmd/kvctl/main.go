// cmd/kvctl is the CLI entry-point built with Cobra.
//
// Usage:
//
//	kvctl put mykey "hello world"        --server http://localhost:8080
//	kvctl put mykey "hello again" --ctx '{"Version":{"node1":2}}' --server http://localhost:8080
//	kvctl get mykey                      --server http://localhost:8080
//	kvctl state                          --server http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dynamocore/internal/client"
	"dynamocore/internal/vclock"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvctl",
		Short: "CLI client for the replicated KV store",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "node address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"HTTP request timeout")

	root.AddCommand(putCmd(), getCmd(), stateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	var ctxJSON string
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Long:  "Store a key-value pair. Pass --ctx with the context from a prior get/put to make this write causally depend on it instead of racing it as a sibling.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ctxPtr *vclock.Ctx
			if ctxJSON != "" {
				var ctx vclock.Ctx
				if err := json.Unmarshal([]byte(ctxJSON), &ctx); err != nil {
					return fmt.Errorf("invalid --ctx: %w", err)
				}
				ctxPtr = &ctx
			}
			c := client.New(serverAddr, timeout)
			resp, err := c.Put(context.Background(), args[0], args[1], ctxPtr)
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&ctxJSON, "ctx", "", "causal context (JSON) from a prior get/put")
	return cmd
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve every sibling value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.Get(context.Background(), args[0])
			if err == client.ErrUnavailable {
				fmt.Printf("key %q: read quorum unreachable\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── state ────────────────────────────────────────────────────────────────────

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Dump the node's local store and liveness view",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr, timeout)
			resp, err := c.State(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
