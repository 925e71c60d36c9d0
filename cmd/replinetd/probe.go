//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/replinet/internal/client"
	"github.com/danmuck/replinet/internal/logging"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

type probeRequest struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

func probeCmd() *cobra.Command {
	var (
		addr     string
		action   string
		value    string
		encoding string
		timeout  time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send JSON action requests to a running server",
		Example: `  replinetd probe --action ping
  replinetd probe --action echo --value '{"x":1}'
  replinetd probe --action state --value ship-1 --encoding utf-16le
  replinetd probe --action move --value '{"id":"ship-1","heading":45}'
  replinetd probe --action changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			req, err := newProbeRequest(action, value)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			cfg := client.DefaultConfig()
			cfg.Encoding = encoding
			conn, err := client.Dial(ctx, addr, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			for i := 0; i < max(count, 1); i++ {
				start := time.Now()
				res, err := conn.DoJSON(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", res.Raw, time.Since(start).Round(time.Microsecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:65432", "server address")
	cmd.Flags().StringVar(&action, "action", "ping", "request action")
	cmd.Flags().StringVar(&value, "value", "", "request value, JSON or a bare string")
	cmd.Flags().StringVar(&encoding, "encoding", "utf-8", "request content-encoding")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall timeout")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of sequential requests")
	return cmd
}

func newProbeRequest(action, value string) (probeRequest, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return probeRequest{}, fmt.Errorf("action is required")
	}
	req := probeRequest{Action: action}
	value = strings.TrimSpace(value)
	switch {
	case value == "":
	case gjson.Valid(value):
		req.Value = json.RawMessage(value)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return probeRequest{}, err
		}
		req.Value = raw
	}
	return req, nil
}
