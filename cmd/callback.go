package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-orchestration/internal/orchestrator"
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/pkg/logger"
)

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Provider callback tools",
}

var (
	replayProvider    string
	replayFile        string
	replayQuery       string
	replayContentType string
	replayHeaders     []string
)

var replayCallbackCmd = &cobra.Command{
	Use:   "replay",
	Short: "Reconcile a missed provider notification",
	Long: `Feed a provider notification through the same authentication and
reconciliation path as the HTTP callback endpoint. Use --file for a webhook
body or --query for a redirect query string.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildReplayRequest()
		if err != nil {
			return err
		}
		cb, err := plugin.NewCallback(req)
		if err != nil {
			return fmt.Errorf("failed to read callback: %w", err)
		}

		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.InitWithLevel(appEnv(), cfg.Observability.Logging.Level)
		app, err := newApp(cfg, prometheus.NewRegistry(), logger.L())
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := logger.NewContext(cmd.Context(), app.Logger.With("command", "callback replay"))
		rec, err := app.Orchestrator.ReconcileCallback(ctx, replayProvider, cb)
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(orchestrator.CallbackResponse{
			Status:    "ok",
			OrderCode: rec.Order.Code,
			Applied:   rec.Applied,
			Replayed:  rec.Replayed,
			Conflict:  rec.Conflict,
			Anomaly:   rec.Anomaly,
		})
	},
}

func buildReplayRequest() (*http.Request, error) {
	if replayProvider == "" {
		return nil, fmt.Errorf("--provider is required")
	}
	if (replayFile == "") == (replayQuery == "") {
		return nil, fmt.Errorf("exactly one of --file or --query is required")
	}

	target := "http://replay.local/api/v1/callbacks/" + replayProvider
	var (
		req *http.Request
		err error
	)
	if replayFile != "" {
		body, err := os.ReadFile(replayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", replayFile, err)
		}
		req, err = http.NewRequest(http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", replayContentType)
	} else {
		req, err = http.NewRequest(http.MethodGet, target+"?"+strings.TrimPrefix(replayQuery, "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("invalid query: %w", err)
		}
	}
	for _, h := range replayHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("header %q must look like Name: value", h)
		}
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return req, nil
}

func init() {
	replayCallbackCmd.Flags().StringVarP(&replayProvider, "provider", "p", "", "payment method key the notification belongs to")
	replayCallbackCmd.Flags().StringVarP(&replayFile, "file", "f", "", "webhook body to replay")
	replayCallbackCmd.Flags().StringVarP(&replayQuery, "query", "q", "", "redirect query string to replay")
	replayCallbackCmd.Flags().StringVar(&replayContentType, "content-type", "application/json", "content type of the webhook body")
	replayCallbackCmd.Flags().StringArrayVarP(&replayHeaders, "header", "H", nil, "extra request header, for signatures sent as headers")

	callbackCmd.AddCommand(replayCallbackCmd)
}
