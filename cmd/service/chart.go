package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/chart"
	"github.com/kjstillabower/weather-chart-service/internal/config"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
	"github.com/kjstillabower/weather-chart-service/internal/validation"
)

func newChartCmd() *cobra.Command {
	var city, out string
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Render one city's hourly temperature chart to a PNG file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			n, err := renderChartFile(ctx, cfg, logger, city, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "city to chart (required)")
	cmd.Flags().StringVarP(&out, "out", "o", "chart.png", "output PNG path")
	_ = cmd.MarkFlagRequired("city")
	return cmd
}

// renderChartFile resolves city through the configured cache and upstreams and
// writes the PNG to out. Returns the number of bytes written.
func renderChartFile(ctx context.Context, cfg *config.Config, logger *zap.Logger, city, out string) (n int, err error) {
	city, err = validation.ValidateCity(city)
	if err != nil {
		return 0, err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ts, err := a.resolver.ResolveSeries(ctx, city)
	if err != nil {
		return 0, err
	}
	png, err := chart.Render(ts, city)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(out, png, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", out, err)
	}
	return len(png), nil
}
