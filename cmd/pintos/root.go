// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/cs439kernel/pintos-go/internal/kernel"
	"github.com/cs439kernel/pintos-go/internal/kernelcfg"
	"github.com/cs439kernel/pintos-go/internal/kmetrics"
	"github.com/cs439kernel/pintos-go/internal/ktrace"
)

func newRootCmd() *cobra.Command {
	var configFile string
	var metricsPort int
	var traceSpans bool

	rootCmd := &cobra.Command{
		Use:   "pintos",
		Short: "Boot a simulated instructional kernel against a disk image.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "",
		"Path to a YAML config file overriding flag defaults.")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0,
		"If non-zero, serve Prometheus metrics on this port.")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false,
		"Dump per-syscall trace spans to stderr.")

	var bindErr error
	if err := kernelcfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		bindErr = err
	}

	var cfg kernelcfg.Config
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}

		cfg = kernelcfg.Default()
		if configFile != "" {
			viper.SetConfigFile(configFile)
			if configFileErr := viper.ReadInConfig(); configFileErr != nil {
				return fmt.Errorf("read config file %q: %w", configFile, configFileErr)
			}
		}
		if unmarshalErr := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
			// The config struct carries yaml tags; decode against those.
			dc.TagName = "yaml"
		}); unmarshalErr != nil {
			return fmt.Errorf("unmarshal config: %w", unmarshalErr)
		}
		if err := kernelcfg.Validate(cfg); err != nil {
			return err
		}

		if metricsPort != 0 {
			if err := serveMetrics(metricsPort); err != nil {
				return err
			}
		}
		if traceSpans {
			tp, err := ktrace.NewProvider(os.Stderr)
			if err != nil {
				return err
			}
			otel.SetTracerProvider(tp)
		}
		return nil
	}

	rootCmd.AddCommand(newMkfsCmd(&cfg))
	rootCmd.AddCommand(newRunCmd(&cfg, metricsHandle(&metricsPort)))
	rootCmd.AddCommand(newExecCmd(&cfg, metricsHandle(&metricsPort)))
	return rootCmd
}

// serveMetrics installs a Prometheus-backed OTel meter provider globally
// and serves the scrape endpoint.
func serveMetrics(port int) error {
	exporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("build prometheus exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
	return nil
}

// metricsHandle defers the choice of real vs. no-op instruments to command
// run time, after PersistentPreRunE has installed the meter provider.
func metricsHandle(metricsPort *int) func() kmetrics.Handle {
	return func() kmetrics.Handle {
		if *metricsPort == 0 {
			return kmetrics.NewNoop()
		}
		h, err := kmetrics.New()
		if err != nil {
			fmt.Fprintf(os.Stderr, "pintos: metrics disabled: %v\n", err)
			return kmetrics.NewNoop()
		}
		return h
	}
}

// bootFromConfig opens the configured devices and boots a kernel.
func bootFromConfig(cfg kernelcfg.Config, metrics kmetrics.Handle) (*kernel.Kernel, error) {
	return kernel.Boot(kernel.BootConfig{
		Cfg:     cfg,
		Metrics: metrics,
	})
}
