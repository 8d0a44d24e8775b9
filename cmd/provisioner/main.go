/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/template"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ggprovisioner/provisioner/pkg/cloudapi"
	"github.com/ggprovisioner/provisioner/pkg/config"
	"github.com/ggprovisioner/provisioner/pkg/db"
	"github.com/ggprovisioner/provisioner/pkg/ledger"
	"github.com/ggprovisioner/provisioner/pkg/logging"
	"github.com/ggprovisioner/provisioner/pkg/provisioner"
	"github.com/ggprovisioner/provisioner/pkg/queue"
	"github.com/ggprovisioner/provisioner/pkg/reconcile"
	"github.com/ggprovisioner/provisioner/pkg/requester"
	"github.com/ggprovisioner/provisioner/pkg/selector"
)

func withDefaultString(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	configFile := flag.String("config", withDefaultString("PROVISIONER_CONFIG", "provisioner.ini"), "Path to the provisioner's INI configuration file")
	region := flag.String("region", withDefaultString("PROVISIONER_REGION", "us-east-1"), "Cloud region used for pricing and instance requests")
	metricsAddr := flag.String("metrics-addr", withDefaultString("PROVISIONER_METRICS_ADDR", ":9090"), "Address the Prometheus metrics endpoint binds to")
	flag.Parse()

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(settings.Logging.Level, settings.Logging.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = config.ToContext(ctx, settings)
	ctx = logging.IntoContext(ctx, log)

	store, err := db.Open(ctx, settings.Database.DSN())
	if err != nil {
		log.Error(err, "failed to open database")
		os.Exit(1)
	}
	defer store.Close()

	tmpl, err := template.ParseFiles(settings.UserDataPath)
	if err != nil {
		log.Error(err, "failed to parse user-data template", "path", settings.UserDataPath)
		os.Exit(1)
	}

	led := ledger.New(store.Pool)

	loop := &provisioner.Loop{
		DB:         store,
		Ledger:     led,
		Prober:     queue.NewCondorProber(settings.Queue.Command, settings.Queue.Args),
		Reconciler: reconcile.New(led, settings.MaxRequests),
		Selector:   selector.New(led, settings.OnDemandPriceThreshold, settings.MaxRequests, settings.BidFloor),
		Requester:  requester.New(led, tmpl),
		NewClient: func(ctx context.Context, accessKey, secretKey, region string) (cloudapi.EC2API, error) {
			return cloudapi.NewFromCredentials(ctx, accessKey, secretKey, region)
		},
		Region:  *region,
		RunRate: time.Duration(settings.RunRate) * time.Second,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		log.Info("serving metrics", "addr", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server stopped unexpectedly")
		}
	}()

	log.Info("starting provisioner", "run_rate_seconds", settings.RunRate)
	loop.Run(ctx)
}
