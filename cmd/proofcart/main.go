package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/proofcart/proofcart/go/api"
	"github.com/proofcart/proofcart/go/db"
	"github.com/proofcart/proofcart/go/dispatch"
	"github.com/proofcart/proofcart/go/offers"
	"github.com/proofcart/proofcart/go/ordersvc"
	"github.com/proofcart/proofcart/go/payments"
	"github.com/proofcart/proofcart/go/routing"
	"github.com/proofcart/proofcart/go/scheduler"
	"github.com/proofcart/proofcart/go/verification"
)

// Config is the top-level configuration object of the proofcart server.
var Config = new(struct {
	Serve struct {
		Address  string `long:"address" env:"LISTEN_ADDRESS" default:":8080" description:"Address to serve HTTP on"`
		Database string `long:"database" env:"DATABASE_URL" default:":memory:" description:"SQLite path or postgres:// DSN"`
		Region   string `long:"region" env:"REGION_ID" default:"region-default" description:"Region this instance dispatches for"`
	} `group:"Serve" namespace:"serve" env-namespace:"SERVE"`

	Vendors struct {
		IDVVendor        string `long:"idv-vendor" env:"IDV_VENDOR" default:"fake" description:"Identity verification vendor (fake, onfido)"`
		IDVBaseURL       string `long:"idv-base-url" env:"IDV_BASE_URL" description:"Identity verification API base URL"`
		IDVToken         string `long:"idv-token" env:"IDV_API_TOKEN" description:"Identity verification API token"`
		PaymentProcessor string `long:"payment-processor" env:"PAYMENT_PROCESSOR" default:"fake" description:"Payment processor (fake, stripe)"`
		StripeKey        string `long:"stripe-key" env:"STRIPE_API_KEY" description:"Stripe secret key"`
		RouterMode       string `long:"router-mode" env:"ROUTER_MODE" default:"HAVERSINE" description:"Travel time model (HAVERSINE, OSRM)"`
		OSRMBaseURL      string `long:"osrm-base-url" env:"OSRM_BASE_URL" description:"OSRM instance base URL"`
	} `group:"Vendors" namespace:"vendors" env-namespace:"VENDORS"`

	Dispatch struct {
		OfferTTL       time.Duration `long:"offer-ttl" env:"OFFER_TTL" default:"30s" description:"Offer time-to-live"`
		RedisURL       string        `long:"redis-url" env:"REDIS_URL" description:"Redis URL for distributed locks; in-process locks when unset"`
		InternalToken  string        `long:"internal-token" env:"INTERNAL_API_TOKEN" description:"Shared token guarding /internal endpoints"`
		ProductionHold bool          `long:"production-hold" env:"PRODUCTION_HOLD" description:"Hold paid orders at PENDING_MERCHANT instead of auto-dispatching"`
	} `group:"Dispatch" namespace:"dispatch" env-namespace:"DISPATCH"`

	Log struct {
		Level  string `long:"level" env:"LOG_LEVEL" default:"info" description:"Logging level"`
		Format string `long:"format" env:"LOG_FORMAT" default:"text" description:"Logging format (text, json)"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	initLog()

	var d, err = db.Open(Config.Serve.Database)
	if err != nil {
		log.WithField("err", err).Fatal("failed to open database")
	}
	defer d.Close()
	if err = d.Init(context.Background()); err != nil {
		log.WithField("err", err).Fatal("failed to apply schema")
	}

	verifier, err := verification.New(Config.Vendors.IDVVendor, Config.Vendors.IDVBaseURL, Config.Vendors.IDVToken)
	if err != nil {
		log.WithField("err", err).Fatal("failed to build verification vendor")
	}
	processor, err := payments.New(Config.Vendors.PaymentProcessor, Config.Vendors.StripeKey)
	if err != nil {
		log.WithField("err", err).Fatal("failed to build payment processor")
	}
	router, err := routing.New(Config.Vendors.RouterMode, Config.Vendors.OSRMBaseURL)
	if err != nil {
		log.WithField("err", err).Fatal("failed to build router")
	}

	var locker offers.Locker
	if Config.Dispatch.RedisURL != "" {
		if locker, err = offers.NewRedisLocker(Config.Dispatch.RedisURL); err != nil {
			log.WithField("err", err).Fatal("failed to build redis locker")
		}
	} else {
		log.Warn("REDIS_URL not set; using in-process locks")
		locker = offers.NewMemoryLocker()
	}

	var cfg = ordersvc.DefaultConfig()
	cfg.IDVVendor = Config.Vendors.IDVVendor
	cfg.ProductionHold = Config.Dispatch.ProductionHold

	var orderSvc = ordersvc.New(verifier, processor, cfg)
	var offerMgr = offers.NewManager(d, locker)
	offerMgr.TTL = Config.Dispatch.OfferTTL
	var dispatcher = dispatch.NewDispatcher(d, router, offerMgr, Config.Serve.Region)
	dispatcher.Params.OfferTTL = Config.Dispatch.OfferTTL

	var server = &api.Server{
		DB:            d,
		Orders:        orderSvc,
		Offers:        offerMgr,
		Dispatcher:    dispatcher,
		InternalToken: Config.Dispatch.InternalToken,
	}
	var httpServer = &http.Server{
		Addr:    Config.Serve.Address,
		Handler: server.Routes(),
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	var group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithFields(log.Fields{
			"address": Config.Serve.Address,
			"region":  Config.Serve.Region,
		}).Info("starting proofcart server")

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		var err = scheduler.New(d, dispatcher, offerMgr).Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err = group.Wait(); err != nil {
		log.WithField("err", err).Fatal("server failed")
	}
	log.Info("goodbye")
	return nil
}

func initLog() {
	if Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(Config.Log.Level); err == nil {
		log.SetLevel(level)
	}
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the proofcart API", `
Serve the proofcart API and dispatch loops with the provided
configuration, until signaled to exit (via SIGTERM).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
