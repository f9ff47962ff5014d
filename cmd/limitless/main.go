// Command limitless is a thin CLI over the SDK: list markets, watch a feed,
// place and cancel orders, show positions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/limitless-exchange/limitless-go/api"
	"github.com/limitless-exchange/limitless-go/config"
	"github.com/limitless-exchange/limitless-go/internal/keyvault"
	"github.com/limitless-exchange/limitless-go/markets"
	"github.com/limitless-exchange/limitless-go/orders"
	"github.com/limitless-exchange/limitless-go/portfolio"
	"github.com/limitless-exchange/limitless-go/signer"
	"github.com/limitless-exchange/limitless-go/stream"
)

const usage = `usage: limitless <command> [args]

commands:
  markets                      list active markets
  watch <slug>                 stream live prices for a market
  buy <slug> <price> <size>    place a GTC buy on the market's YES token
  sell <slug> <price> <size>   place a GTC sell on the market's YES token
  cancel <order-id>            cancel an order
  positions                    show open positions
`

func main() {
	defer memguard.Purge()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	transport := api.NewClient(
		api.WithBaseURL(cfg.APIURL),
		api.WithAPIKey(cfg.APIKey),
		api.WithTimeout(cfg.HTTP.Timeout()),
		api.WithLogger(logger),
	)
	defer transport.Close()

	if err := run(ctx, os.Args[1], os.Args[2:], cfg, transport, logger); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, cfg *config.Config, transport *api.Client, logger logrus.FieldLogger) error {
	fetcher := markets.NewFetcher(transport, markets.WithLogger(logger))

	switch command {
	case "markets":
		return listMarkets(ctx, fetcher)
	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch <slug>")
		}
		return watch(ctx, cfg, args[0], logger)
	case "buy", "sell":
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <slug> <price> <size>", command)
		}
		side := orders.Buy
		if command == "sell" {
			side = orders.Sell
		}
		return placeOrder(ctx, cfg, transport, fetcher, logger, args[0], args[1], args[2], side)
	case "cancel":
		if len(args) != 1 {
			return fmt.Errorf("usage: cancel <order-id>")
		}
		// Cancellation needs the API key only, not the signing key.
		oc := orders.NewClient(transport, nil, nil, orders.WithLogger(logger))
		if err := oc.Cancel(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", args[0])
		return nil
	case "positions":
		return listPositions(ctx, transport, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func newLogger(cfg config.LogConfig) logrus.FieldLogger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		l.SetLevel(lvl)
	}
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// newSigner builds the order signer from config: a raw private key, or a
// KMS-encrypted one decrypted at startup.
func newSigner(ctx context.Context, cfg *config.Config) (signer.Signer, error) {
	keyHex := cfg.Signing.PrivateKey
	if keyHex == "" && cfg.Signing.KMSCiphertext != "" {
		kv, err := keyvault.New(ctx, cfg.Signing.AWSRegion, cfg.Signing.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		keyHex, err = kv.DecryptKey(ctx, cfg.Signing.KMSCiphertext)
		if err != nil {
			return nil, err
		}
	}
	if keyHex == "" {
		return nil, fmt.Errorf("no signing key configured (set LIMITLESS_SIGNING_PRIVATE_KEY or LIMITLESS_SIGNING_KMS_CIPHERTEXT)")
	}
	return signer.NewLocalSigner(keyHex)
}

func newOrderClient(ctx context.Context, cfg *config.Config, transport *api.Client, fetcher *markets.Fetcher, logger logrus.FieldLogger) (*orders.Client, error) {
	sig, err := newSigner(ctx, cfg)
	if err != nil {
		return nil, err
	}
	venues := markets.NewVenueCache(fetcher, logger)
	return orders.NewClient(transport, sig, venues,
		orders.WithLogger(logger),
		orders.WithDomain(cfg.Signing.DomainName, cfg.Signing.DomainVersion),
		orders.WithChainID(cfg.Signing.ChainID),
		orders.WithFeeRateBps(cfg.Signing.FeeRateBps),
	), nil
}

func listMarkets(ctx context.Context, fetcher *markets.Fetcher) error {
	all, err := fetcher.AllActiveMarkets(ctx)
	if err != nil {
		return err
	}
	for _, m := range all {
		fmt.Printf("%-60s  %s\n", m.Slug, m.Title)
	}
	fmt.Printf("%d active markets\n", len(all))
	return nil
}

func watch(ctx context.Context, cfg *config.Config, slug string, logger logrus.FieldLogger) error {
	sess := stream.NewSession(stream.Config{
		URL:              cfg.WSURL,
		APIKey:           cfg.APIKey,
		AutoReconnect:    true,
		BackoffInitial:   time.Second,
		BackoffMax:       30 * time.Second,
		BackoffFactor:    2.0,
		HandshakeTimeout: 10 * time.Second,
	}, stream.WithLogger(logger))
	defer sess.Close()

	sess.On("market_prices", func(payload json.RawMessage) {
		fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), payload)
	})

	if err := sess.Connect(ctx); err != nil {
		return err
	}
	if err := sess.SubscribeMarketPrices(slug); err != nil {
		return err
	}

	fmt.Printf("watching %s (ctrl-c to stop)\n", slug)
	<-ctx.Done()
	return nil
}

func placeOrder(ctx context.Context, cfg *config.Config, transport *api.Client, fetcher *markets.Fetcher, logger logrus.FieldLogger, slug, priceArg, sizeArg string, side orders.Side) error {
	price, err := strconv.ParseFloat(priceArg, 64)
	if err != nil {
		return fmt.Errorf("invalid price %q", priceArg)
	}
	size, err := strconv.ParseFloat(sizeArg, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q", sizeArg)
	}

	market, err := fetcher.Market(ctx, slug)
	if err != nil {
		return err
	}

	oc, err := newOrderClient(ctx, cfg, transport, fetcher, logger)
	if err != nil {
		return err
	}

	res, err := oc.CreateOrder(ctx, orders.Request{
		TokenID:    market.Tokens.Yes,
		Side:       side,
		Type:       orders.GTC,
		Price:      price,
		Size:       size,
		MarketSlug: slug,
	})
	if err != nil {
		return err
	}

	fmt.Printf("order %s %s @ %s\n", res.Order.ID, res.Order.Status, res.Order.Price)
	return nil
}

func listPositions(ctx context.Context, transport *api.Client, logger logrus.FieldLogger) error {
	pc := portfolio.NewClient(transport, portfolio.WithLogger(logger))
	positions, err := pc.Positions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return nil
	}
	for _, p := range positions {
		fmt.Printf("%-60s %-6s size=%g avg=%g\n", p.MarketSlug, p.Outcome, p.Size, p.AveragePrice)
	}
	return nil
}
