package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/catalog"
	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string
	userID       string
	scopes       string
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, gzip-compressed when it ends in .gz")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.StringVar(&opts.userID, "user-id", "default", "user owning the seeded API key")
	flag.StringVar(&opts.scopes, "scopes", "orders", "comma-separated API key scopes")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewStore(pool).Products(), opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), opts); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	products, err := catalog.Load(productsFile)
	if err != nil {
		return err
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("stock", p.Stock),
			slog.Bool("active", p.Active),
		)
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, opts options) error {
	slog.Info("seeding API key", slog.String("user_id", opts.userID))

	var scopes []string
	for s := range strings.SplitSeq(opts.scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	info := auth.APIKeyInfo{
		ID:      "default-" + opts.userID,
		KeyHash: auth.HashKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Default key for " + opts.userID,
		UserID:  opts.userID,
		Scopes:  scopes,
	}
	if err := repo.Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))

	return nil
}
