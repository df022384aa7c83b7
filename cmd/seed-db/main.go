package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/downpay/internal/api"
	"github.com/xenking/downpay/internal/domain/product"
	"github.com/xenking/downpay/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		workers      int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file (.json or .json.gz)")
	flag.IntVar(&workers, "workers", 4, "concurrent upserts")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, workers); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, workers int) error {
	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return seedProducts(ctx, postgres.NewProductRepository(pool), products, workers)
}

type productWriter interface {
	Upsert(ctx context.Context, p product.Product) error
}

func seedProducts(ctx context.Context, repo productWriter, products []product.Product, workers int) error {
	slog.Info("upserting products", slog.Int("count", len(products)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, p := range products {
		g.Go(func() error {
			if err := repo.Upsert(ctx, p); err != nil {
				return errors.Wrapf(err, "upsert product %s", p.ID)
			}
			slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
			return nil
		})
	}
	return g.Wait()
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decodeProducts(r)
}

// decodeProducts reads a JSON array of product documents.
func decodeProducts(r io.Reader) ([]product.Product, error) {
	var products []product.Product
	err := jx.Decode(r, 4096).Arr(func(d *jx.Decoder) error {
		p, err := api.DecodeProduct(d)
		if err != nil {
			return err
		}
		if p.ID == "" || !p.Price.IsPositive() {
			return errors.Errorf("product %q: id and positive price are required", p.ID)
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return products, nil
}
