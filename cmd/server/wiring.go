package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/Chrimika/electro-shop-control/internal/adapter/storage"
	"github.com/Chrimika/electro-shop-control/internal/config"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
)

type stockWriter interface {
	SetStock(ctx context.Context, storeID, productID string, quantity int) error
}

type productWriter interface {
	UpsertProduct(ctx context.Context, p domain.Product) error
}

// seedTargets are the writable sides of the configured backends. persistent
// is false for the memory backends, which are always seeded.
type seedTargets struct {
	stock              stockWriter
	stockPersistent    bool
	products           productWriter
	productsPersistent bool
}

func openMySQL(ctx context.Context, cfg config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := storage.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func buildDependencies(cfg config.Config, db *sql.DB, rdb *redis.Client) (service.Dependencies, seedTargets) {
	var (
		deps    service.Dependencies
		targets seedTargets
	)

	switch cfg.Backends.Inventory {
	case config.BackendRedis:
		inv := storage.NewRedisInventory(rdb)
		deps.Inventory, targets.stock, targets.stockPersistent = inv, inv, true
	case config.BackendMySQL:
		inv := storage.NewMySQLInventory(db)
		deps.Inventory, targets.stock, targets.stockPersistent = inv, inv, true
	default:
		inv := storage.NewMemoryInventory()
		deps.Inventory, targets.stock = inv, inv
	}

	if cfg.Backends.Ledger == config.BackendMySQL {
		deps.Ledger = storage.NewMySQLLedger(db)
		catalog := storage.NewMySQLCatalog(db)
		deps.Catalog, targets.products, targets.productsPersistent = catalog, catalog, true
	} else {
		deps.Ledger = storage.NewMemoryLedger()
		catalog := storage.NewMemoryCatalog()
		deps.Catalog, targets.products = catalog, catalog
	}
	if cfg.Catalog.CacheTTL > 0 {
		deps.Catalog = storage.NewCachedCatalog(deps.Catalog, cfg.Catalog.CacheTTL)
	}

	// Redis shares the claim across instances; otherwise it is process-local.
	if rdb != nil {
		deps.Guard = storage.NewRedisTokenGuard(rdb, cfg.Timeouts.CommitLockTTL)
	} else {
		deps.Guard = storage.NewMemoryTokenGuard()
	}
	return deps, targets
}

func seed(ctx context.Context, cfg config.SeedConfig, targets seedTargets) error {
	if !targets.productsPersistent || cfg.Apply {
		for _, p := range cfg.Products {
			price, err := decimal.NewFromString(p.Price)
			if err != nil {
				return fmt.Errorf("seed product %s price %q: %w", p.ID, p.Price, err)
			}
			if err := targets.products.UpsertProduct(ctx, domain.Product{
				ID:           p.ID,
				Name:         p.Name,
				SellingPrice: price,
				Category:     p.Category,
			}); err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
		}
		log.Printf("seeded %d products", len(cfg.Products))
	}

	if !targets.stockPersistent || cfg.Apply {
		for _, s := range cfg.Stock {
			if err := targets.stock.SetStock(ctx, s.StoreID, s.ProductID, s.Quantity); err != nil {
				return fmt.Errorf("seed stock %s/%s: %w", s.StoreID, s.ProductID, err)
			}
		}
		log.Printf("seeded %d stock counters", len(cfg.Stock))
	}
	return nil
}

// setupTracing installs a stdout exporter when tracing is enabled. The
// returned function flushes it.
func setupTracing(cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	log.Printf("tracing enabled for %s", cfg.ServiceName)
	return tp.Shutdown, nil
}
