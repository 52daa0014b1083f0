package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Chrimika/electro-shop-control/internal/adapter/storage"
	"github.com/Chrimika/electro-shop-control/internal/core/domain"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
	"github.com/Chrimika/electro-shop-control/internal/port"
)

const (
	storeID   = "stress-store"
	productID = "stress-tv"
)

type stockSetter interface {
	port.InventoryStore
	SetStock(ctx context.Context, storeID, productID string, quantity int) error
}

func main() {
	redisAddr := flag.String("redis", "", "redis address; empty runs against the memory backend")
	initialStock := flag.Int("stock", 20, "initial stock")
	totalRequests := flag.Int("requests", 50, "concurrent commits")
	replays := flag.Int("replays", 3, "extra submissions per idempotency token")
	flag.Parse()

	ctx := context.Background()

	var (
		inventory stockSetter
		guard     port.TokenGuard
	)
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		inventory = storage.NewRedisInventory(rdb)
		guard = storage.NewRedisTokenGuard(rdb, 30*time.Second)
	} else {
		inventory = storage.NewMemoryInventory()
		guard = storage.NewMemoryTokenGuard()
	}

	if err := inventory.SetStock(ctx, storeID, productID, *initialStock); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	ledger := storage.NewMemoryLedger()
	saleService := service.NewSaleService(service.Dependencies{
		Inventory: inventory,
		Ledger:    ledger,
		Catalog: storage.NewMemoryCatalog(domain.Product{
			ID:           productID,
			Name:         "Stress TV",
			SellingPrice: decimal.RequireFromString("100"),
		}),
		Guard: guard,
	}, service.DefaultConfig())

	// Counters
	var (
		successCount  atomic.Int32
		soldOutCount  atomic.Int32
		inFlightCount atomic.Int32
		otherCount    atomic.Int32
	)
	var saleIDs sync.Map // token -> sale id

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		token := uuid.NewString()
		for r := 0; r <= *replays; r++ {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()

				c := saleService.BuildCart(storeID)
				if _, err := saleService.AddProduct(ctx, c, productID, 1, nil); err != nil {
					otherCount.Add(1)
					return
				}
				sale, err := saleService.CommitCart(ctx, c, service.CommitRequest{
					VendorID:         "stress-vendor",
					SaleType:         domain.SaleTypeDirect,
					PaidAmount:       c.Total(),
					IdempotencyToken: token,
				})
				switch {
				case err == nil:
					if prev, loaded := saleIDs.LoadOrStore(token, sale.ID); loaded && prev != sale.ID {
						log.Printf("token %s produced two sales: %s and %s", token, prev, sale.ID)
						otherCount.Add(1)
						return
					}
					successCount.Add(1)
				case errors.Is(err, domain.ErrInsufficientStock):
					soldOutCount.Add(1)
				case errors.Is(err, domain.ErrCommitInProgress):
					inFlightCount.Add(1)
				default:
					log.Printf("commit %s: %v", token, err)
					otherCount.Add(1)
				}
			}(token)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	finalStock, err := inventory.Peek(ctx, storeID, productID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Tokens:           %d (x%d submissions)\n", *totalRequests, *replays+1)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Sold out:         %d\n", soldOutCount.Load())
	fmt.Printf("In flight:        %d\n", inFlightCount.Load())
	fmt.Printf("Other failures:   %d\n", otherCount.Load())
	fmt.Printf("Sales in ledger:  %d\n", ledger.Len())
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	wantSales := min(*initialStock, *totalRequests)
	if ledger.Len() == wantSales {
		fmt.Printf("PASS: %d sales for %d tokens\n", wantSales, *totalRequests)
	} else {
		fmt.Printf("FAIL: expected %d sales, got %d\n", wantSales, ledger.Len())
	}
	if finalStock == *initialStock-ledger.Len() {
		fmt.Println("PASS: stock matches committed sales")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-ledger.Len(), finalStock)
	}
}
