package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"github.com/Chrimika/electro-shop-control/internal/adapter/handler"
	"github.com/Chrimika/electro-shop-control/internal/adapter/handler/salesrpc"
	"github.com/Chrimika/electro-shop-control/internal/adapter/messaging"
	"github.com/Chrimika/electro-shop-control/internal/config"
	"github.com/Chrimika/electro-shop-control/internal/core/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("SALES_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := setupTracing(cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	var db *sql.DB
	if cfg.UsesMySQL() {
		db, err = openMySQL(ctx, cfg.MySQL)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		log.Println("connected to mysql")
	}

	var rdb *redis.Client
	if cfg.Backends.Inventory == config.BackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		log.Println("connected to redis")
	}

	deps, seeds := buildDependencies(cfg, db, rdb)
	if err := seed(ctx, cfg.Seed, seeds); err != nil {
		log.Fatalf("failed to seed data: %v", err)
	}

	var amqpConn *amqp.Connection
	if cfg.AMQP.URL != "" {
		conn, ch, err := messaging.SetupConn(cfg.AMQP.URL)
		if err != nil {
			log.Fatalf("failed to connect rabbitmq: %v", err)
		}
		amqpConn = conn
		deps.Notifier = messaging.NewRabbitMQNotifier(ch)
		log.Println("connected to rabbitmq")
	} else {
		deps.Notifier = messaging.LogNotifier{}
	}

	saleService := service.NewSaleService(deps, service.Config{
		ReserveTimeout:      cfg.Timeouts.Reserve,
		LedgerTimeout:       cfg.Timeouts.Ledger,
		NotifyTimeout:       cfg.Timeouts.Notify,
		CompensationTimeout: cfg.Timeouts.Compensation,
		Retry: service.RetryConfig{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
			JitterEnabled: cfg.Retry.Jitter,
		},
	})
	opts := handler.Options{DefaultDeadlineDays: cfg.Sales.DefaultDeadlineDays}
	log.Printf("sale service ready: inventory=%s ledger=%s", cfg.Backends.Inventory, cfg.Backends.Ledger)

	// Initialize gRPC server
	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		salesrpc.RegisterSalesServiceServer(grpcServer, handler.NewGRPCHandler(saleService, opts))

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("failed to listen: %v", err)
		}
		go func() {
			log.Printf("gRPC server listening on %s", cfg.Server.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	// Initialize HTTP server
	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		handler.NewHTTPHandler(saleService, opts).Routes(mux)

		httpServer = &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: otelhttp.NewHandler(mux, "sales-http"),
		}
		go func() {
			log.Printf("HTTP server listening on %s", cfg.Server.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if httpServer != nil {
		httpServer.Shutdown(shutdownCtx)
		log.Println("HTTP server stopped")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
		log.Println("gRPC server stopped")
	}

	if amqpConn != nil {
		amqpConn.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracer shutdown: %v", err)
	}
	log.Println("connections closed")
}
