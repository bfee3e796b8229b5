package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/cataloghq/mailroom/internal/archive"
	"github.com/cataloghq/mailroom/internal/auth"
	"github.com/cataloghq/mailroom/internal/classify"
	"github.com/cataloghq/mailroom/internal/config"
	"github.com/cataloghq/mailroom/internal/coordinator"
	"github.com/cataloghq/mailroom/internal/events"
	"github.com/cataloghq/mailroom/internal/fulfillment"
	"github.com/cataloghq/mailroom/internal/httpserver"
	"github.com/cataloghq/mailroom/internal/inventory"
	"github.com/cataloghq/mailroom/internal/models"
	"github.com/cataloghq/mailroom/internal/promo"
	"github.com/cataloghq/mailroom/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()

	var st store.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("ping db: %v", err)
		}
		st = store.NewPGStore(db)
	} else {
		log.Printf("[mailroom] no DATABASE_URL set, serving built-in demo data")
		st = demoStore()
	}

	catalog, err := st.LoadCatalog(ctx)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}
	rules, err := st.LoadPromotionRules(ctx)
	if err != nil {
		log.Fatalf("load promotion rules: %v", err)
	}
	records, err := st.LoadInventory(ctx)
	if err != nil {
		log.Fatalf("load inventory: %v", err)
	}
	log.Printf("[mailroom] loaded %d products, %d promotion rules, %d inventory records",
		len(catalog), len(rules), len(records))

	inv := inventory.NewStore()
	inv.Load(records)

	engine := fulfillment.New(catalog, promo.NewEvaluator(rules), inv, fulfillment.Options{
		MaxAlternatives: cfg.MaxAlternatives,
	})

	opts := coordinator.Options{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("kafka publisher: %v", err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
		log.Printf("[mailroom] publishing run events to %s", cfg.KafkaTopic)
	}
	if cfg.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("s3 archiver: %v", err)
		}
		opts.Archiver = archiver
		log.Printf("[mailroom] archiving runs to s3://%s/%s", cfg.ArchiveBucket, cfg.ArchivePrefix)
	}

	coord := coordinator.New(
		engine,
		classify.NewStaticClassifier(catalog),
		classify.NewCatalogAnswerer(catalog),
		classify.NewTemplateComposer(),
		opts,
	)

	verifier, err := auth.NewVerifier(cfg.AuthSecret, cfg.AllowAnon)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	server := httpserver.New(coord, inv, st, verifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("[mailroom] listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(httpServer)
}

func waitForShutdown(srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown: %v", err)
	}
}

// demoStore seeds a small catalog so the service can run without Postgres.
func demoStore() store.Store {
	catalog := []models.CatalogProduct{
		{ProductID: "LTH1098", Name: "Leather Backpack", Category: "Bags", UnitPrice: 43.99},
		{ProductID: "CNV5678", Name: "Canvas Tote", Category: "Bags", UnitPrice: 24.00},
		{ProductID: "NYL4321", Name: "Nylon Duffel", Category: "Bags", UnitPrice: 52.50},
		{ProductID: "CSH1098", Name: "Cashmere Scarf", Category: "Accessories", UnitPrice: 31.50, Season: "Winter"},
		{ProductID: "WBR2345", Name: "Woven Bracelet", Category: "Accessories", UnitPrice: 12.00},
	}
	rules := []promo.Rule{
		{
			Name:       "tote-pair-deal",
			ProductID:  "CNV5678",
			Conditions: promo.Conditions{AppliesEvery: 2},
			Effect:     promo.Effect{Kind: promo.EffectFreeUnits, Count: 1, DiscountPercent: 50},
		},
		{
			Name:       "scarf-with-backpack",
			ProductID:  "LTH1098",
			Conditions: promo.Conditions{RequiredProductIDs: []string{"LTH1098", "CSH1098"}},
			Effect:     promo.Effect{Kind: promo.EffectComboDiscount, TargetProductID: "CSH1098", Percentage: 25},
		},
	}
	records := []models.InventoryRecord{
		{ProductID: "LTH1098", StockCount: 8},
		{ProductID: "CNV5678", StockCount: 12},
		{ProductID: "NYL4321", StockCount: 3},
		{ProductID: "CSH1098", StockCount: 5},
		{ProductID: "WBR2345", StockCount: 20},
	}
	return store.NewMemoryStore(catalog, rules, records)
}
