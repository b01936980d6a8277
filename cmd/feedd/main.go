package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/weedbox/feedflow"
	"github.com/weedbox/feedflow/httpapi"
)

// openDatabase connects to the database named by DATABASE_URL. Postgres for
// deployment, SQLite for local development.
func openDatabase() (*gorm.DB, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "sqlite://feedflow.db"
		log.Println("DATABASE_URL not set, defaulting to 'sqlite://feedflow.db'")
	}

	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dbURL, "postgres://"):
		dialector = postgres.Open(dbURL)
	case strings.HasPrefix(dbURL, "sqlite://"):
		dialector = sqlite.Open(strings.TrimPrefix(dbURL, "sqlite://"))
	default:
		return nil, errors.New("DATABASE_URL must start with 'postgres://' or 'sqlite://'")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	return db, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	db, err := openDatabase()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	store, err := feedflow.NewGormFeedStore(db)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	manager := feedflow.NewFeedManager(store)

	router := gin.New()
	httpapi.SetupRoutes(router, manager)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
