package main

import (
	"log"
	"os"
	"time"

	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/api"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/auth"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/coach"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/config"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/redis"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/ai"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/service/assistant"
	"github.com/fanyicharllson/ai-agile-coach-scrum/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfgPath := os.Getenv("AGILEMENTOR_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("AGILEMENTOR_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: users, session_folders, sessions, messages, user_tokens
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, running without cache: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	assistantService := assistant.NewService(db)
	coachModel, err := ai.NewService(cfg)
	if err != nil {
		log.Fatalf("init coach model: %v", err)
	}
	log.Printf("coach model: %s", coachModel.ModelName())

	coachManager := coach.NewManager(assistantService, coachModel, rdb)
	authService := auth.NewService(db, rdb, 24*time.Hour)
	handlers := api.NewHandler(assistantService, authService, coachManager, cfg.BasicConfig.TrialLimit)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
