package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"radon-backend/config"
	"radon-backend/controller"
	"radon-backend/dao"
	"radon-backend/logic"
	"radon-backend/middleware"
	"radon-backend/models"
	"radon-backend/pkg"
	"radon-backend/pkg/bus"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: radon-backend <config.yaml>")
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", os.Args[1], err)
	}

	logger, err := pkg.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize database
	var dialector gorm.Dialector
	switch cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.Database.Path)
	default:
		dialector = postgres.Open(cfg.DSN())
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Message{},
		&models.MessageEdit{},
		&models.UsageRecord{},
	); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize event bus
	var eventBus bus.Bus
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		eventBus = bus.NewRedisBus(client)
	} else {
		eventBus = bus.NewMemoryBus()
	}
	defer eventBus.Close()

	// Initialize Radon inference client
	radonClient := pkg.NewRadonClient(cfg.Radon.BaseURL, cfg.Radon.APIKey, cfg.Radon.Timeout)

	// Initialize DAOs
	userDAO := dao.NewUserDAO(db)
	chatDAO := dao.NewChatDAO(db)
	messageDAO := dao.NewMessageDAO(db)
	usageDAO := dao.NewUsageDAO(db)

	// Initialize Logics
	defaults := logic.GenerationDefaults{
		MaxNewTokens: cfg.Radon.MaxNewTokens,
		Temperature:  cfg.Radon.Temperature,
	}
	userLogic := logic.NewUserLogic(userDAO, eventBus, logger)
	chatLogic := logic.NewChatLogic(userDAO, chatDAO, eventBus, logger)
	messageLogic := logic.NewMessageLogic(userDAO, chatDAO, messageDAO, radonClient, eventBus, defaults, logger)
	usageLogic := logic.NewUsageLogic(userDAO, usageDAO, eventBus, logger)

	// Initialize Controllers
	userCtrl := controller.NewUserController(userLogic, cfg.JWT.Secret)
	chatCtrl := controller.NewChatController(chatLogic)
	messageCtrl := controller.NewMessageController(messageLogic, logger)
	usageCtrl := controller.NewUsageController(usageLogic)
	healthCtrl := controller.NewHealthController(radonClient)

	// Start usage accounting listener
	listenCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	go func() {
		if err := usageLogic.Listen(listenCtx); err != nil && listenCtx.Err() == nil {
			logger.Error("usage listener stopped", "error", err)
		}
	}()

	// Setup Gin router
	r := gin.Default()
	auth := middleware.Auth(cfg.JWT.Secret)

	r.GET("/health", healthCtrl.GetHealth)
	r.POST("/user/login", userCtrl.Login)
	r.GET("/user", auth, userCtrl.GetUser)
	r.GET("/chats", auth, chatCtrl.GetChats)
	r.POST("/chats", auth, chatCtrl.CreateChat)
	r.PUT("/chats/:id", auth, chatCtrl.RenameChat)
	r.DELETE("/chats/:id", auth, chatCtrl.DeleteChat)
	r.GET("/chats/:id/messages", auth, messageCtrl.GetMessages)
	r.POST("/chats/:id/stream", auth, messageCtrl.StreamTurn)
	r.PUT("/chats/:id/messages/:messageId", auth, messageCtrl.EditMessage)
	r.DELETE("/chats/:id/messages/:messageId", auth, messageCtrl.DeleteMessage)
	r.GET("/chats/:id/messages/:messageId/history", auth, messageCtrl.GetEditHistory)
	r.POST("/messages/regenerate", auth, messageCtrl.Regenerate)
	r.GET("/usage", auth, usageCtrl.GetUsage)

	// Run server
	if err := r.Run(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
