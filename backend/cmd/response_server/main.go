package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/medicinisto/message-responses-integration/backend/internal/httpapi/handlers"
	"github.com/medicinisto/message-responses-integration/backend/internal/httpapi/middleware"
	"github.com/medicinisto/message-responses-integration/backend/internal/ingest"
	"github.com/medicinisto/message-responses-integration/backend/internal/responses"
	"github.com/medicinisto/message-responses-integration/backend/internal/store"
	"github.com/medicinisto/message-responses-integration/backend/internal/ws"
)

type ResponseConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Mysql struct {
		DSN     string `mapstructure:"dsn"`
		Archive bool   `mapstructure:"archive"`
	} `mapstructure:"Mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Group   string   `mapstructure:"group"`
	} `mapstructure:"Kafka"`
	Webhook struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"Webhook"`
	Api struct {
		Base  string `mapstructure:"base"`
		Token string `mapstructure:"token"`
	} `mapstructure:"Api"`
}

func initConfig() (*ResponseConfig, error) {
	cfg := &ResponseConfig{}
	v := viper.New()
	v.SetConfigName("responseConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	ledger := store.NewRedisLedger(rdb)

	// 摘要归档（可选）
	var archiver ingest.SummaryArchiver
	if cfg.Mysql.Archive && cfg.Mysql.DSN != "" {
		gormDB, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			log.Fatalf("Failed to get database handle: %v", err)
		}
		defer sqlDB.Close()
		archiver = store.NewSummaryArchive(sqlDB)
	}

	publisher := responses.NewPublisher(cfg.Api.Base, cfg.Api.Token)

	hub := ws.NewHub()
	manager := ws.NewManager(hub)

	publishSem := ingest.NewSemaphore(100)
	ingestor := ingest.NewIngestor(ledger, publisher, archiver, hub, publishSem)

	// Kafka 未配置时退化为同步摄取（webhook 内联处理）
	var dispatcher *ingest.Dispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()

		sendSem := ingest.NewSemaphore(100)
		dispatcher = ingest.NewDispatcher(
			producer,
			cfg.Kafka.Topic,
			sendSem,
			ingest.DispatcherOptions{
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)

		consumer, err := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Group, cfg.Kafka.Topic, ingestor)
		if err != nil {
			log.Fatalf("Failed to create kafka consumer: %v", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(context.Background()); err != nil {
				log.Printf("consumer stopped: %v", err)
			}
		}()
	}

	webhook := handlers.NewWebhook(ingestor, dispatcher)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// 路由
	resp := r.Group("/responses")
	resp.POST("/webhook", middleware.WebhookAuth(cfg.Webhook.Secret), webhook.Receive)
	resp.GET("/webhook/verify", webhook.Verify)
	resp.GET("/summary", webhook.Summary)
	resp.POST("/initial-state", middleware.WebhookAuth(cfg.Webhook.Secret), webhook.ImportInitialState)
	resp.GET("/feed", manager.FeedConnect)
	resp.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
