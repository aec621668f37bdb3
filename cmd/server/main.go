// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"idle-universe-go/internal/config"
	"idle-universe-go/internal/crawler"
	"idle-universe-go/internal/dedupe"
	"idle-universe-go/internal/handler"
	"idle-universe-go/internal/indexer"
	"idle-universe-go/internal/middleware"
	"idle-universe-go/internal/model"
	"idle-universe-go/internal/pipeline"
	"idle-universe-go/internal/qa"
	"idle-universe-go/internal/repository"
	"idle-universe-go/internal/service"
	"idle-universe-go/internal/translator"
	"idle-universe-go/internal/vectorstore"
	"idle-universe-go/internal/vectorstore/es"
	"idle-universe-go/internal/vectorstore/flat"
	"idle-universe-go/pkg/database"
	"idle-universe-go/pkg/embedding"
	"idle-universe-go/pkg/kafka"
	"idle-universe-go/pkg/llm"
	"idle-universe-go/pkg/log"
	"idle-universe-go/pkg/storage"
	"idle-universe-go/pkg/tika"
	"idle-universe-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 凭据缺失属于启动期致命错误, 不留到查询期暴露
	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}

	// 3. 初始化数据库、Redis、MinIO 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.RawDocument{}, &model.NormalizedDocument{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化向量索引后端
	store := newVectorStore(cfg)

	// 5. 初始化 Repository
	rawRepo := repository.NewRawDocumentRepository(database.DB)
	normRepo := repository.NewNormalizedDocumentRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 6. 初始化客户端与 Service (依赖注入)
	sessionManager := token.NewSessionManager(cfg.JWT.Secret, cfg.JWT.SessionTokenExpireMins)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding, os.Getenv(cfg.Embedding.APIKeyEnv))
	llmClient, err := llm.NewClient(cfg.LLM, os.Getenv(cfg.LLM.APIKeyEnv))
	if err != nil {
		log.Fatalf("初始化 LLM 客户端失败: %v", err)
	}

	chain := qa.NewChain(llmClient, embeddingClient, store, cfg.Index, cfg.LLM, cfg.Chat)
	chatService := service.NewChatService(chain, conversationRepo, cfg.Chat)
	searchService := service.NewSearchService(embeddingClient, store, cfg.Index)
	ingestService := service.NewIngestService(rawRepo, normRepo, store)

	// 7. 初始化摄取流水线 (Processor)
	retryBackoff := time.Duration(cfg.LLM.RetryBackoffMS) * time.Millisecond
	processor := pipeline.NewProcessor(
		crawler.New(cfg.Crawler, tikaClient),
		translator.New(cfg.Translator, llmClient, cfg.LLM.MaxRetries, retryBackoff),
		dedupe.New(cfg.Dedupe.SimilarityThreshold),
		indexer.NewBuilder(cfg.Index, embeddingClient),
		store,
		rawRepo,
		normRepo,
		cfg.MinIO,
	)

	// 8. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8.1 知识库为空时自动投递一次全量抓取, 有文档无索引时自动重建
	go autoSetup(normRepo, store, ingestService)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	chatHandler := handler.NewChatHandler(chatService, sessionManager)
	apiV1 := r.Group("/api/v1")
	{
		search := apiV1.Group("/search")
		{
			search.GET("", handler.NewSearchHandler(searchService).Search)
		}

		ingest := apiV1.Group("/ingest")
		{
			ingestHandler := handler.NewIngestHandler(ingestService)
			ingest.POST("/crawl", ingestHandler.TriggerCrawl)
			ingest.POST("/rebuild", ingestHandler.TriggerRebuild)
			ingest.GET("/status", ingestHandler.Status)
		}

		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}
	}
	r.GET("/chat/:token", chatHandler.Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// newVectorStore 按配置选择索引后端。flat 在本地目录持久化, es 走 Elasticsearch kNN。
func newVectorStore(cfg config.Config) vectorstore.Store {
	switch cfg.Index.Backend {
	case "es":
		store, err := es.New(cfg.Index.Elasticsearch, cfg.Embedding.Dimensions)
		if err != nil {
			log.Fatalf("初始化 Elasticsearch 索引后端失败: %v", err)
		}
		return store
	case "flat":
		store, err := flat.New(cfg.Index.Dir)
		if err != nil {
			log.Fatalf("初始化本地索引后端失败: %v", err)
		}
		return store
	default:
		log.Fatalf("不支持的索引后端: %s", cfg.Index.Backend)
		return nil
	}
}

// autoSetup 在归一化文档活动集为空时投递一次全量抓取任务；
// 有文档但索引为空时只投递重建任务（幂等）。
func autoSetup(normRepo repository.NormalizedDocumentRepository, store vectorstore.Store, ingestService service.IngestService) {
	count, err := normRepo.Count()
	if err != nil {
		log.Warnf("autoSetup: 查询归一化文档失败, 跳过自动初始化: %v", err)
		return
	}

	if count == 0 {
		requestID, err := ingestService.EnqueueCrawl(context.Background(), "")
		if err != nil {
			log.Errorf("autoSetup: 投递初始化抓取任务失败: %v", err)
			return
		}
		log.Infof("autoSetup: 知识库为空, 已投递初始化抓取任务: request=%s", requestID)
		return
	}

	info, err := store.Info(context.Background())
	if err != nil {
		log.Warnf("autoSetup: 查询索引状态失败, 跳过自动重建: %v", err)
		return
	}
	if info.PassageCount > 0 {
		log.Infof("autoSetup: 知识库已就绪: %d 篇文档, %d 个段落", count, info.PassageCount)
		return
	}

	requestID, err := ingestService.EnqueueRebuild(context.Background())
	if err != nil {
		log.Errorf("autoSetup: 投递重建任务失败: %v", err)
		return
	}
	log.Infof("autoSetup: 有文档但索引为空, 已投递重建任务: request=%s", requestID)
}
