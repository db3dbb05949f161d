package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"IMProject/api"
	"IMProject/global"
	"IMProject/logger"
	mid "IMProject/middleware"
	midsec "IMProject/middleware/security"
	chatstore "IMProject/module/chat/store"
	userstore "IMProject/module/user/store"
	"IMProject/service/chat"
	"IMProject/service/chat/handlers"
	ka "IMProject/service/dispatcher/kafka"
	"IMProject/service/natsx"
	"IMProject/service/presence"
	"IMProject/service/router"
	"IMProject/service/storage"
	"IMProject/tools/ids"
	"IMProject/tools/security"
)

func main() {
	cfgPath := os.Getenv("IM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := global.Load(cfgPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}
	ids.SetNodeID(cfg.NodeID)
	defer logger.Sync()

	ctx := context.Background()

	// ===== 基础设施 =====

	if err := storage.InitRedis(storage.Config{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	}); err != nil {
		logger.Errorf("redis: %v", err)
		os.Exit(1)
	}
	rdb := storage.Client()

	nc, err := natsx.NewClient(natsx.Config{Servers: cfg.Nats.Servers, Name: cfg.Nats.Name + "-" + cfg.GatewayID})
	if err != nil {
		logger.Errorf("nats: %v", err)
		os.Exit(1)
	}
	defer func() { _ = nc.Close() }()
	channel := natsx.NewChannel(nc)

	// 消息库：没配 mongo 就退回内存实现（本地联调用）
	var msgs chatstore.MessageStore
	var contacts chatstore.ContactGraph
	var groups chatstore.GroupDirectory
	if cfg.Mongo.URI != "" {
		db, err := chatstore.OpenMongo(ctx, chatstore.MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
		if err != nil {
			logger.Errorf("mongo: %v", err)
			os.Exit(1)
		}
		msgs = chatstore.NewMongoMessages(db)
		contacts = chatstore.NewMongoContacts(db)
		groups = chatstore.NewMongoGroups(db)
	} else {
		logger.Warn("mongo uri empty, using in-memory stores")
		msgs = chatstore.NewMemMessages()
		contacts = chatstore.NewMemContacts()
		groups = chatstore.NewMemGroups()
	}

	var users userstore.UserDirectory
	if cfg.Postgres.URL != "" {
		pg, err := userstore.OpenPg(ctx, cfg.Postgres.URL)
		if err != nil {
			logger.Errorf("postgres: %v", err)
			os.Exit(1)
		}
		defer pg.Close()
		users = pg
	} else {
		logger.Warn("postgres url empty, using in-memory user directory")
		users = userstore.NewMemUserDirectory()
	}

	var events router.Events
	if len(cfg.Kafka.Brokers) > 0 {
		ep, err := ka.NewEventProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Warnf("kafka disabled: %v", err)
		} else {
			defer func() { _ = ep.Close() }()
			events = ep
		}
	}

	// ===== 核心组件 =====

	connMgr := chat.NewConnManager(chat.ManagerConf{
		HeartbeatTimeout: cfg.Tuning.HeartbeatTimeout,
		SweepEvery:       cfg.Tuning.SweepEvery,
		MaxPerUser:       cfg.Tuning.MaxPerUser,
	}, cfg.GatewayID)
	defer connMgr.Close()

	fleet := storage.NewRedisPresence(rdb)
	claims := storage.NewRedisClaims(rdb, cfg.Tuning.DedupTTL)
	offline := storage.NewRedisOffline(rdb, cfg.Tuning.OfflineCap, cfg.Tuning.OfflineTTL)
	unread := storage.NewUnreadCounters(storage.NewRedisCounters(rdb), msgs, cfg.Tuning.UnreadCacheTTL)

	fanout := chat.NewFanout(8, 4096)
	rt := router.NewRouter(cfg.GatewayID, connMgr, fanout, channel, fleet, offline, unread, msgs, groups, events)
	sender := router.NewSender(claims, msgs, rt)

	pres := presence.NewService(presence.Conf{
		GatewayID:   cfg.GatewayID,
		PresenceTTL: cfg.Tuning.PresenceTTL,
	}, fleet, users, contacts, rt)
	connMgr.SetTransitionHooks(pres.MarkOnline, pres.MarkOffline)

	// relay 收端：本实例持有会话就投，否则空操作
	err = channel.Subscribe(func(_ context.Context, env natsx.RelayEnvelope) error {
		n := connMgr.PushToUser(env.TargetUserID, env.Payload)
		logger.Debugf("[relay] user=%s local_sessions=%d", env.TargetUserID, n)
		return nil
	}, natsx.LoggingMiddleware(), natsx.IdemMiddleware(natsx.NewMemIdem(5*time.Minute), 5*time.Minute))
	if err != nil {
		logger.Errorf("relay subscribe: %v", err)
		os.Exit(1)
	}

	// ===== 网关 =====

	jwtOpts := security.DefaultOptions([]byte(cfg.JWTSecret))
	gw := chat.NewServer(cfg.GatewayID, connMgr)
	gw.Disp().Register(handlers.NewAuthHandler(jwtOpts))
	gw.Disp().Register(handlers.NewPingHandler(pres))
	gw.Disp().Register(handlers.NewDataHandler(sender))
	gw.Disp().Register(handlers.NewCackHandler(msgs))

	mid.UseAuth(midsec.DefaultOptions(jwtOpts))
	h := api.NewHandlers(sender, offline, unread)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws", gw.HandleWS)
	r.GET("/healthz", h.HandleHealthz)
	mid.POST(r, "/api/messages/send", h.HandleSend, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/offline-messages", h.HandleOfflineMessages, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/unread/stats", h.HandleUnreadStats, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/read", h.HandleMarkRead, mid.RouteOpt{IsAuth: true})

	// 开发用：换取测试令牌
	mid.POST(r, "/login", func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, _, exp, err := security.Generate(jwtOpts, req.UserID, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sign failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expireAt": exp.UnixMilli()})
	}, mid.RouteOpt{IsAuth: false})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: r}
	go func() {
		logger.Infof("[HTTP] gateway=%s listening on :%d", cfg.GatewayID, cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
			os.Exit(1)
		}
	}()

	// ===== 优雅退出 =====
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
