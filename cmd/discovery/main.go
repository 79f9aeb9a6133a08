package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hewenyu/orbit-discovery/internal/apihandler"
	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/dnsserver"
	"github.com/hewenyu/orbit-discovery/internal/registry"
	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}

	// 创建并启动注册中心
	reg := registry.New(cfg, logger)
	reg.Start()

	// 启动API服务
	api := apihandler.NewAPIHandler(cfg, logger, reg)
	if err := api.Start(); err != nil {
		logger.Fatal("启动API服务失败", zap.Error(err))
	}

	// 启动DNS服务器
	dnsSrv := dnsserver.NewDNSServer(cfg, logger, reg)
	if err := dnsSrv.Start(); err != nil {
		logger.Fatal("启动DNS服务器失败", zap.Error(err))
	}

	logger.Info("orbit-discovery 已启动",
		zap.Int("api_port", cfg.API.Port),
		zap.Int("dns_port", cfg.DNS.Port))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("收到退出信号，开始优雅关闭")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := api.Shutdown(ctx); err != nil {
		logger.Error("关闭API服务失败", zap.Error(err))
	}
	if err := dnsSrv.Shutdown(ctx); err != nil {
		logger.Error("关闭DNS服务器失败", zap.Error(err))
	}
	reg.Stop()

	logger.Info("orbit-discovery 已退出")
}
