package apihandler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hewenyu/orbit-discovery/internal/balancer"
	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/core/model"
	"github.com/hewenyu/orbit-discovery/internal/registry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// RegistryAPI 是HTTP层对注册中心的依赖
type RegistryAPI interface {
	Register(ctx context.Context, req *model.ServiceRegistrationRequest) (*model.ServiceInstance, error)
	Deregister(ctx context.Context, instanceID string) bool
	PassTTL(ctx context.Context, checkID string) bool
	GetInstances(ctx context.Context, serviceName string, tags []string, datacenter string, healthyOnly bool) []*model.ServiceInstance
	Resolve(ctx context.Context, serviceName string, tags []string, datacenter string) []model.Endpoint
	ResolveOne(ctx context.Context, serviceName string, strategy balancer.Strategy, key string) (model.Endpoint, error)
	ServiceNames(ctx context.Context) []string
	EnableMaintenance(ctx context.Context, instanceID, reason string) bool
	DisableMaintenance(ctx context.Context, instanceID string) bool
}

// Handler 定义API处理器接口
type Handler interface {
	// Start 启动API服务
	Start() error

	// Shutdown 优雅关闭API服务
	Shutdown(ctx context.Context) error
}

// EchoHandler 实现Handler接口
type EchoHandler struct {
	server   *echo.Echo
	cfg      *config.Config
	logger   config.Logger
	registry RegistryAPI
}

// NewAPIHandler 创建一个新的API处理器
func NewAPIHandler(cfg *config.Config, logger config.Logger, reg RegistryAPI) Handler {
	return &EchoHandler{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
	}
}

// Start 启动API服务
func (h *EchoHandler) Start() error {
	h.logger.Info("启动API服务",
		zap.String("address", h.cfg.API.ListenAddress),
		zap.Int("port", h.cfg.API.Port))

	// 创建Echo实例
	h.server = echo.New()
	h.server.HideBanner = true

	// 添加中间件
	h.server.Use(middleware.Recover())
	h.server.Use(middleware.Logger())

	// 注册路由
	h.registerRoutes()

	// 启动服务（非阻塞）
	go func() {
		addr := fmt.Sprintf("%s:%d", h.cfg.API.ListenAddress, h.cfg.API.Port)
		if err := h.server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭API服务
func (h *EchoHandler) Shutdown(ctx context.Context) error {
	h.logger.Info("正在关闭API服务...")
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// registerRoutes 注册API路由
func (h *EchoHandler) registerRoutes() {
	h.server.GET("/health", h.handleHealth)

	v1 := h.server.Group("/v1")
	v1.POST("/services/register", h.handleRegister)
	v1.DELETE("/services/:instance_id", h.handleDeregister)
	v1.PUT("/services/:instance_id/maintenance", h.handleEnableMaintenance)
	v1.DELETE("/services/:instance_id/maintenance", h.handleDisableMaintenance)
	v1.GET("/services", h.handleListServices)
	v1.GET("/services/:name/instances", h.handleListInstances)
	v1.GET("/services/:name/endpoints", h.handleResolve)
	v1.PUT("/checks/:check_id/pass", h.handlePassTTL)
}

// handleHealth 处理自身健康检查
func (h *EchoHandler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleRegister 处理服务实例注册
func (h *EchoHandler) handleRegister(c echo.Context) error {
	var req model.ServiceRegistrationRequest
	if err := c.Bind(&req); err != nil {
		return respond(c, http.StatusBadRequest, "请求格式无效", nil)
	}

	inst, err := h.registry.Register(c.Request().Context(), &req)
	if err != nil {
		if registry.IsDuplicateInstance(err) || registry.IsDuplicateCheck(err) {
			return respond(c, http.StatusConflict, err.Error(), nil)
		}
		return respond(c, http.StatusBadRequest, err.Error(), nil)
	}

	return respond(c, http.StatusCreated, "注册成功", inst)
}

// handleDeregister 处理服务实例注销。注销是幂等的，
// 未知ID同样返回成功。
func (h *EchoHandler) handleDeregister(c echo.Context) error {
	instanceID := c.Param("instance_id")
	removed := h.registry.Deregister(c.Request().Context(), instanceID)
	return respond(c, http.StatusOK, "注销完成", map[string]bool{"removed": removed})
}

// handleEnableMaintenance 将实例置入维护模式
func (h *EchoHandler) handleEnableMaintenance(c echo.Context) error {
	instanceID := c.Param("instance_id")
	reason := c.QueryParam("reason")
	if !h.registry.EnableMaintenance(c.Request().Context(), instanceID, reason) {
		return respond(c, http.StatusNotFound, "实例不存在或已处于维护模式", nil)
	}
	return respond(c, http.StatusOK, "已进入维护模式", nil)
}

// handleDisableMaintenance 解除实例维护模式
func (h *EchoHandler) handleDisableMaintenance(c echo.Context) error {
	instanceID := c.Param("instance_id")
	if !h.registry.DisableMaintenance(c.Request().Context(), instanceID) {
		return respond(c, http.StatusNotFound, "实例不存在", nil)
	}
	return respond(c, http.StatusOK, "已解除维护模式", nil)
}

// handleListServices 返回所有服务名称
func (h *EchoHandler) handleListServices(c echo.Context) error {
	names := h.registry.ServiceNames(c.Request().Context())
	return respond(c, http.StatusOK, "查询成功", map[string]interface{}{
		"services": names,
	})
}

// handleListInstances 返回服务的实例列表
func (h *EchoHandler) handleListInstances(c echo.Context) error {
	name := c.Param("name")
	healthyOnly := c.QueryParam("healthy") == "true"
	instances := h.registry.GetInstances(c.Request().Context(), name, queryTags(c), c.QueryParam("datacenter"), healthyOnly)
	return respond(c, http.StatusOK, "查询成功", map[string]interface{}{
		"instances": instances,
	})
}

// handleResolve 解析服务端点。携带strategy参数时按策略选出
// 单个端点，否则返回全部健康端点。
func (h *EchoHandler) handleResolve(c echo.Context) error {
	name := c.Param("name")
	ctx := c.Request().Context()

	strategy := c.QueryParam("strategy")
	if strategy == "" {
		endpoints := h.registry.Resolve(ctx, name, queryTags(c), c.QueryParam("datacenter"))
		return respond(c, http.StatusOK, "解析成功", map[string]interface{}{
			"endpoints": endpoints,
		})
	}

	ep, err := h.registry.ResolveOne(ctx, name, balancer.Strategy(strategy), c.QueryParam("key"))
	if err != nil {
		if registry.IsNotFound(err) {
			return respond(c, http.StatusNotFound, err.Error(), nil)
		}
		return respond(c, http.StatusBadRequest, err.Error(), nil)
	}
	return respond(c, http.StatusOK, "解析成功", ep)
}

// handlePassTTL 处理TTL检查心跳上报
func (h *EchoHandler) handlePassTTL(c echo.Context) error {
	checkID := c.Param("check_id")
	if !h.registry.PassTTL(c.Request().Context(), checkID) {
		return respond(c, http.StatusNotFound, "检查不存在或不是TTL类型", nil)
	}
	return respond(c, http.StatusOK, "心跳已记录", nil)
}

// queryTags 解析逗号分隔的tag查询参数
func queryTags(c echo.Context) []string {
	raw := c.QueryParam("tags")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// respond 按统一的响应包装返回
func respond(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, model.ApiResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
