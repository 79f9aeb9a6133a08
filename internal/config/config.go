package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 注册中心配置
	Registry struct {
		// 未显式指定健康检查参数时使用的默认值
		DefaultCheckInterval    time.Duration `mapstructure:"default_check_interval"`
		DefaultCheckTimeout     time.Duration `mapstructure:"default_check_timeout"`
		DefaultSuccessThreshold int           `mapstructure:"default_success_threshold"`
		DefaultFailureThreshold int           `mapstructure:"default_failure_threshold"`

		// TTL检查与CRITICAL状态的巡检周期
		SweepInterval time.Duration `mapstructure:"sweep_interval"`

		// 事件订阅者的通道缓冲大小
		WatchBufferSize int `mapstructure:"watch_buffer_size"`
	} `mapstructure:"registry"`

	// DNS服务配置
	DNS struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Protocol      string `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
		DomainSuffix  string `mapstructure:"domain_suffix"`
		RecordTTL     uint32 `mapstructure:"record_ttl"`
	} `mapstructure:"dns"`

	// API服务配置
	API struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")                 // 配置文件名（无扩展名）
		v.AddConfigPath(".")                      // 当前目录
		v.AddConfigPath("./configs")              // configs目录
		v.AddConfigPath("$HOME/.orbit-discovery") // 用户目录
		v.AddConfigPath("/etc/orbit-discovery")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("ORBIT_DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 注册中心默认配置
	v.SetDefault("registry.default_check_interval", "10s")
	v.SetDefault("registry.default_check_timeout", "5s")
	v.SetDefault("registry.default_success_threshold", 1)
	v.SetDefault("registry.default_failure_threshold", 3)
	v.SetDefault("registry.sweep_interval", "1s")
	v.SetDefault("registry.watch_buffer_size", 128)

	// DNS服务默认配置
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 8053)
	v.SetDefault("dns.protocol", "both")
	v.SetDefault("dns.domain_suffix", "service.orbit.local")
	v.SetDefault("dns.record_ttl", 60)

	// API服务默认配置
	v.SetDefault("api.listen_address", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("dns.port", "ORBIT_DISCOVERY_DNS_PORT")
	v.BindEnv("dns.domain_suffix", "ORBIT_DISCOVERY_DNS_DOMAIN_SUFFIX")
	v.BindEnv("api.port", "ORBIT_DISCOVERY_API_PORT")
	v.BindEnv("log.level", "ORBIT_DISCOVERY_LOG_LEVEL")
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.orbit-discovery/config.yaml",
		"/etc/orbit-discovery/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
