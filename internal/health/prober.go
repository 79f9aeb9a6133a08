package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"

	"github.com/hewenyu/orbit-discovery/internal/core/model"
)

// Prober 是探测执行能力的抽象。实现必须尊重ctx的截止时间，
// 返回nil表示探测成功，任何错误（包括超时）都计为一次失败。
// 测试可以注入确定性的假实现。
type Prober interface {
	Probe(ctx context.Context, check *model.HealthCheck) error
}

// HTTPProber 对check.Target发起HTTP GET，2xx/3xx视为成功
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber 创建一个HTTP探测器
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			// 超时由探测ctx控制，客户端自身不再设置
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		},
	}
}

// Probe 实现Prober接口
func (p *HTTPProber) Probe(ctx context.Context, check *model.HealthCheck) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.Target, nil)
	if err != nil {
		return fmt.Errorf("构造探测请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return nil
	}
	return fmt.Errorf("探测返回异常状态码: %d", resp.StatusCode)
}

// TCPProber 尝试与check.Target建立TCP连接，连通即成功
type TCPProber struct {
	dialer net.Dialer
}

// NewTCPProber 创建一个TCP探测器
func NewTCPProber() *TCPProber {
	return &TCPProber{}
}

// Probe 实现Prober接口
func (p *TCPProber) Probe(ctx context.Context, check *model.HealthCheck) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", check.Target)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ScriptProber 通过shell执行check.Target，退出码0视为成功
type ScriptProber struct {
	shell string
}

// NewScriptProber 创建一个脚本探测器
func NewScriptProber() *ScriptProber {
	return &ScriptProber{shell: "/bin/sh"}
}

// Probe 实现Prober接口
func (p *ScriptProber) Probe(ctx context.Context, check *model.HealthCheck) error {
	cmd := exec.CommandContext(ctx, p.shell, "-c", check.Target)
	return cmd.Run()
}
