package dnsserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hewenyu/orbit-discovery/internal/config"
	"github.com/hewenyu/orbit-discovery/internal/dnsview"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// Resolver 是DNS服务器对注册中心的只读依赖
type Resolver interface {
	GetDNSRecords(ctx context.Context, serviceName string, kind dnsview.RecordKind) []dnsview.Record
}

// Server 定义DNS服务器接口
type Server interface {
	// Start 启动DNS服务器
	Start() error

	// Shutdown 优雅关闭DNS服务器
	Shutdown(ctx context.Context) error
}

// DNSServer 实现Server接口，把服务名解析为健康实例的SRV/A记录
type DNSServer struct {
	udpServer   *dns.Server
	tcpServer   *dns.Server
	cfg         *config.Config
	logger      config.Logger
	resolver    Resolver
	suffix      string
	shutdownErr chan error
}

// NewDNSServer 创建一个新的DNS服务器
func NewDNSServer(cfg *config.Config, logger config.Logger, resolver Resolver) *DNSServer {
	suffix := "." + strings.TrimSuffix(strings.TrimPrefix(cfg.DNS.DomainSuffix, "."), ".") + "."
	return &DNSServer{
		cfg:         cfg,
		logger:      logger,
		resolver:    resolver,
		suffix:      suffix,
		shutdownErr: make(chan error, 2), // 用于收集UDP和TCP服务器的关闭错误
	}
}

// Start 启动DNS服务器
func (s *DNSServer) Start() error {
	s.logger.Info("启动DNS服务器",
		zap.String("address", s.cfg.DNS.ListenAddress),
		zap.Int("port", s.cfg.DNS.Port),
		zap.String("protocol", s.cfg.DNS.Protocol),
		zap.String("suffix", s.suffix))

	// 创建DNS处理器
	handler := dns.NewServeMux()
	handler.HandleFunc(".", s.handleDNSRequest)

	// 创建服务器地址
	addr := net.JoinHostPort(s.cfg.DNS.ListenAddress, strconv.Itoa(s.cfg.DNS.Port))

	// 根据配置启动对应协议的服务器
	switch s.cfg.DNS.Protocol {
	case "udp":
		return s.startUDPServer(addr, handler)
	case "tcp":
		return s.startTCPServer(addr, handler)
	case "both":
		if err := s.startUDPServer(addr, handler); err != nil {
			return err
		}
		return s.startTCPServer(addr, handler)
	default:
		return fmt.Errorf("不支持的DNS协议: %s", s.cfg.DNS.Protocol)
	}
}

// startUDPServer 启动UDP服务器
func (s *DNSServer) startUDPServer(addr string, handler dns.Handler) error {
	s.udpServer = &dns.Server{
		Addr:    addr,
		Net:     "udp",
		Handler: handler,
	}

	// 在后台启动UDP服务器
	go func() {
		if err := s.udpServer.ListenAndServe(); err != nil {
			// miekg/dns没有ErrServerClosed，关闭与异常在此无法区分
			s.logger.Error("UDP DNS服务器错误", zap.Error(err))
			s.shutdownErr <- err
		}
	}()

	return nil
}

// startTCPServer 启动TCP服务器
func (s *DNSServer) startTCPServer(addr string, handler dns.Handler) error {
	s.tcpServer = &dns.Server{
		Addr:    addr,
		Net:     "tcp",
		Handler: handler,
	}

	// 在后台启动TCP服务器
	go func() {
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.logger.Error("TCP DNS服务器错误", zap.Error(err))
			s.shutdownErr <- err
		}
	}()

	return nil
}

// Shutdown 优雅关闭DNS服务器
func (s *DNSServer) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭DNS服务器...")

	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			return fmt.Errorf("关闭UDP DNS服务器失败: %w", err)
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			return fmt.Errorf("关闭TCP DNS服务器失败: %w", err)
		}
	}
	return nil
}

// handleDNSRequest 处理DNS查询
func (s *DNSServer) handleDNSRequest(w dns.ResponseWriter, req *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(req)
	msg.Authoritative = true

	for _, question := range req.Question {
		s.answerQuestion(msg, question)
	}

	if len(msg.Answer) == 0 {
		msg.Rcode = dns.RcodeNameError
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error("写入DNS响应失败", zap.Error(err))
	}
}

// answerQuestion 处理单个问题。只回答后缀匹配的服务域名，
// 其余名称一律NXDOMAIN。
func (s *DNSServer) answerQuestion(msg *dns.Msg, question dns.Question) {
	serviceName, ok := s.serviceNameFromQuery(question.Name)
	if !ok {
		return
	}

	ctx := context.Background()

	switch question.Qtype {
	case dns.TypeA:
		for _, record := range s.resolver.GetDNSRecords(ctx, serviceName, dnsview.KindA) {
			ip := net.ParseIP(record.Target)
			if ip == nil {
				continue
			}
			// IPv6地址无法装入A记录，跳过
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			msg.Answer = append(msg.Answer, &dns.A{
				Hdr: dns.RR_Header{
					Name:   question.Name,
					Rrtype: dns.TypeA,
					Class:  dns.ClassINET,
					Ttl:    record.TTL,
				},
				A: ip4,
			})
		}
	case dns.TypeSRV:
		for _, record := range s.resolver.GetDNSRecords(ctx, serviceName, dnsview.KindSRV) {
			msg.Answer = append(msg.Answer, &dns.SRV{
				Hdr: dns.RR_Header{
					Name:   question.Name,
					Rrtype: dns.TypeSRV,
					Class:  dns.ClassINET,
					Ttl:    record.TTL,
				},
				Priority: uint16(record.Priority),
				Weight:   uint16(record.Weight),
				Port:     uint16(record.Port),
				Target:   dns.Fqdn(record.Target),
			})
		}
	}
}

// serviceNameFromQuery 从查询名中剥离域名后缀得到服务名。
// 支持SRV惯用的"_service._tcp."前缀。
func (s *DNSServer) serviceNameFromQuery(name string) (string, bool) {
	lower := strings.ToLower(dns.Fqdn(name))
	if !strings.HasSuffix(lower, s.suffix) {
		return "", false
	}

	head := strings.TrimSuffix(lower, s.suffix)
	if head == "" {
		return "", false
	}

	// _api._tcp形式的SRV查询取第一个label
	if strings.HasPrefix(head, "_") {
		parts := strings.SplitN(head, ".", 2)
		return strings.TrimPrefix(parts[0], "_"), true
	}

	// 普通形式要求服务名是单个label
	if strings.Contains(head, ".") {
		return "", false
	}
	return head, true
}
