package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"byok-api/internal/logger"

	"golang.org/x/net/proxy"
)

// HTTP 连接池配置
const (
	DefaultMaxIdleConns          = 100
	DefaultMaxIdleConnsPerHost   = 20
	DefaultIdleConnTimeout       = 120 * time.Second
	DefaultResponseHeaderTimeout = 120 * time.Second
	DefaultTLSHandshakeTimeout   = 15 * time.Second
)

// ValidateProxyURL 验证代理 URL 格式
func ValidateProxyURL(proxyURL string) error {
	if proxyURL == "" {
		return fmt.Errorf("代理地址不能为空")
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("代理地址格式错误: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "socks5" {
		return fmt.Errorf("不支持的代理协议: %s (仅支持 http/https/socks5)", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("代理地址缺少主机名")
	}
	if parsed.Port() == "" {
		return fmt.Errorf("代理地址缺少端口")
	}
	return nil
}

// NewHTTPClient 创建上游 HTTP 客户端，httpProxy 为空时直连
// 代理配置无效时记录错误并回退为直连
func NewHTTPClient(httpProxy string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = DefaultMaxIdleConns
	transport.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	transport.IdleConnTimeout = DefaultIdleConnTimeout
	transport.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	transport.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	transport.ForceAttemptHTTP2 = true

	httpProxy = strings.TrimSpace(httpProxy)
	if httpProxy != "" {
		if err := ValidateProxyURL(httpProxy); err != nil {
			logger.Error("[摘要模型] 代理配置无效，使用直连: %v", err)
		} else {
			proxyURL, _ := url.Parse(httpProxy)
			if proxyURL.Scheme == "socks5" {
				dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
				if err != nil {
					logger.Error("[摘要模型] SOCKS5 代理配置失败: %v", err)
				} else {
					transport.Proxy = nil
					transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
						if cd, ok := dialer.(proxy.ContextDialer); ok {
							return cd.DialContext(ctx, network, addr)
						}
						return dialer.Dial(network, addr)
					}
				}
			} else {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}

	// 整体超时由调用方的 context 控制
	return &http.Client{Transport: transport}
}
