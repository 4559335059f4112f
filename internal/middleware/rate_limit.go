package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ghibli-go/internal/logger"
)

// RateLimitMessage is returned with 429.
const RateLimitMessage = "Too many requests. Please try again later."

// RateLimiter 定义了限流存储的接口。
type RateLimiter interface {
	// Allow 记录 key 的一次请求, 返回是否放行以及被拒绝时建议的等待时间。
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// TrustedProxies 是可信反向代理的地址段。
type TrustedProxies []*net.IPNet

// ParseTrustedProxies 解析 IP 或 CIDR 列表。
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	proxies := make(TrustedProxies, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("无效的代理地址 '%s'", entry)
			}
			bits := 8 * net.IPv4len
			if ip.To4() == nil {
				bits = 8 * net.IPv6len
			}
			proxies = append(proxies, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("无效的代理地址段 '%s': %w", entry, err)
		}
		proxies = append(proxies, ipNet)
	}
	return proxies, nil
}

func (t TrustedProxies) contains(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, ipNet := range t {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP 返回用于限流的客户端地址。
// 直连地址不是可信代理时直接使用它; 否则从右向左取 X-Forwarded-For 中第一个非可信地址。
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.contains(peer) {
		return peer
	}

	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(value, ",")...)
	}
	leftmost := ""
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			break
		}
		if !t.contains(hop) {
			return hop
		}
		leftmost = hop
	}
	if leftmost != "" {
		return leftmost
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
		return realIP
	}
	return peer
}

// ClientIP 返回直连地址, 不信任任何转发头。
func ClientIP(r *http.Request) string {
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit 按客户端 IP 限流。限流存储出错时放行请求 (fail open) 并记录日志。
// 只有来自 trusted 的请求才会使用转发头中的客户端地址。
func RateLimit(limiter RateLimiter, trusted TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ip := trusted.ClientIP(r)
			allowed, retryAfter, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				logger.L().Errorw("限流检查失败, 放行请求", "remote", ip, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": RateLimitMessage})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
