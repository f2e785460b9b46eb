package fetcher

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// CheckProxies dials target through every proxy and returns the ones that
// answered, in their original order. SOCKS5 proxies are exercised end to
// end; HTTP proxies are checked for a reachable listener.
func CheckProxies(ctx context.Context, proxies []string, target string, timeout time.Duration) []string {
	alive := make([]bool, len(proxies))
	var wg sync.WaitGroup
	for i, raw := range proxies {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			if err := checkProxy(ctx, raw, target, timeout); err != nil {
				logrus.Warnf("Proxy %s failed health check: %v", raw, err)
				return
			}
			alive[i] = true
		}(i, raw)
	}
	wg.Wait()

	var result []string
	for i, ok := range alive {
		if ok {
			result = append(result, proxies[i])
		}
	}
	logrus.Infof("Proxy check: %d/%d proxies reachable", len(result), len(proxies))
	return result
}

func checkProxy(ctx context.Context, raw, target string, timeout time.Duration) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	base := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	switch u.Scheme {
	case "socks5":
		dialer, err := proxy.FromURL(u, base)
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			conn, err = cd.DialContext(dctx, "tcp", target)
		} else {
			conn, err = dialer.Dial("tcp", target)
		}
		if err != nil {
			return err
		}
	default:
		conn, err = base.DialContext(dctx, "tcp", u.Host)
		if err != nil {
			return err
		}
	}
	return conn.Close()
}

// TargetAddress returns host:port of an API base URL for proxy checks
func TargetAddress(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
