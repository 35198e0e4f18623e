package eventbus

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Locator 多节点模式下的一个对端地址
type Locator struct {
	Scheme string // 可能为空
	Host   string
	Port   int
}

// HostPort 返回 host:port
func (l Locator) HostPort() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// URL 返回 scheme://host:port，Scheme 为空时使用 defaultScheme
func (l Locator) URL(defaultScheme string) string {
	scheme := l.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	return scheme + "://" + l.HostPort()
}

// ParseLocator 解析单个定位器，支持 nats://h:p、tcp/h:p（zenoh 风格）和 h:p 三种写法
func ParseLocator(s string) (Locator, error) {
	var loc Locator
	rest := strings.TrimSpace(s)

	if i := strings.Index(rest, "://"); i >= 0 {
		loc.Scheme, rest = rest[:i], rest[i+3:]
	} else if i := strings.Index(rest, "/"); i >= 0 {
		loc.Scheme, rest = rest[:i], rest[i+1:]
	}

	host, portStr, err := net.SplitHostPort(rest)
	if err != nil {
		return Locator{}, fmt.Errorf("invalid locator %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Locator{}, fmt.Errorf("invalid locator %q: bad port %q", s, portStr)
	}
	if host == "" {
		return Locator{}, fmt.Errorf("invalid locator %q: empty host", s)
	}

	loc.Host = host
	loc.Port = port
	return loc, nil
}

// ParseLocators 解析定位器列表，任何一个非法即整体失败
func ParseLocators(raw []string) ([]Locator, error) {
	locators := make([]Locator, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		loc, err := ParseLocator(s)
		if err != nil {
			return nil, err
		}
		locators = append(locators, loc)
	}
	return locators, nil
}

// locatorURLs 把定位器转换为带 scheme 的地址，用于 NATS / MQTT
func locatorURLs(raw []string, defaultScheme string) ([]string, error) {
	locators, err := ParseLocators(raw)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(locators))
	for _, loc := range locators {
		// zenoh 风格的 tcp/h:p 对 NATS 来说只是传输层描述
		if defaultScheme == defaultNATSScheme && loc.Scheme == "tcp" {
			loc.Scheme = ""
		}
		urls = append(urls, loc.URL(defaultScheme))
	}
	return urls, nil
}

// locatorHostPorts 把定位器转换为 host:port，用于 Kafka / Redis
func locatorHostPorts(raw []string) ([]string, error) {
	locators, err := ParseLocators(raw)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(locators))
	for _, loc := range locators {
		addrs = append(addrs, loc.HostPort())
	}
	return addrs, nil
}
