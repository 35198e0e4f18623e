package eventbus

import (
	"fmt"
	"strings"
)

// key expression 形如 /demo/example/hello，以 / 分段
// 订阅 pattern 中 * 匹配一个分段，** 匹配零个或多个分段
const (
	keySeparator   = "/"
	singleWildcard = "*"
	multiWildcard  = "**"
)

// ValidatePublishKeyExpr 发布用的 key expression 不能为空，也不能包含通配符
func ValidatePublishKeyExpr(keyExpr string) error {
	if strings.Trim(keyExpr, keySeparator) == "" {
		return fmt.Errorf("empty key expression %q", keyExpr)
	}
	for _, seg := range splitKeyExpr(keyExpr) {
		if strings.Contains(seg, singleWildcard) {
			return fmt.Errorf("key expression %q must not contain wildcards", keyExpr)
		}
	}
	return nil
}

// MatchKeyExpr 判断 key 是否匹配 pattern
func MatchKeyExpr(pattern, key string) bool {
	return matchSegments(splitKeyExpr(pattern), splitKeyExpr(key))
}

func matchSegments(pattern, key []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		if head == multiWildcard {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchSegments(rest, key[i:]) {
					return true
				}
			}
			return false
		}
		if len(key) == 0 {
			return false
		}
		if head != singleWildcard && head != key[0] {
			return false
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}

func splitKeyExpr(keyExpr string) []string {
	trimmed := strings.Trim(keyExpr, keySeparator)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, keySeparator)
}

// toNATSSubject /demo/example/** -> demo.example.>
// ** 出现在中间时 NATS 无法表达，截断为 >，由客户端再用 MatchKeyExpr 过滤
// > 至少匹配一个 token，** 匹配零个分段的情况由 natsSubjects 补上
func toNATSSubject(keyExpr string) string {
	segs := splitKeyExpr(keyExpr)
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg == multiWildcard {
			out = append(out, ">")
			break
		}
		out = append(out, seg)
	}
	return strings.Join(out, ".")
}

// natsSubjects 订阅 pattern 需要的 subject；pattern 匹配 > 之前的前缀本身时加订前缀
func natsSubjects(pattern string) []string {
	subject := toNATSSubject(pattern)
	prefix, ok := strings.CutSuffix(subject, ".>")
	if !ok || !MatchKeyExpr(pattern, fromNATSSubject(prefix)) {
		return []string{subject}
	}
	return []string{subject, prefix}
}

// fromNATSSubject demo.example.hello -> /demo/example/hello
// 分段里的 . 会被拆成两段，这类 key 由 validateNATSKeyExpr 拒绝
func fromNATSSubject(subject string) string {
	return keySeparator + strings.ReplaceAll(subject, ".", keySeparator)
}

// validateNATSKeyExpr NATS subject 以 . 分 token，不允许空白；> 只能由 ** 生成
func validateNATSKeyExpr(keyExpr string) error {
	for _, seg := range splitKeyExpr(keyExpr) {
		if seg == "" || strings.ContainsAny(seg, ". \t\r\n>") {
			return fmt.Errorf("key expression %q cannot be mapped to a nats subject", keyExpr)
		}
	}
	return nil
}

// toMQTTFilter /demo/example/** -> /demo/example/#，* -> +
func toMQTTFilter(keyExpr string) string {
	segs := splitKeyExpr(keyExpr)
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg == multiWildcard {
			out = append(out, "#")
			break
		}
		if seg == singleWildcard {
			seg = "+"
		}
		out = append(out, seg)
	}
	return keySeparator + strings.Join(out, keySeparator)
}

// toRedisPattern 转换为 PSUBSCRIBE glob：* -> *，** 连同它前面的 / 折叠成 *，
// 这样 /demo/example/** 对应 /demo/example* 也能匹配 /demo/example 本身。
// glob 的 * 会跨越 /，精确语义由 MatchKeyExpr 保证
func toRedisPattern(keyExpr string) string {
	var b strings.Builder
	for _, seg := range splitKeyExpr(keyExpr) {
		switch seg {
		case multiWildcard:
			b.WriteString("*")
		case singleWildcard:
			b.WriteString(keySeparator + "*")
		default:
			b.WriteString(keySeparator + redisGlobEscaper.Replace(seg))
		}
	}
	if b.Len() == 0 {
		return keySeparator
	}
	return b.String()
}

var redisGlobEscaper = strings.NewReplacer(`\`, `\\`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `*`, `\*`)
