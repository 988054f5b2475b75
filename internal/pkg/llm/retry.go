package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// APIError 携带 HTTP 状态码的接口错误
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d, code=%s, message=%s", e.Status, e.Code, e.Message)
}

// ErrModelUnavailable 重试耗尽后的终态错误
var ErrModelUnavailable = errors.New("model unavailable after retries")

// RetryPolicy 重试策略
// 每次失败后退避时间翻倍，直到 MaxDelay 封顶
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IsRetriable func(error) bool
	Sleep       func(time.Duration) // 可注入，便于测试
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   5 * time.Second,
		MaxDelay:    120 * time.Second,
		IsRetriable: IsRetriable,
		Sleep:       time.Sleep,
	}
}

// Do 按策略执行 fn，只对可重试错误退避重试
// 不可重试错误（请求构造问题）立即返回，重试耗尽返回 ErrModelUnavailable
func Do[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	sleep := policy.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	retriable := policy.IsRetriable
	if retriable == nil {
		retriable = IsRetriable
	}

	delay := policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !retriable(err) {
			return zero, err
		}

		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}

		klog.Warningf("调用异常（%v），将在 %v 后进行第 %d/%d 次重试", err, delay, attempt+1, policy.MaxAttempts)
		sleep(delay)
		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return zero, fmt.Errorf("%w: %v", ErrModelUnavailable, lastErr)
}

// IsRetriable 判断错误是否值得重试
// 传输类错误（连接中断、流截断、限流、服务端错误）可重试；
// 400/InvalidParameter 说明请求本身有结构问题，重试没有意义
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 429 || apiErr.Status >= 500 {
			return true
		}
		return false
	}

	msg := err.Error()
	if strings.Contains(msg, "status_code=400") ||
		strings.Contains(msg, "InvalidParameter") ||
		strings.Contains(msg, "content field is a required field") {
		return false
	}

	return true
}
