package search

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"k8s.io/klog/v2"
)

const userAgent = "Mozilla/5.0 (compatible; PolyMindBot/1.0)"

// maxFetchBytes 单页抓取上限，超长网页截断即可，不影响摘要质量
const maxFetchBytes = 4 * 1024 * 1024

// Fetcher 网页抓取器，负责下载与字符集归一
type Fetcher struct {
	client *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch 下载页面正文并转成 UTF-8
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	charset := charsetOf(resp.Header.Get("Content-Type"), raw)
	text, err := decodeCharset(raw, charset)
	if err != nil {
		klog.V(6).Infof("字符集转换失败，按原始字节处理: url=%s, charset=%s, err=%v", url, charset, err)
		return string(raw), nil
	}
	return text, nil
}

// ProbeContentType 探测 URL 的实际内容类型
// 先 HEAD，被拒绝或不可用时退化为 GET 只取响应头
func (f *Fetcher) ProbeContentType(ctx context.Context, url string) (contentType, filename string, err error) {
	for _, method := range []string{"HEAD", "GET"} {
		req, reqErr := http.NewRequestWithContext(ctx, method, url, nil)
		if reqErr != nil {
			return "", "", fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, doErr := f.client.Do(req)
		if doErr != nil {
			err = doErr
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusForbidden {
			err = fmt.Errorf("probe %s got status %d", method, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", "", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
		}

		mediaType := resp.Header.Get("Content-Type")
		if idx := strings.Index(mediaType, ";"); idx >= 0 {
			mediaType = mediaType[:idx]
		}
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))

		name := ""
		if cd := resp.Header.Get("Content-Disposition"); cd != "" {
			if _, params, parseErr := mime.ParseMediaType(cd); parseErr == nil {
				name = params["filename"]
			}
		}
		return mediaType, name, nil
	}
	return "", "", fmt.Errorf("content type probe failed: %w", err)
}

// charsetOf 综合响应头与页面 meta 判断字符集
func charsetOf(contentType string, body []byte) string {
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		if cs := params["charset"]; cs != "" {
			return strings.ToLower(cs)
		}
	}
	// 只在开头一段里找 meta 声明，足够覆盖正常页面
	head := strings.ToLower(string(body[:min(len(body), 2048)]))
	for _, marker := range []string{`charset="`, `charset=`} {
		idx := strings.Index(head, marker)
		if idx < 0 {
			continue
		}
		rest := head[idx+len(marker):]
		end := strings.IndexAny(rest, `"' >/;`)
		if end < 0 {
			end = len(rest)
		}
		if cs := strings.TrimSpace(rest[:end]); cs != "" {
			return cs
		}
	}
	return "utf-8"
}

// decodeCharset 把 GBK 系编码统一按 GB18030 解码，GB18030 是 GBK/GB2312 的超集
func decodeCharset(raw []byte, charset string) (string, error) {
	switch charset {
	case "gbk", "gb2312", "gb18030":
		decoded, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), raw)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	default:
		return string(raw), nil
	}
}
