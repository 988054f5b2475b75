package search

import (
	"context"
	"net/url"
	"path"
	"strings"

	"k8s.io/klog/v2"
)

// docSuffixByContentType 把内容类型映射到文档后缀
func docSuffixByContentType(contentType string) (string, bool) {
	switch contentType {
	case "application/pdf":
		return ".pdf", true
	case "application/msword":
		return ".doc", true
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx", true
	case "application/vnd.ms-excel":
		return ".xls", true
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx", true
	case "application/vnd.ms-powerpoint":
		return ".ppt", true
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return ".pptx", true
	}
	return "", false
}

// DetectDocument 判断 URL 指向的是否为文档类资源
// 优先看探测到的 Content-Type；octet-stream 或探测失败时退回文件名与 URL 后缀
func (s *Service) DetectDocument(ctx context.Context, rawURL string) (isDoc bool, ext string) {
	contentType, filename, err := s.fetcher.ProbeContentType(ctx, rawURL)
	if err != nil {
		klog.V(6).Infof("内容类型探测失败，按 URL 后缀判断: url=%s, err=%v", rawURL, err)
		return suffixOf(rawURL)
	}

	if suffix, ok := docSuffixByContentType(contentType); ok {
		return true, suffix
	}

	if contentType == "application/octet-stream" {
		// 二进制流不可直接定性，依次看下载文件名与 URL 本身
		if isDoc, ext = suffixOfName(filename); isDoc {
			return true, ext
		}
		return suffixOf(rawURL)
	}

	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "html") ||
		strings.Contains(contentType, "xml") || strings.Contains(contentType, "json") {
		return false, ""
	}

	return suffixOf(rawURL)
}

func suffixOf(rawURL string) (bool, string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, ""
	}
	return suffixOfName(path.Base(parsed.Path))
}

func suffixOfName(name string) (bool, string) {
	ext := strings.ToLower(path.Ext(name))
	for _, suffix := range docSuffixes {
		if ext == suffix {
			return true, ext
		}
	}
	return false, ""
}

// summarizeDocument 用长文档模型归纳文档要点
// 正文是二进制格式无法直接投喂，给模型的是标题、来源摘要与链接，要求保守概括
func (s *Service) summarizeDocument(ctx context.Context, title, snippet, rawURL string) (string, error) {
	systemPrompt := "你是资料整理助手。根据给出的文档标题、摘要与链接，概括该文档可能包含的核心信息。" +
		"只基于已给出的摘要内容归纳，不要编造文档里不存在的细节。输出不超过 300 字。"
	userPrompt := "标题: " + title + "\n摘要: " + snippet + "\n链接: " + rawURL

	summary, err := s.gateway.Generate(ctx, s.longDocModel, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
