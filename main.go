package main

import (
	"flag"

	"github.com/polymind/polymind/config"
	"github.com/polymind/polymind/internal/eventbus"
	"github.com/polymind/polymind/internal/handler"
	"github.com/polymind/polymind/internal/knowledge"
	"github.com/polymind/polymind/internal/meeting"
	"github.com/polymind/polymind/internal/pkg/llm"
	"github.com/polymind/polymind/internal/role"
	"github.com/polymind/polymind/internal/router"
	"github.com/polymind/polymind/internal/search"
	"github.com/polymind/polymind/internal/service/sessions"
	"k8s.io/klog/v2"
)

// maxConcurrentSessions 同时执行的研究会话上限
// 每个会话都是长链路 LLM 调用，并发太高会撞上游限流
const maxConcurrentSessions = 2

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg := config.GetConfig()

	// 搜索提供方缺凭据时服务仍可启动，工具调用退化为空结果
	provider, err := search.NewProvider(cfg)
	if err != nil {
		klog.Warningf("搜索提供方不可用: %v", err)
		provider = nil
	}

	bus := eventbus.NewBus()
	registry := sessions.NewRegistry()

	// 每个会话独享客户端与检索缓存：缓存随会话生灭，token 节流互不干扰
	engineFactory := func(notifier meeting.Notifier) sessions.Engine {
		client := llm.NewClient(cfg, nil)
		var executor llm.ToolExecutor
		if provider != nil {
			service := search.NewService(cfg, provider, search.NewCache(), client)
			client.SetExecutor(service)
			executor = service
		}
		return meeting.NewEngine(cfg, client, executor,
			knowledge.NewCurator(client),
			role.NewFactory(client, cfg.Meeting.RoleCount),
			meeting.EngineOptions{
				Notifier: notifier,
				Sink:     meeting.NewChunkSink(notifier),
			})
	}

	runner, err := sessions.NewRunner(maxConcurrentSessions, registry, bus, engineFactory)
	if err != nil {
		klog.Fatalf("会话执行器初始化失败: %v", err)
	}
	defer runner.Stop()

	r := router.Setup(cfg, handler.NewResearchHandler(registry, runner, bus))

	addr := ":" + cfg.Server.Port
	klog.Infof("polymind 服务启动: %s", addr)
	if err := r.Run(addr); err != nil {
		klog.Fatalf("服务启动失败: %v", err)
	}
}
