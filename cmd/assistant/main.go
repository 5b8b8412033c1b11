// Command assistant runs the VCell biomodel assistant HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/vcell-ai/assistant/agent"
	"github.com/vcell-ai/assistant/config"
	"github.com/vcell-ai/assistant/databases"
	"github.com/vcell-ai/assistant/embedders"
	"github.com/vcell-ai/assistant/knowledge"
	"github.com/vcell-ai/assistant/llms"
	"github.com/vcell-ai/assistant/logger"
	"github.com/vcell-ai/assistant/server"
	"github.com/vcell-ai/assistant/tools"
	"github.com/vcell-ai/assistant/vcelldb"
)

type cli struct {
	Config    string `short:"c" help:"Path to the YAML configuration file." type:"path"`
	Addr      string `short:"a" help:"Listen address, overrides the config file." placeholder:"HOST:PORT"`
	EnvFile   string `help:"Path to a .env file with credentials." default:".env"`
	LogLevel  string `help:"Log level: debug, info, warn, error." default:"info"`
	LogFormat string `help:"Log format: text or json." default:"text"`
}

func main() {
	var args cli
	kctx := kong.Parse(&args,
		kong.Name("assistant"),
		kong.Description("Natural-language assistant for the VCell biomodel database."))
	kctx.FatalIfErrorf(run(&args))
}

func run(args *cli) error {
	if err := config.LoadEnvFiles(args.EnvFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	level, err := logger.ParseLevel(args.LogLevel)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, args.LogFormat)
	log := logger.With("main")

	cfg, err := config.Load(args.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if args.Addr != "" {
		cfg.Server.Address = args.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := llms.NewOpenAIProviderFromConfig(&cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm provider: %w", err)
	}
	defer provider.Close()

	embedder, err := embedders.NewOpenAIEmbedderFromConfig(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	store, err := databases.NewQdrantStoreFromConfig(&cfg.Qdrant)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	defer store.Close()

	kb := knowledge.NewService(store, embedder, &cfg.KnowledgeBase)
	if result := kb.CreateCollection(ctx); result.Status != "success" {
		return fmt.Errorf("failed to prepare knowledge base collection: %s", result.Message)
	}
	log.Info("knowledge base ready", "collection", kb.Collection())

	vcell := vcelldb.NewClientFromConfig(&cfg.VCell)
	registry := tools.NewRegistry(vcell, kb, &cfg.KnowledgeBase)
	assistant := agent.New(provider, registry, vcell)

	srv := server.New(assistant, kb, vcell, &cfg.Server)
	log.Info("starting assistant", "model", provider.GetModelName())
	return srv.ListenAndServe(ctx)
}
