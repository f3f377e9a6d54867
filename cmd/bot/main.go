// Package main contains the entrypoint for the aulabot Telegram bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/aulabot/internal/announce"
	"github.com/edgard/aulabot/internal/answer"
	"github.com/edgard/aulabot/internal/bot"
	"github.com/edgard/aulabot/internal/bot/handlers"
	"github.com/edgard/aulabot/internal/bot/tasks"
	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/export"
	"github.com/edgard/aulabot/internal/gemini"
	"github.com/edgard/aulabot/internal/groupcache"
	"github.com/edgard/aulabot/internal/logger"
	"github.com/edgard/aulabot/internal/media"
	"github.com/edgard/aulabot/internal/moderation"
	"github.com/edgard/aulabot/internal/nlu"
	"github.com/edgard/aulabot/internal/session"
	"github.com/edgard/aulabot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes every component, runs the bot until ctx is done and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Storage.DatabasePath)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Storage.DatabasePath, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	httpClient := &http.Client{Timeout: time.Minute}

	var gen answer.Generator
	if cfg.Gemini.APIKey != "" {
		gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
		if err != nil {
			log.Error("Failed to initialize Gemini client", "error", err)
			return 1
		}
		gen = gemClient
	} else {
		log.Info("Gemini API key not set, generative answers disabled")
	}

	answerer := answer.New(store, gen, log)
	vocabulary, err := loadKnowledge(ctx, cfg, store, answerer, httpClient, log)
	if err != nil {
		log.Error("Failed to load knowledge base", "error", err)
		return 1
	}

	clock := clockwork.NewRealClock()
	messenger := telegram.NewMessenger(store, log)
	sessions := session.NewManager(clock, cfg.Session.Timeout)

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Store:    store,
		Sessions: sessions,
		Notifier: messenger,
		Messages: cfg.Messages,
	}
	sched, err := bot.NewScheduler(log, clock, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	cache := groupcache.New(clock, cfg.Cache.Cooldown, store, messenger, log)
	moderator := moderation.NewEngine(store, vocabulary, messenger, cache, cfg.Moderation, cfg.Messages, log)
	announcer := announce.NewEngine(store, sched, messenger, clock, cfg.Messages, log)
	compiler := export.NewCompiler(store, filepath.Join(cfg.Storage.BaseDir, "conversations"), cfg.Export.PartitionSize, log)

	hDeps := handlers.HandlerDeps{
		Logger:     log,
		Config:     cfg,
		Store:      store,
		Clock:      clock,
		Messenger:  messenger,
		Sessions:   sessions,
		Machine:    session.NewMachine(session.DefaultMaxItems),
		Cache:      cache,
		Moderation: moderator,
		Announcer:  announcer,
		Answerer:   answerer,
		Exporter:   compiler,
		Timer:      sched,
	}
	if cfg.Storage.ArchiveMedia {
		hDeps.Archiver = media.NewArchiver(messenger, cfg.Storage.BaseDir, httpClient, log)
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewDefaultHandler(hDeps)),
		tgbot.WithAllowedUpdates(tgbot.AllowedUpdates{"message", "edited_message", "callback_query", "my_chat_member"}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cfg.Telegram.BotInfo, err = tg.GetMe(ctx)
	if err != nil {
		log.Error("Failed to get bot info", "error", err)
		return 1
	}
	log.Info("Retrieved bot info", "bot_id", cfg.Telegram.BotInfo.ID, "bot_username", cfg.Telegram.BotInfo.Username)
	messenger.Bind(tg, cfg.Telegram.BotInfo.ID)

	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllHandlers(hDeps)); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}

	restored, err := announcer.Restore(ctx)
	if err != nil {
		log.Error("Failed to restore announcements", "error", err)
		return 1
	}
	log.Info("Announcements restored", "count", restored)

	app := bot.NewBot(log, store, tg, sched)

	log.Info("Starting bot...")
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// loadKnowledge refreshes the concept base from the configured sources,
// rebuilds the answer index and trains the relevance vocabulary.
func loadKnowledge(
	ctx context.Context,
	cfg *config.Config,
	store database.Store,
	answerer *answer.Answerer,
	client *http.Client,
	log *slog.Logger,
) (*nlu.Vocabulary, error) {
	if len(cfg.Concepts.Sources) > 0 {
		concepts, err := answer.NewLoader(client).Load(ctx, cfg.Concepts.Sources)
		if err != nil {
			return nil, err
		}
		if err := store.ReplaceConcepts(ctx, concepts); err != nil {
			return nil, err
		}
		log.Info("Concept base replaced", "concepts", len(concepts))
	}
	if err := answerer.Reload(ctx); err != nil {
		return nil, err
	}

	concepts, err := store.ListConcepts(ctx)
	if err != nil {
		return nil, err
	}
	vocabulary := nlu.NewVocabulary()
	for _, c := range concepts {
		vocabulary.Fit(c.Question, c.Summary)
		vocabulary.Fit(c.Answers...)
	}
	for _, path := range cfg.NLU.VocabularyFiles {
		if err := vocabulary.FitFile(path); err != nil {
			return nil, err
		}
	}
	log.Info("Vocabulary trained", "words", vocabulary.Len())
	return vocabulary, nil
}
