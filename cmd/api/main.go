// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/simonlevelai/askeve-core/internal/agents"
	"github.com/simonlevelai/askeve-core/internal/config"
	"github.com/simonlevelai/askeve-core/internal/escalation"
	"github.com/simonlevelai/askeve-core/internal/failover"
	"github.com/simonlevelai/askeve-core/internal/flow"
	"github.com/simonlevelai/askeve-core/internal/handler"
	"github.com/simonlevelai/askeve-core/internal/middleware"
	natsclient "github.com/simonlevelai/askeve-core/internal/nats"
	"github.com/simonlevelai/askeve-core/internal/orchestrator"
	"github.com/simonlevelai/askeve-core/internal/provider"
	"github.com/simonlevelai/askeve-core/internal/state"
	"github.com/simonlevelai/askeve-core/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	convStore := natsclient.NewStore(natsClient)
	if err := convStore.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Outbound escalation delivery
	notifier := escalation.NewNotifier(cfg.EscalationWebhookURL, convStore, log, cfg.EscalationMaxElapsed)

	// Provider tiers, in failover priority order
	var tiers []failover.Tier
	if cfg.AnthropicAPIKey != "" {
		anthropicProvider, err := provider.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			log.Warn("failed to create Anthropic provider", zap.Error(err))
		} else {
			tiers = append(tiers, failover.Tier{Name: "anthropic", Generator: anthropicProvider})
		}
	}
	if cfg.OpenAIAPIKey != "" {
		openaiProvider, err := provider.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			log.Warn("failed to create OpenAI provider", zap.Error(err))
		} else {
			tiers = append(tiers, failover.Tier{Name: "openai", Generator: openaiProvider})
		}
	}
	if len(tiers) == 0 {
		log.Warn("no LLM providers configured, every request will use the emergency tier")
	}

	emergency := failover.Tier{
		Name:      "emergency",
		Generator: provider.NewStaticProvider("emergency", flow.EmergencyTierText),
	}

	providers := failover.NewManager(failover.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		RequestTimeout:   cfg.ProviderTimeout,
		SLALimits: map[failover.RequestType]time.Duration{
			failover.RequestDetection: cfg.DetectionSLALimit,
			failover.RequestCrisis:    cfg.CrisisSLALimit,
			failover.RequestGeneral:   cfg.GeneralSLALimit,
		},
	}, tiers, emergency, log)

	providers.SetEscalationFunc(func(ctx context.Context, req failover.Request) {
		notice := escalation.Notice{
			EscalationID:     uuid.Must(uuid.NewV7()).String(),
			Severity:         "high",
			Urgency:          "immediate",
			UserID:           "system",
			Timestamp:        time.Now().UTC(),
			Summary:          fmt.Sprintf("all LLM providers exhausted for %s request", req.Type),
			RequiresCallback: true,
		}
		if err := notifier.Notify(ctx, notice); err != nil {
			log.Error("provider exhaustion escalation failed", zap.Error(err))
		}
	})

	// Agent orchestration
	chatManager := orchestrator.NewChatManager(orchestrator.Config{
		CallTimeout: cfg.AgentCallTimeout,
	}, log)

	safetyAnalyzer := agents.NewKeywordSafetyAnalyzer()
	for _, a := range []orchestrator.Agent{
		agents.NewSafetyAgent("safety-agent", safetyAnalyzer),
		agents.NewContentAgent("content-agent", agents.NewLibrarySearcher(contentLibrary())),
		agents.NewEscalationAgent("escalation-agent", notifier),
	} {
		if err := chatManager.RegisterAgent(a); err != nil {
			log.Error("failed to register agent", zap.String("agent_id", a.ID()), zap.Error(err))
			os.Exit(1)
		}
	}

	// Conversation state
	states := state.NewManager(state.Config{
		SessionTimeout: cfg.SessionTimeout,
		HistoryLimit:   cfg.HistoryLimit,
	}, convStore, log)
	states.StartSweeper(cfg.SweepInterval)

	// Flow engine
	engine := flow.NewEngine(flow.Config{
		DisambiguationThreshold: cfg.DisambiguationThreshold,
		SafetyCheckTimeout:      cfg.SafetyCheckTimeout,
	}, states, chatManager, safetyAnalyzer, notifier, log)

	engine.RegisterHandler(flow.NewHealthInformationHandler(chatManager, providers))
	engine.RegisterHandler(flow.NewSymptomCheckerHandler(providers))
	engine.RegisterHandler(flow.NewScreeningInfoHandler(chatManager))
	engine.RegisterHandler(flow.NewSupportServiceHandler())
	engine.RegisterHandler(flow.NewEndConversationHandler())

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, providers, chatManager)
	chatHandler := handler.NewChatHandler(engine, states, convStore, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", chatHandler.State)
			r.Get("/messages", chatHandler.History)

			r.With(middleware.TurnRateLimit(cfg.RateLimitRequests/4+1, cfg.RateLimitWindow)).
				Post("/turns", chatHandler.Turn)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	states.Stop()

	log.Info("server stopped")
}

// contentLibrary seeds the vetted content the content agent can cite. Every
// entry carries a source so responses never present unattributed medical
// information.
func contentLibrary() []agents.LibraryEntry {
	return []agents.LibraryEntry{
		{
			Keywords:  []string{"ovarian", "cancer", "symptoms", "bloating"},
			Content:   "Common symptoms of ovarian cancer include persistent bloating, feeling full quickly, pelvic or abdominal pain, and needing to urinate more often. If you have had any of these regularly for three weeks or more, speak to your GP.",
			Source:    "NHS",
			SourceURL: "https://www.nhs.uk/conditions/ovarian-cancer/symptoms/",
			Category:  "cancer_symptoms",
		},
		{
			Keywords:  []string{"cervical", "screening", "smear", "test"},
			Content:   "Cervical screening checks the health of your cervix and helps find any abnormal changes early. It is offered to women and people with a cervix aged 25 to 64, usually every three to five years.",
			Source:    "NHS",
			SourceURL: "https://www.nhs.uk/conditions/cervical-screening/",
			Category:  "screening",
		},
		{
			Keywords:  []string{"breast", "cancer", "symptoms", "lump"},
			Content:   "See a GP if you notice a new lump or area of thickened tissue in either breast, a change in size or shape, skin dimpling, or discharge from either nipple. Most breast lumps are not cancerous, but it is important to get checked.",
			Source:    "NHS",
			SourceURL: "https://www.nhs.uk/conditions/breast-cancer-in-women/symptoms/",
			Category:  "cancer_symptoms",
		},
		{
			Keywords:  []string{"bowel", "cancer", "screening", "fit"},
			Content:   "Bowel cancer screening uses a home test kit (FIT) to check a small stool sample for blood. Everyone aged 50 to 74 registered with a GP is sent a kit every two years.",
			Source:    "NHS",
			SourceURL: "https://www.nhs.uk/conditions/bowel-cancer-screening/",
			Category:  "screening",
		},
		{
			Keywords:  []string{"menopause", "hrt", "hot", "flushes"},
			Content:   "Menopause symptoms include hot flushes, night sweats, difficulty sleeping, low mood and anxiety. Hormone replacement therapy (HRT) is the main treatment; talk to your GP about whether it is right for you.",
			Source:    "NHS",
			SourceURL: "https://www.nhs.uk/conditions/menopause/",
			Category:  "health_information",
		},
	}
}
