package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sekha-ai/sekha/pkg/assembler"
	"github.com/sekha-ai/sekha/pkg/config"
	"github.com/sekha-ai/sekha/pkg/embedder"
	"github.com/sekha-ai/sekha/pkg/httpapi"
	"github.com/sekha-ai/sekha/pkg/intelligence"
	"github.com/sekha-ai/sekha/pkg/metrics"
	"github.com/sekha-ai/sekha/pkg/queue"
	"github.com/sekha-ai/sekha/pkg/repository"
	"github.com/sekha-ai/sekha/pkg/retrieval"
	"github.com/sekha-ai/sekha/pkg/scheduler"
	"github.com/sekha-ai/sekha/pkg/sekhalog"
	"github.com/sekha-ai/sekha/pkg/store"
	"github.com/sekha-ai/sekha/pkg/summarization"
	"github.com/sekha-ai/sekha/pkg/summarizer"
	"github.com/sekha-ai/sekha/pkg/vectorstore"
)

// Exit codes per the external interface contract: 0 normal, 2 config
// invalid, 3 port already bound, 4 a required dependency was unreachable at
// --strict startup, 130 SIGINT/SIGTERM after a graceful drain.
const (
	exitOK             = 0
	exitConfigInvalid  = 2
	exitPortInUse      = 3
	exitDependencyDown = 4
	exitInterrupted    = 130
)

var strictStartup bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP + tool-call server",
	RunE: func(cmd *cobra.Command, args []string) error {
		os.Exit(runServe())
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&strictStartup, "strict", false, "fail startup if the vector store or embedder cannot be reached")
}

func runServe() int {
	loader, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sekha: invalid configuration:", err)
		return exitConfigInvalid
	}
	cfg := loader.Current()

	logger := sekhalog.New(os.Stdout, sekhalog.Format(cfg.Log.Format), cfg.Log.Level)
	loader.OnChange(func(_ *config.Config) {
		logger.Info("configuration reloaded")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := cfg.Database.URL
	if dbPath == "" {
		dataDir, derr := config.DataDir()
		if derr != nil {
			fmt.Fprintln(os.Stderr, "sekha: resolve data dir:", derr)
			return exitConfigInvalid
		}
		dbPath = filepath.Join(dataDir, "sekha.db")
	}

	st, err := store.Open(ctx, store.Config{Path: dbPath, MaxConnections: cfg.Database.MaxConnections, Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, "sekha: open store:", err)
		return exitDependencyDown
	}
	defer st.Close()

	embed := embedder.New(embedder.Config{BaseURL: cfg.Embedder.URL, Model: cfg.Embedder.Model, Logger: logger})
	summ := summarizer.New(summarizer.Config{BaseURL: cfg.Summarizer.URL, Model: cfg.Summarizer.Model, Logger: logger})

	vecs, vecCloser, err := openVectorStore(ctx, cfg, st, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sekha: open vector store:", err)
		return exitDependencyDown
	}
	defer vecCloser()

	if strictStartup {
		if err := probeDependencies(ctx, vecs, embed); err != nil {
			fmt.Fprintln(os.Stderr, "sekha: dependency unreachable at startup:", err)
			return exitDependencyDown
		}
	}

	metricsReg := metrics.New()

	q := queue.New(queue.Config{Logger: logger}, embedHandler(embed, vecs, st), st)
	q.Start(ctx)

	repo := repository.New(repository.Config{Store: st, Queue: q, Vectors: vecs, AutoEmbed: cfg.Features.AutoEmbed, Logger: logger})
	retr := retrieval.New(retrieval.Config{Store: st, Vectors: vecs, Embedder: embed, Logger: logger})
	asm := assembler.New(assembler.DefaultWeights, assembler.DefaultBudget)

	var summEngine *summarization.Engine
	if cfg.Features.SummarizationEnabled {
		summEngine = summarization.New(summarization.Config{Store: st, Summarizer: summ, Embedder: embed, Vectors: vecs, Model: cfg.Summarizer.Model, Logger: logger})
	}
	intel := intelligence.New(intelligence.Config{Store: st, Summarizer: summ})

	sched := scheduler.New(scheduler.Config{Store: st, Queue: q, Vectors: vecs, Summarization: summEngine, Metrics: metricsReg, Logger: logger})
	sched.Start(ctx)
	defer sched.Stop()

	server := httpapi.New(httpapi.Config{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		APIKey:          cfg.Server.APIKey,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		RateRPS:         cfg.RateLimit.RPS,
		RateBurst:       cfg.RateLimit.Burst,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpapi.Deps{
		Store: st, Repository: repo, Retrieval: retr, Assembler: asm,
		Summarization: summEngine, Intelligence: intel, Queue: q,
		Metrics: metricsReg, Logger: logger,
	})

	errCh := server.Start()
	select {
	case err := <-errCh:
		if err == nil {
			return exitOK
		}
		if isAddrInUse(err) {
			fmt.Fprintln(os.Stderr, "sekha: address already in use:", err)
			return exitPortInUse
		}
		fmt.Fprintln(os.Stderr, "sekha: server error:", err)
		return 1
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
		return exitInterrupted
	}
}

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

func openVectorStore(ctx context.Context, cfg *config.Config, st *store.Store, logger sekhalog.Logger) (vectorstore.Store, func(), error) {
	if cfg.VectorStore.URL != "" {
		vs := vectorstore.NewHTTPStore(vectorstore.HTTPStoreConfig{BaseURL: cfg.VectorStore.URL, Collection: cfg.VectorStore.Collection, Logger: logger})
		return vs, func() { vs.Close() }, nil
	}
	vs := vectorstore.NewEmbedded(vectorstore.EmbeddedConfig{})
	if err := vs.Bootstrap(ctx, vectorstore.NewStoreSink(st)); err != nil {
		return nil, nil, err
	}
	return vs, func() { vs.Close() }, nil
}

func probeDependencies(ctx context.Context, vecs vectorstore.Store, embed embedder.Embedder) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := vecs.Ping(probeCtx); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if _, err := embed.Dimension(probeCtx); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	return nil
}

// embedHandler embeds a message's content and upserts it into the vector
// store with the denormalized filter fields spec.md §3's vector record
// data model requires on every record: conversation_id, role, label,
// folder, importance_score, created_at_epoch. The owning conversation and
// message are loaded fresh here rather than carried on the Job so the
// metadata reflects the latest label/folder/importance at embed time.
func embedHandler(embed embedder.Embedder, vecs vectorstore.Store, st *store.Store) queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		vec, err := embed.Embed(ctx, job.Content)
		if err != nil {
			return err
		}
		md := map[string]string{"conversation_id": job.ConversationID}
		if conv, cerr := st.GetConversation(ctx, job.ConversationID); cerr == nil {
			md["label"] = conv.Label
			md["folder"] = conv.Folder
			md["importance_score"] = strconv.Itoa(conv.ImportanceScore)
		}
		if msgs, merr := st.GetMessagesByID(ctx, []string{job.MessageID}); merr == nil && len(msgs) == 1 {
			md["role"] = string(msgs[0].Role)
			md["created_at_epoch"] = strconv.FormatInt(msgs[0].Timestamp.Unix(), 10)
		}
		return vecs.Upsert(ctx, job.MessageID, vec, md)
	}
}
