package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/segmentator/internal/config"
	"github.com/Brownie44l1/segmentator/internal/handlers"
	"github.com/Brownie44l1/segmentator/internal/logging"
	"github.com/Brownie44l1/segmentator/internal/model"
	"github.com/Brownie44l1/segmentator/internal/pipeline"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func main() {
	cfg := config.FromEnv()
	cfg.Verbose = os.Getenv("VERBOSE") != ""
	log := logging.New(os.Stderr, cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	engine, err := model.NewEngine(&cfg, log)
	if err != nil {
		log.Error("Failed to initialize inference engine", "error", err)
		os.Exit(1)
	}
	invoker := model.NewInvoker(&cfg, engine, log)
	defer invoker.Close()

	uploadDir, err := os.MkdirTemp("", "segmentator-uploads-")
	if err != nil {
		log.Error("Failed to create upload directory", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(uploadDir)

	handler := handlers.NewHandler(pipeline.New(invoker, log), uploadDir, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/predict", enableCORS(handler.Predict))
	mux.HandleFunc("/predict/image", enableCORS(handler.PredictFromImage))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Shutdown incomplete", "error", err)
		}
	}()

	log.Info("Server starting", "port", port, "engine", cfg.Engine, "results", cfg.ResultsRoot)
	log.Info("Endpoints",
		"health", "GET /health",
		"predict", "POST /predict (JSON paths on the server)",
		"image", "POST /predict/image?task=<id> (multipart field 'image')")
	log.Info("Upload test: curl -X POST -F image=@ct.nii.gz -o seg.nii.gz 'http://localhost:" + port + "/predict/image?task=251'")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server failed", "error", err)
		return
	}
	log.Info("Server stopped")
}
