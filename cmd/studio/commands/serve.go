package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/dubstudio/internal/api"
	"github.com/satindergrewal/dubstudio/internal/job"
	"github.com/satindergrewal/dubstudio/internal/metrics"
	"github.com/satindergrewal/dubstudio/internal/recombine"
	"github.com/satindergrewal/dubstudio/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and live monitor",
	Long: `Serve the studio operations as background jobs.

Endpoints:
  POST   /api/extract            multipart "video" upload
  POST   /api/merge              {"segments": [...], "total_duration": 42}
  POST   /api/replace            {"video_url": "...", "audio_url": "..."}
  POST   /api/dub                {"video_url": "...", "segments": [...]}
  GET    /api/jobs[/{id}]        status and progress
  GET    /api/jobs/{id}/result   download once
  DELETE /api/jobs/{id}          cancel
  GET    /stream, POST /offer    live monitor (MP3, WebRTC)
  GET    /metrics                Prometheus`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := globalConfig.Port
		if servePort > 0 {
			port = servePort
		}
		return serve(port)
	},
}

var servePort int

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides config)")
}

func serve(port int) error {
	cfg := globalConfig

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Println("dubstudio starting up...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// Live monitor: recombined audio fanned out to listeners
	var (
		monitor   recombine.Monitor
		broadcast *stream.Broadcaster
		webrtcH   *stream.WebRTCHandler
		streamH   http.Handler
	)
	if cfg.Monitor {
		broadcast = stream.NewBroadcaster()
		monitor = broadcast
		webrtcH = stream.NewWebRTCHandler(broadcast)
		defer webrtcH.Close()
		streamH = stream.NewHTTPHandler(broadcast, cfg.FFmpeg)
		log.Println("monitor enabled on /stream and /offer")
	}

	s := newStudio(cfg, monitor, m)
	log.Printf("recorder output: %s", s.tools.RecordingMimeType(ctx))

	jobs := job.NewManager(cfg.Workers, m)
	jobs.Retain(cfg.ResultTTL)
	defer jobs.Stop()

	router := api.NewRouter(api.Deps{
		Jobs:        jobs,
		Extractor:   s.extractor,
		Merger:      s.compositor,
		Replacer:    s.recombiner,
		Dubber:      s.dubber,
		Monitor:     broadcast,
		Stream:      streamH,
		WebRTC:      webrtcH,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
		MaxUpload:   int64(cfg.MaxUploadMB) << 20,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on :%d (%d workers, %d Hz, %d fps)", port, cfg.Workers, cfg.SampleRate, cfg.FrameRate)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
