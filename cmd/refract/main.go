// Command refract runs the stream inspection gateway: SRT, RTMP, and
// HTTP transport-stream ingest feeding per-stream demux pipelines, with
// normalized timestamps, RTP video output, and an HTTP/3 stats API.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/internal/api"
	"github.com/zsiec/refract/internal/certs"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/rtmp"
	"github.com/zsiec/refract/internal/srt"
	"github.com/zsiec/refract/internal/stream"
)

var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("REFRACT_LOG_LEVEL")),
	})))

	srtAddr := envOr("REFRACT_SRT_ADDR", ":6000")
	rtmpAddr := envOr("REFRACT_RTMP_ADDR", ":1935")
	apiAddr := envOr("REFRACT_API_ADDR", ":4443")
	rtpAddr := os.Getenv("REFRACT_RTP_ADDR") // empty disables RTP output

	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}

	slog.Info("refract starting",
		"version", version,
		"srt", srtAddr,
		"rtmp", rtmpAddr,
		"api", apiAddr,
		"rtp", rtpAddr,
		"cert_hash", cert.FingerprintBase64(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr := stream.NewManager(rtpAddr, nil)

	g, ctx := errgroup.WithContext(ctx)

	// Registry and caller are created after the errgroup so stream
	// handlers capture the errgroup-derived context and shut down when
	// any component fails.
	registry := ingest.NewRegistry(func(st *ingest.Stream, input io.Reader) {
		mgr.HandleIngest(ctx, st, input)
	})
	caller := srt.NewCaller(registry, nil)

	srtSrv := srt.NewServer(srtAddr, registry, nil)
	rtmpSrv := rtmp.NewServer(rtmpAddr, func(rs *rtmp.Stream) {
		mgr.HandleRTMP(ctx, rs)
	}, nil)

	apiSrv, err := api.NewServer(api.Config{
		Addr:     apiAddr,
		Cert:     cert,
		Manager:  mgr,
		Registry: registry,
		Caller:   caller,
	}, nil)
	if err != nil {
		slog.Error("failed to create api server", "error", err)
		os.Exit(1)
	}

	g.Go(func() error { return srtSrv.Run(ctx) })
	g.Go(func() error { return rtmpSrv.Run(ctx) })
	g.Go(func() error { return apiSrv.Run(ctx) })

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
