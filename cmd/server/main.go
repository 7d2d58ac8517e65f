// LAN file sharing server
//
// Features:
// - Anonymous and authenticated file sharing over the local network
// - JSON-document metadata catalog kept consistent with the storage tree
// - Ownership-based rename/delete authorization
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/lanshare/lanshare/internal/api"
	"github.com/lanshare/lanshare/internal/auth"
	"github.com/lanshare/lanshare/internal/catalog"
	"github.com/lanshare/lanshare/internal/config"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/fileops"
	"github.com/lanshare/lanshare/internal/logging"
	"github.com/lanshare/lanshare/internal/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("lanshare server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("storage", cfg.StorageRoot))

	// Open the metadata catalog and the user store
	cat, err := catalog.Open(filepath.Join(cfg.DataDir, "catalog.json"))
	if err != nil {
		logging.Fatal("catalog open failed", zap.Error(err))
	}
	users, err := auth.OpenStore(filepath.Join(cfg.DataDir, "users.json"))
	if err != nil {
		logging.Fatal("user store open failed", zap.Error(err))
	}
	logging.Info("stores opened",
		zap.Int("records", cat.Len()), zap.Int("users", users.Count()))

	tokens := auth.NewJWT(cfg.JWTSecret)

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	// Initialize the file operation service
	files, err := fileops.NewService(cfg.StorageRoot, cat, broadcaster)
	if err != nil {
		logging.Fatal("file service init failed", zap.Error(err))
	}

	srv := api.NewServer(files, users, tokens, broadcaster, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		httpServer.Close()
		metricsServer.Close()
	}()

	if ip := localIP(); ip != "" {
		logging.Info("reachable on the local network",
			zap.String("url", "http://"+ip+portOf(cfg.ListenAddr)))
	}

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

// localIP returns the machine's primary outbound interface address, so the
// startup log can print a URL other devices on the LAN can open.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

func portOf(listenAddr string) string {
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil || port == "" {
		return ""
	}
	return ":" + port
}
