package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pasteinliner/internal/sidecar"
	"pasteinliner/resolve"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image resolution side-channel",
	Long: `Serve exposes the in-process fetcher over HTTP so interceptors in other
processes can resolve cross-origin images:

  POST /resolve  {"type":"FETCH_IMAGE_TO_DATAURL","urls":[...],"origin":"..."}
  GET  /ping`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Sidecar.Addr
	if flagServeAddr != "" {
		addr = flagServeAddr
	}
	if env := os.Getenv("PORT"); env != "" && flagServeAddr == "" {
		addr = ":" + env
	}

	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)
	handler := sidecar.New(sidecar.Config{
		Resolver:  cfg.Fetcher(logger),
		Exclusive: cfg.Sidecar.Exclusive,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          log.New(os.Stdout, "HTTPERR ", log.LstdFlags|log.Lmicroseconds),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Println("Listening on", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if p, err := resolve.NewClient("http://"+ln.Addr().String(), "").Ping(pingCtx); err != nil {
		logger.Printf("SIDECAR self-check failed err=%v", err)
	} else {
		logger.Printf("SIDECAR ready ts=%d", p.Timestamp)
	}
	cancelPing()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	// Further messages must fail like a reloaded extension's would.
	handler.Invalidate()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
