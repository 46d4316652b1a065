package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LubyRuffy/agb2o/config"
	"github.com/LubyRuffy/agb2o/logging"
	"github.com/LubyRuffy/agb2o/openaihttp"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		mode       string
	)
	cmd := &cobra.Command{
		Use:           "agb2o-server",
		Short:         "OpenAI compatible gateway in front of the Antigravity backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, cfg, listen, mode); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agb2o.yaml", "config file (missing file uses defaults)")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	cmd.Flags().StringVar(&mode, "transport", "", "transport mode: push|http, overrides transport.mode")
	return cmd
}

// applyFlags 用显式传入的命令行参数覆盖配置，并重新校验。
func applyFlags(cmd *cobra.Command, cfg *config.Config, listen, mode string) error {
	changed := false
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = listen
		changed = true
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Mode = mode
		changed = true
	}
	if !changed {
		return nil
	}
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	log := logrus.NewEntry(logger)

	client, err := cfg.NewClient(log)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(openaihttp.GinLogger(log.WithField("component", "http")), gin.Recovery())

	err = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
		BasePath:        cfg.Server.BasePath,
		Client:          client,
		Request:         cfg.RequestOptions(),
		APIKey:          cfg.Server.APIKey,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("register routes failed: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	local := addrForLocalClient(ln.Addr().String())
	log.Infof("agb2o server listening on http://%s%s", local, cfg.Server.BasePath)
	log.Infof("try: curl http://%s%s/models", local, cfg.Server.BasePath)
	log.Infof("OpenAI SDK base_url: http://%s%s", local, cfg.Server.BasePath)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// addrForLocalClient 把监听地址转换为本机客户端可直接访问的地址（通配地址替换为 127.0.0.1）。
func addrForLocalClient(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
