package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"sourceline/internal/scheduler"
	"sourceline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin, noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				DevLogin:         devLogin,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("SOURCELINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.Logger
			authCfg.Logger = logger.With(zap.String("component", "auth"))

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Live:     a.Hub,
				Twilio:   a.Twilio,
				Logger:   logger.With(zap.String("component", "http")),
			})
			if err != nil {
				return err
			}

			if spec := a.Config.FollowUp.Schedule; spec != "" && !noScheduler {
				sched, err := scheduler.New(spec, a.Engine, logger.With(zap.String("component", "scheduler")))
				if err != nil {
					return err
				}
				sched.Start(ctx)
				defer sched.Stop()
			}

			dispatcher := server.NewDispatcher(a.Engine.Repo, a.Config.Webhooks, logger.With(zap.String("component", "webhooks")))
			go dispatcher.Run(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("http shutdown", zap.Error(err))
				}
			}()
			logger.Info("serving sourceline api",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Int("webhooks", len(a.Config.Webhooks)))
			fmt.Printf("Serving Sourceline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled follow-up sweeps")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor-id with SOURCELINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), actorID(), ttl, time.Now())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"access_token": token, "token_type": "Bearer", "actor_id": actorID()})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
