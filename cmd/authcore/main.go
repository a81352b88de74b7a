// authcore es el binario del core de seguridad: servidor HTTP más utilidades
// de diagnóstico TOTP y generación de claves.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dcastilla/authcore/internal/audit"
	"github.com/dcastilla/authcore/internal/cache"
	"github.com/dcastilla/authcore/internal/config"
	"github.com/dcastilla/authcore/internal/domain/repository"
	httpserver "github.com/dcastilla/authcore/internal/http"
	"github.com/dcastilla/authcore/internal/http/controllers"
	"github.com/dcastilla/authcore/internal/http/router"
	"github.com/dcastilla/authcore/internal/metrics"
	"github.com/dcastilla/authcore/internal/mfa"
	"github.com/dcastilla/authcore/internal/observability/logger"
	"github.com/dcastilla/authcore/internal/rate"
	"github.com/dcastilla/authcore/internal/security/secretbox"
	"github.com/dcastilla/authcore/internal/security/totp"
	"github.com/dcastilla/authcore/internal/session"
)

func main() {
	root := &cobra.Command{
		Use:           "authcore",
		Short:         "Core de seguridad: sesiones, TOTP y rate limiting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), totpCmd(), keygenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =================================================================================
// SERVE
// =================================================================================

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP del core",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env es opcional; el entorno real viene del orquestador
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.Log.Level,
				ServiceName: "authcore",
				Version:     cfg.App.Version,
			})
			defer func() { _ = logger.Sync() }()
			log := logger.Named("main")

			if err := metrics.Register(nil); err != nil {
				return err
			}

			box, err := secretbox.New(cfg.Security.SecretBoxMasterKey)
			if err != nil {
				return err
			}

			cacheClient := cache.New(cache.Config{
				Driver: cfg.Cache.Driver,
				Addr:   cfg.Cache.Redis.Addr,
				DB:     cfg.Cache.Redis.DB,
				Prefix: cfg.Cache.Redis.Prefix,
			})
			defer func() { _ = cacheClient.Close() }()

			// El credential store real lo inyecta el deployment; el binario
			// standalone arranca con el de memoria.
			creds := repository.NewMemory()
			sink := audit.NewZapSink(nil)

			limiter, stats := buildLimiter(cfg, sink)
			mgr := session.NewManager(session.Config{
				Timeout:          config.Duration(cfg.Session.Timeout),
				MaxPerUser:       cfg.Session.MaxPerUser,
				RefreshThreshold: config.Duration(cfg.Session.RefreshThreshold),
				SweepInterval:    config.Duration(cfg.Session.SweepInterval),
			}, nil, creds, sink)
			mfaSvc := mfa.NewService(mfa.Config{
				Issuer:     cfg.MFA.Issuer,
				PendingTTL: config.Duration(cfg.MFA.PendingTTL),
			}, creds, box, cacheClient, sink)

			ctrl := controllers.New(controllers.Deps{
				Sessions:  mgr,
				MFA:       mfaSvc,
				Creds:     creds,
				RateStats: stats,
			})
			handler := router.New(router.Deps{
				Controllers: ctrl,
				Sessions:    mgr,
				Limiter:     limiter,
				Metrics:     cfg.Metrics.Enabled,
			})
			srv := httpserver.NewServer(httpserver.ServerConfig{
				Addr:            cfg.Server.Addr,
				ReadTimeout:     config.Duration(cfg.Server.ReadTimeout),
				WriteTimeout:    config.Duration(cfg.Server.WriteTimeout),
				ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout),
			}, handler)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr.Start()
			defer mgr.Stop()
			if m, ok := limiter.(*rate.Memory); ok {
				m.Start()
				defer m.Stop()
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })

			log.Info("authcore started",
				logger.String("addr", cfg.Server.Addr),
				logger.String("env", cfg.App.Env),
			)
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "ruta al config.yaml (opcional)")
	return cmd
}

// buildLimiter arma el rate limiter según driver. Retorna también el proveedor
// de stats cuando el backend lo soporta.
func buildLimiter(cfg *config.Config, sink audit.Sink) (rate.Limiter, controllers.StatsProvider) {
	if !cfg.Rate.Enabled {
		return nil, nil
	}
	rcfg := rate.DefaultConfig()
	for category, block := range map[rate.Category]struct {
		limit  int
		window string
	}{
		rate.CategoryAuth:    {cfg.Rate.Auth.Limit, cfg.Rate.Auth.Window},
		rate.CategoryUpload:  {cfg.Rate.Upload.Limit, cfg.Rate.Upload.Window},
		rate.CategoryChat:    {cfg.Rate.Chat.Limit, cfg.Rate.Chat.Window},
		rate.CategoryAdmin:   {cfg.Rate.Admin.Limit, cfg.Rate.Admin.Window},
		rate.CategoryGeneral: {cfg.Rate.General.Limit, cfg.Rate.General.Window},
	} {
		lim := rcfg.Limits[category]
		if block.limit > 0 {
			lim.Max = int64(block.limit)
		}
		if block.window != "" {
			lim.Window = config.Duration(block.window)
		}
		rcfg.Limits[category] = lim
	}

	if cfg.Rate.Driver == "redis" {
		client := rdb.NewClient(&rdb.Options{
			Addr: cfg.Cache.Redis.Addr,
			DB:   cfg.Cache.Redis.DB,
		})
		return rate.NewRedis(client, cfg.Cache.Redis.Prefix, rcfg, sink), nil
	}
	m := rate.NewMemory(rcfg, sink)
	return m, m
}

// =================================================================================
// TOTP (diagnóstico)
// =================================================================================

func totpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "totp",
		Short: "Utilidades TOTP de diagnóstico",
	}

	var secret string
	gen := &cobra.Command{
		Use:   "code",
		Short: "Imprime el código vigente para un secreto",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := totp.CodeAt(secret, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(code)
			return nil
		},
	}
	gen.Flags().StringVarP(&secret, "secret", "s", "", "secreto Base32")
	_ = gen.MarkFlagRequired("secret")

	var vSecret, vCode string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verifica un código contra un secreto (ventana ±2 steps)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if totp.VerifyCode(vCode, vSecret) {
				fmt.Println("ok")
				return nil
			}
			return fmt.Errorf("código inválido")
		},
	}
	verify.Flags().StringVarP(&vSecret, "secret", "s", "", "secreto Base32")
	verify.Flags().StringVarP(&vCode, "code", "k", "", "código de 6 dígitos")
	_ = verify.MarkFlagRequired("secret")
	_ = verify.MarkFlagRequired("code")

	newSecret := &cobra.Command{
		Use:   "new-secret",
		Short: "Genera un secreto TOTP nuevo",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := totp.GenerateSecret()
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		},
	}

	cmd.AddCommand(gen, verify, newSecret)
	return cmd
}

// =================================================================================
// KEYGEN
// =================================================================================

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Genera una clave maestra para el secretbox (base64, 32 bytes)",
		RunE: func(cmd *cobra.Command, args []string) error {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(b))
			return nil
		},
	}
}
