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

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/models"
	"github.com/adonese/bloog/upgrade"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	bloogConfig  models.BloogConfig
	logrusLogger = logrus.New()
	logSampling  gateway.LogSamplingConfig

	configPath  string
	secretsPath string
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrusLogger.WithError(err).Fatal("bloog")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bloog",
		Short:         "A small blog engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml or "+defaultConfigPath+")")
	root.PersistentFlags().StringVar(&secretsPath, "secrets", "", "path to secrets.yaml (default: next to the config)")

	root.AddCommand(serveCmd(), upgradeCmd(), renderConfigCmd())
	return root
}

// setup loads the configuration and configures the logger. Commands that
// need the configuration call it first.
func setup() error {
	payload, err := loadConfig(configPath, secretsPath)
	if err != nil {
		return err
	}
	cfg, err := parseConfig(payload)
	if err != nil {
		return err
	}
	bloogConfig = cfg
	configureLogger(bloogConfig)
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the blog over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownOTel := initOTel(ctx, bloogConfig, logrusLogger)
			defer shutdownOTel()

			srv, err := openServer(bloogConfig, logrusLogger)
			if err != nil {
				return err
			}
			defer srv.Close()

			if !bloogConfig.IsDebug {
				gin.SetMode(gin.ReleaseMode)
			}
			engine, err := GetMainEngine(ctx, srv)
			if err != nil {
				return err
			}
			return listen(ctx, &http.Server{
				Addr:              bloogConfig.Port,
				Handler:           engine,
				ReadHeaderTimeout: 10 * time.Second,
			})
		},
	}
}

// listen serves until ctx is done, then drains open requests.
func listen(ctx context.Context, hs *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		logrusLogger.WithField("addr", hs.Addr).Info("listening")
		errc <- hs.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logrusLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func upgradeCmd() *cobra.Command {
	var phase int
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Convert the entities of an older datastore layout",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup(); err != nil {
				return err
			}
			srv, err := openServer(bloogConfig, logrusLogger)
			if err != nil {
				return err
			}
			defer srv.Close()

			runner := upgrade.NewRunner(srv.store, bloogConfig, logrusLogger)
			var n int
			if phase > 0 {
				n, err = runPhase(cmd.Context(), runner, phase)
			} else {
				n, err = runner.RunAll(cmd.Context())
			}
			if err != nil {
				return err
			}
			logrusLogger.WithField("upgraded", n).Info("upgrade finished")
			fmt.Fprintf(cmd.OutOrStdout(), "upgraded %d entities\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "run only this phase (default: all phases)")
	return cmd
}

// runPhase steps through a single upgrade phase and stops when the runner
// moves past it.
func runPhase(ctx context.Context, r *upgrade.Runner, phase int) (int, error) {
	if phase > r.Phases() {
		return 0, fmt.Errorf("unknown phase %d, there are %d", phase, r.Phases())
	}
	next := ""
	upgraded, retries := 0, 0
	for {
		p, err := r.Step(ctx, phase, next)
		if err != nil {
			return upgraded, err
		}
		if p.Retry {
			retries++
			if retries > r.MaxRetries {
				return upgraded, fmt.Errorf("phase %d stuck after %q: %s", phase, next, p.Error)
			}
			if err := r.Backoff(ctx, retries); err != nil {
				return upgraded, err
			}
			continue
		}
		if p.Done || p.Phase != phase {
			return upgraded, nil
		}
		retries = 0
		upgraded++
		next = p.Next
	}
}

func renderConfigCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "render-config [path]",
		Short: "Write a config.yaml holding every default setting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := "config.yaml"
			if len(args) == 1 {
				out = args[0]
			}
			if err := renderConfigFile(out, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
