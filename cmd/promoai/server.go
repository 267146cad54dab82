package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/promoai/internal/api"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/ollama"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and optionally the MCP server on stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		skipCheck, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(cmd, withMCP, skipCheck)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running promoai server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show promoai system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull the Ollama model on startup")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "promoai.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(cmd *cobra.Command, withMCP, skipCheck bool) error {
	fmt.Fprintf(os.Stderr, "promoai version %s\n", version)

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	// Refuse to start twice on the same port.
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("promoai is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signalContext(cmd)
	defer stop()

	provider, err := cfg.Provider()
	if err != nil {
		return err
	}
	if provider == engine.Ollama && !skipCheck {
		if err := ollama.EnsureReady(ctx, a.registry.Ollama().Client(), cfg.Ollama.Model, os.Stderr); err != nil {
			return err
		}
	}
	if cfg.Server.APIToken == "" {
		a.logger.Warn("server.api_token is not set, API requests are not authenticated")
	}

	handler := api.NewHandler(api.Deps{
		Service: a.svc,
		Token:   cfg.Server.APIToken,
		Logger:  a.logger,
	}, a.budget)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("promoai listening", "addr", addr, "provider", provider.String(), "model", cfg.ModelFor(provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Service: a.svc, Budget: a.budget})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			a.logger.Info("MCP server started (stdio transport)")
			err := stdioSrv.Listen(gCtx, os.Stdin, os.Stdout)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("promoai is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop promoai (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to promoai (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	if oc.IsRunning(ctx) {
		printStatus("Ollama", "running at %s", oc.BaseURL())
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Provider", "%s", cfg.Generation.Provider)
	if p, err := cfg.Provider(); err == nil {
		printStatus("Model", "%s", cfg.ModelFor(p))
		if p.RequiresAPIKey() && cfg.APIKeyFor(p) == "" {
			printWarning("%s needs an API key: promoai config set-secret together.api_key", p)
		}
	}
	printStatus("Iterations", "%d + %d", cfg.Generation.MaxIterations, cfg.Generation.AdditionalIterations)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
