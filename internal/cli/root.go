// Package cli implements the qrshare device commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/maneesh/qrshare/internal/api"
	"github.com/maneesh/qrshare/internal/config"
	"github.com/maneesh/qrshare/internal/identity"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/notify"
	"github.com/maneesh/qrshare/internal/records"
	"github.com/maneesh/qrshare/internal/tracing"
	"github.com/maneesh/qrshare/internal/transfer"
	"github.com/spf13/cobra"
)

type app struct {
	flagServer      string
	flagStateDir    string
	flagDownloadDir string
	flagChunkSize   int64
	flagLogLevel    string
	flagJSON        bool
	flagTracing     bool

	cfg      *config.ClientConfig
	out      io.Writer
	logger   logging.Logger
	identity *identity.Provider
	client   *api.Client
	records  *records.Manager
	notifier *notify.Emitter
	executor *transfer.Executor

	shutdownTracer tracing.Shutdown
}

// NewRootCommand builds the qrshare command tree
func NewRootCommand() *cobra.Command {
	_, root := newRoot()
	return root
}

func newRoot() (*app, *cobra.Command) {
	a := &app{}

	root := &cobra.Command{
		Use:   "qrshare",
		Short: "QRShare - send files between devices with a QR code",
		Long: `QRShare moves a file from one device to another. The sender shows a QR
code describing the file; the receiver scans it and downloads the bytes.

Get started:
  qrshare send report.pdf          Upload a file and print its QR code
  qrshare receive '<payload>'      Accept a scanned payload
  qrshare session                  Open a receive session code
  qrshare list                     Show your transfers`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.flagServer, "server", "", "Backend URL (default: $QRSHARE_SERVER_URL or http://localhost:8080)")
	flags.StringVar(&a.flagStateDir, "state-dir", "", "Directory holding the device identity")
	flags.StringVar(&a.flagDownloadDir, "download-dir", "", "Directory received files are saved to")
	flags.Int64Var(&a.flagChunkSize, "chunk-size", 0, "Requested upload chunk size in bytes")
	flags.StringVar(&a.flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&a.flagJSON, "json", false, "Output as JSON")
	flags.BoolVar(&a.flagTracing, "tracing", false, "Export traces over OTLP")

	root.AddCommand(
		a.newSendCommand(),
		a.newReceiveCommand(),
		a.newSessionCommand(),
		a.newListCommand(),
		a.newWatchCommand(),
		a.newCancelCommand(),
		a.newNotificationsCommand(),
		a.newDeviceCommand(),
	)
	return a, root
}

// Execute runs the command tree with ctx
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a, root := newRoot()
	defer a.teardown()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.flagServer != "" {
		cfg.ServerURL = a.flagServer
	}
	if a.flagStateDir != "" {
		if cfg.DownloadDir == filepath.Join(cfg.StateDir, "Downloads") {
			cfg.DownloadDir = filepath.Join(a.flagStateDir, "Downloads")
		}
		cfg.StateDir = a.flagStateDir
	}
	if a.flagDownloadDir != "" {
		cfg.DownloadDir = a.flagDownloadDir
	}
	if a.flagChunkSize > 0 {
		cfg.ChunkSize = a.flagChunkSize
	}
	if a.flagLogLevel != "" {
		cfg.LogLevel = a.flagLogLevel
	}
	if a.flagTracing {
		cfg.TracingEnabled = true
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()

	shutdown, err := tracing.InitTracer("qrshare-cli", cfg.JaegerEndpoint, cfg.TracingEnabled)
	if err != nil {
		return err
	}
	a.shutdownTracer = shutdown

	a.identity, err = identity.Open(cfg.StateDir)
	if err != nil {
		return err
	}
	a.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, "text").
		With("device_id", a.identity.DeviceID())

	a.client = api.NewClient(cfg.ServerURL)
	a.records = records.NewManager(a.client, a.identity, a.logger)
	a.notifier = notify.NewEmitter(a.client, a.logger)
	a.executor = transfer.NewExecutor(a.client, a.identity, cfg.DownloadDir, cfg.ChunkSize, a.logger)

	if a.identity.Created() {
		// a failed registration is retried by "qrshare device --register"
		a.records.RegisterDevice(cmd.Context(), "")
	}
	return nil
}

func (a *app) teardown() error {
	if a.shutdownTracer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.shutdownTracer(ctx)
}

func (a *app) service(opts ...transfer.Option) *transfer.Service {
	return transfer.NewService(a.records, a.notifier, a.executor, a.logger, opts...)
}
