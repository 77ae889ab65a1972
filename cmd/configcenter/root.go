package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"configcenter/internal/logging"
	"configcenter/internal/settings"

	"github.com/spf13/cobra"
)

// flagSettings maps persistent flags onto the settings keys they override.
var flagSettings = []struct {
	flag string
	key  string
}{
	{flag: "root", key: "store.root"},
	{flag: "encoding", key: "store.encoding"},
	{flag: "watch-mode", key: "store.watch-mode"},
	{flag: "poll-interval", key: "store.poll-interval"},
	{flag: "threads", key: "store.thread-pool-size"},
	{flag: "log-level", key: "log.level"},
}

// AppProvider lazily initializes the App on first use.
type AppProvider struct {
	once sync.Once
	app  *App
	err  error

	// Captured from flags before Execute().
	ConfigPath   string
	Root         string
	Encoding     string
	WatchMode    string
	PollInterval time.Duration
	Threads      int
	LogLevel     string
	Sets         []string
	Output       string

	Out     io.Writer
	Err     io.Writer
	Environ func() []string
	changed func(name string) bool

	loggerMu sync.Mutex
	logger   *logging.Logger
}

func (p *AppProvider) Get() (*App, error) {
	p.once.Do(func() {
		if p.app == nil {
			p.app, p.err = p.init()
		}
		if p.app != nil {
			p.setLogger(p.app.Logger)
		}
	})
	return p.app, p.err
}

// NewTestProvider creates a provider pre-initialized with app.
func NewTestProvider(app *App) *AppProvider {
	return &AppProvider{
		app: app,
		Out: app.Out,
		Err: app.Err,
	}
}

// Logger returns the App logger once initialized, nil before.
func (p *AppProvider) Logger() *logging.Logger {
	p.loggerMu.Lock()
	defer p.loggerMu.Unlock()
	return p.logger
}

func (p *AppProvider) setLogger(logger *logging.Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *AppProvider) init() (*App, error) {
	overrides, err := p.overrides()
	if err != nil {
		return nil, err
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("cannot get current directory: %w", err)
	}
	loaded, err := settings.Load(settings.ResolvePath(p.ConfigPath, wd), overrides)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	errOut := p.Err
	if errOut == nil {
		errOut = os.Stderr
	}
	format, err := parseOutputFormat(p.Output)
	if err != nil {
		return nil, err
	}
	return NewApp(loaded, out, errOut, format)
}

// overrides layers, in increasing precedence, CONFIGCENTER_* variables,
// --set entries and explicitly given flags.
func (p *AppProvider) overrides() (map[string]any, error) {
	environ := os.Environ
	if p.Environ != nil {
		environ = p.Environ
	}
	overrides := settings.EnvOverrides(environ())

	sets, err := settings.ParseOverrides(p.Sets)
	if err != nil {
		return nil, err
	}
	for key, value := range sets {
		overrides[key] = value
	}

	values := map[string]any{
		"root":          p.Root,
		"encoding":      p.Encoding,
		"watch-mode":    p.WatchMode,
		"poll-interval": p.PollInterval.String(),
		"threads":       int64(p.Threads),
		"log-level":     p.LogLevel,
	}
	for _, entry := range flagSettings {
		if p.changed == nil || !p.changed(entry.flag) {
			continue
		}
		overrides[entry.key] = values[entry.flag]
	}
	return overrides, nil
}

// Execute runs the CLI with args, cancelling the command context on
// SIGINT or SIGTERM.
func Execute(args []string) error {
	provider := &AppProvider{
		Out: os.Stdout,
		Err: os.Stderr,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(provider.Logger, cancel, signalCh)
	defer stopSignals()

	rootCmd := newRootCmd(provider)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(provider *AppProvider) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "configcenter",
		Short: "A configuration center backed by a directory tree",
		Long: `configcenter stores configuration items as files under <root>/<group>/<key>
and notifies listeners when items are added, modified or deleted, whether the
change came from this tool, a running server or any other process writing to
the directory.

Settings are read from configcenter.yaml, configcenter.yml or configcenter.toml
in the working directory (or --config / $CONFIGCENTER_CONFIG), then from
CONFIGCENTER_<SECTION>_<NAME> environment variables, then --set key=value
entries, then the flags below.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&provider.ConfigPath, "config", "", "Settings file (yaml or toml)")
	flags.StringVar(&provider.Root, "root", "", "Root directory of the configuration tree (default ~/.configcenter)")
	flags.StringVar(&provider.Encoding, "encoding", "", "Character encoding of configuration files (default UTF-8)")
	flags.StringVar(&provider.WatchMode, "watch-mode", "", "Change detection: auto, native or polling")
	flags.DurationVar(&provider.PollInterval, "poll-interval", 0, "Scan interval in polling mode (default 2s)")
	flags.IntVar(&provider.Threads, "threads", 0, "Listener callback workers (default 1)")
	flags.StringVar(&provider.LogLevel, "log-level", "", "Log level: debug, info, warning or error")
	flags.StringArrayVar(&provider.Sets, "set", nil, "Override a setting, e.g. --set server.listen=:9000 (repeatable)")
	flags.StringVarP(&provider.Output, "output", "o", outputText, "Output format: text, json or yaml")
	provider.changed = flags.Changed

	rootCmd.AddCommand(newPublishCmd(provider))
	rootCmd.AddCommand(newGetCmd(provider))
	rootCmd.AddCommand(newRemoveCmd(provider))
	rootCmd.AddCommand(newKeysCmd(provider))
	rootCmd.AddCommand(newGroupsCmd(provider))
	rootCmd.AddCommand(newListCmd(provider))
	rootCmd.AddCommand(newWatchCmd(provider))
	rootCmd.AddCommand(newServeCmd(provider))
	rootCmd.AddCommand(newVersionCmd(provider))

	return rootCmd
}

func parseOutputFormat(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", outputText:
		return outputText, nil
	case outputJSON:
		return outputJSON, nil
	case outputYAML, "yml":
		return outputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", value)
	}
}
