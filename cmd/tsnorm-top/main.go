package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tsnorm/internal/model"
	"github.com/tinytelemetry/tsnorm/internal/socketrpc"
	"github.com/tinytelemetry/tsnorm/internal/tui"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

type options struct {
	configPath string
	socketPath string
	name       string
	once       bool
	version    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tsnorm-top", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.config/tsnorm/config.yml)")
	fs.StringVar(&opts.socketPath, "socket", "", "socket of the running tsnorm service")
	fs.StringVar(&opts.name, "name", "", "start narrowed to one measurement name")
	fs.BoolVar(&opts.once, "once", false, "print a plain text summary and exit")
	fs.BoolVar(&opts.version, "version", false, "print version information")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.version {
		fmt.Fprintf(stdout, "tsnorm-top %s (commit %s, built %s, %s)\n", version, commit, buildTime, goVersion)
		return 0
	}

	cfg, err := loadCLIConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if opts.socketPath != "" {
		cfg.SocketPath = opts.socketPath
	}

	client, err := socketrpc.Dial(cfg.SocketPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: cannot reach tsnorm at %s: %v\nIs the service running? Start it with: tsnorm\n", cfg.SocketPath, err)
		return 1
	}
	defer client.Close()

	if opts.once {
		err = printSummary(stdout, client, model.QueryOpts{Name: opts.name})
	} else {
		err = runTUI(client, cfg, opts.name)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runTUI(client *socketrpc.Client, cfg cliConfig, name string) error {
	dashboard := tui.NewDashboardModel(client, cfg.UpdateInterval, cfg.RecentLimit, "Socket")
	dashboard.SetNameFilter(name)
	app := tui.NewApp(tui.NewDashboardPage(dashboard), tui.NewTagValuesPage(client))

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		if strings.Contains(err.Error(), "TTY") || strings.Contains(err.Error(), "/dev/tty") {
			return errors.New("dashboard requires a real terminal, try -once")
		}
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// summaryQuerier is the part of the socket client the -once summary needs.
type summaryQuerier interface {
	TotalMeasurementCount(opts model.QueryOpts) (int64, error)
	TopMeasurementNames(limit int, opts model.QueryOpts) ([]model.NameCount, error)
	FormatCounts() (map[string]int64, error)
}

const summaryNames = 10

func printSummary(w io.Writer, q summaryQuerier, opts model.QueryOpts) error {
	total, err := q.TotalMeasurementCount(opts)
	if err != nil {
		return fmt.Errorf("total: %w", err)
	}
	formats, err := q.FormatCounts()
	if err != nil {
		return fmt.Errorf("formats: %w", err)
	}
	names, err := q.TopMeasurementNames(summaryNames, opts)
	if err != nil {
		return fmt.Errorf("names: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "measurements\t%d\n", total)
	for _, f := range slices.Sorted(maps.Keys(formats)) {
		fmt.Fprintf(tw, "format %s\t%d\n", f, formats[f])
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "NAME\tCOUNT")
	for _, nc := range names {
		fmt.Fprintf(tw, "%s\t%d\n", nc.Name, nc.Count)
	}
	return tw.Flush()
}
