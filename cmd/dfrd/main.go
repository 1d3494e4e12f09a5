package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/dfr/config"
	"github.com/malbeclabs/dfr/internal/controller"
	"github.com/malbeclabs/dfr/internal/dcell"
	"github.com/malbeclabs/dfr/internal/netutil"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type Runner interface {
	Init([]string) error
	Run() error
	Name() string
	Fs() *flag.FlagSet
	Description() string
}

func NewStartCommand() *StartCommand {
	c := &StartCommand{
		fs:          flag.NewFlagSet("start", flag.ExitOnError),
		description: "run the controller",
	}
	c.fs.IntVar(&c.k, "k", config.IntEnv(config.EnvDCellK, config.DefaultDCellK), "recursion level of the fabric")
	c.fs.IntVar(&c.n, "n", config.IntEnv(config.EnvDCellN, config.DefaultDCellN), "hosts per basic cell")
	c.fs.StringVar(&c.listenAddr, "listen-addr", config.StringEnv(config.EnvListenAddr, config.DefaultListenAddr), "openflow listen address")
	c.fs.StringVar(&c.metricsAddr, "metrics-addr", config.StringEnv(config.EnvMetricsAddr, config.DefaultMetricsAddr), "metrics and debug listen address, empty to disable")
	c.fs.DurationVar(&c.linkTimeout, "link-timeout", config.DurationEnv(config.EnvLinkTimeout, config.DefaultLinkTimeout), "silence after which a link is declared down")
	c.fs.DurationVar(&c.probeInterval, "probe-interval", 0, "interval between liveness probes (default link-timeout/3)")
	c.fs.BoolVar(&c.verbose, "verbose", config.BoolEnv(config.EnvVerbose, false), "verbose mode - show debug logs")
	c.fs.BoolVar(&c.showVersion, "version", false, "show version information and exit")
	return c
}

type StartCommand struct {
	fs          *flag.FlagSet
	description string

	k             int
	n             int
	listenAddr    string
	metricsAddr   string
	linkTimeout   time.Duration
	probeInterval time.Duration
	verbose       bool
	showVersion   bool
}

func (c *StartCommand) Fs() *flag.FlagSet { return c.fs }

func (c *StartCommand) Name() string { return c.fs.Name() }

func (c *StartCommand) Description() string { return c.description }

func (c *StartCommand) Init(args []string) error {
	return c.fs.Parse(args)
}

func (c *StartCommand) Run() error {
	if c.showVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(c.verbose)
	controller.SetBuildInfo(version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := controller.New(log, &controller.Config{
		K:             c.k,
		N:             c.n,
		ListenAddr:    c.listenAddr,
		MetricsAddr:   c.metricsAddr,
		LinkTimeout:   c.linkTimeout,
		ProbeInterval: c.probeInterval,
	})
	if err != nil {
		log.Error("failed to create controller", "error", err)
		return err
	}

	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("runtime error", "error", err)
		return err
	}
	return nil
}

func NewTopoCommand() *TopoCommand {
	c := &TopoCommand{
		fs:          flag.NewFlagSet("topo", flag.ExitOnError),
		description: "print the fabric's addressing and wiring plan",
	}
	c.fs.IntVar(&c.k, "k", config.IntEnv(config.EnvDCellK, config.DefaultDCellK), "recursion level of the fabric")
	c.fs.IntVar(&c.n, "n", config.IntEnv(config.EnvDCellN, config.DefaultDCellN), "hosts per basic cell")
	c.fs.IntVar(&c.linkBW, "link-bw", config.DefaultLinkBandwidthMbps, "bandwidth in mbps the plan assigns every link")
	c.fs.BoolVar(&c.jsonOut, "json", false, "emit the plan as json")
	return c
}

type TopoCommand struct {
	fs          *flag.FlagSet
	description string

	k       int
	n       int
	linkBW  int
	jsonOut bool
}

func (c *TopoCommand) Fs() *flag.FlagSet { return c.fs }

func (c *TopoCommand) Name() string { return c.fs.Name() }

func (c *TopoCommand) Description() string { return c.description }

func (c *TopoCommand) Init(args []string) error {
	return c.fs.Parse(args)
}

type hostPlan struct {
	Host  int    `json:"host"`
	DPID  int    `json:"dpid"`
	Tuple string `json:"tuple"`
	MAC   string `json:"mac"`
	IP    string `json:"ip"`
	Mini  int    `json:"mini_dpid"`
}

type linkPlan struct {
	Level         int `json:"level"`
	Low           int `json:"low"`
	LowPort       int `json:"low_port"`
	High          int `json:"high"`
	HighPort      int `json:"high_port"`
	BandwidthMbps int `json:"bandwidth_mbps"`
}

type wiringPlan struct {
	K            int        `json:"k"`
	N            int        `json:"n"`
	Hosts        int        `json:"num_hosts"`
	MiniSwitches int        `json:"num_mini_switches"`
	Switches     int        `json:"num_switches"`
	HostPlan     []hostPlan `json:"hosts"`
	LinkPlan     []linkPlan `json:"links"`
}

func (c *TopoCommand) Run() error {
	topo, err := dcell.New(c.k, c.n)
	if err != nil {
		return err
	}

	plan := wiringPlan{
		K:            topo.K(),
		N:            topo.N(),
		Hosts:        topo.NumHosts(),
		MiniSwitches: topo.NumMiniSwitches(),
		Switches:     topo.NumSwitches(),
	}
	for h := 1; h <= topo.NumHosts(); h++ {
		plan.HostPlan = append(plan.HostPlan, hostPlan{
			Host:  h,
			DPID:  h,
			Tuple: topo.TupleOf(h).String(),
			MAC:   netutil.MACOfHost(h).String(),
			IP:    fmt.Sprintf("%s/%d", netutil.IPOfHost(h), netutil.IPMask),
			Mini:  topo.MiniDPID(h),
		})
	}
	for _, l := range topo.SwitchLinks() {
		plan.LinkPlan = append(plan.LinkPlan, linkPlan{
			Level:         l.Level,
			Low:           l.LowDPID,
			LowPort:       l.LowPort,
			High:          l.HighDPID,
			HighPort:      l.HighPort,
			BandwidthMbps: c.linkBW,
		})
	}

	if c.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Printf("DCell k=%d n=%d: %d hosts, %d mini switches, %d switches, %d links\n\n",
		plan.K, plan.N, plan.Hosts, plan.MiniSwitches, plan.Switches, len(plan.LinkPlan))

	hosts := tablewriter.NewWriter(os.Stdout)
	hosts.SetAutoWrapText(false)
	hosts.SetAutoFormatHeaders(false)
	hosts.SetHeader([]string{"Host", "DPID", "Tuple", "MAC", "IP", "Mini DPID"})
	for _, h := range plan.HostPlan {
		hosts.Append([]string{
			fmt.Sprintf("%d", h.Host),
			fmt.Sprintf("%d", h.DPID),
			h.Tuple,
			h.MAC,
			h.IP,
			fmt.Sprintf("%d", h.Mini),
		})
	}
	hosts.Render()
	fmt.Println()

	links := tablewriter.NewWriter(os.Stdout)
	links.SetAutoWrapText(false)
	links.SetAutoFormatHeaders(false)
	links.SetHeader([]string{"Level", "Low", "High", "BW (Mbps)"})
	for _, l := range plan.LinkPlan {
		links.Append([]string{
			fmt.Sprintf("%d", l.Level),
			fmt.Sprintf("%d:%d", l.Low, l.LowPort),
			fmt.Sprintf("%d:%d", l.High, l.HighPort),
			fmt.Sprintf("%d", l.BandwidthMbps),
		})
	}
	links.Render()
	return nil
}

func root(args []string) error {
	cmds := []Runner{
		NewStartCommand(),
		NewTopoCommand(),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "\nUsage:\n\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 0, 3, ' ', 0)
		for _, cmd := range cmds {
			fmt.Fprintf(w, "\t%s\t%s\t\n", cmd.Name(), cmd.Description())
		}
		w.Flush()
	}

	if len(args) < 1 {
		return errors.New("error: you must pass a sub-command")
	}

	subcommand := args[0]

	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(args[1:]); err != nil {
				return err
			}
			return cmd.Run()
		}
	}

	return fmt.Errorf("unknown subcommand: %s", subcommand)
}

func main() {
	_ = godotenv.Load()

	if err := root(os.Args[1:]); err != nil {
		fmt.Println(err)
		flag.Usage()
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				t := a.Value.Time().UTC()
				a.Value = slog.StringValue(formatRFC3339Millis(t))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	ms := t.Nanosecond() / 1_000_000
	return fmt.Sprintf("%s.%03dZ", base, ms)
}
