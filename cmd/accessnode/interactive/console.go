// Package interactive provides the maintenance console of the accessnode
// daemon.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/accessnode/accessnode-go/pkg/config"
	"github.com/accessnode/accessnode-go/pkg/device"
	"github.com/accessnode/accessnode-go/pkg/discovery"
)

// Status is a snapshot of the running device.
type Status struct {
	Kind           config.DeviceKind
	Firmware       string
	Slot           string
	LastInvalid    string
	UpdatesEnabled bool

	LinkState string
	Station   string
	Address   string

	SessionState string
	URI          string
	Authorised   bool
	Failures     int
	Recoveries   uint64

	LockedOut  bool
	Advertised string
}

// Device is what the console operates on.
type Device interface {
	Config() config.Config
	SetConfig(key, value string) error
	FactoryReset() error
	Status() Status
	Swipe(card uint32) (device.Decision, error)
	SetLockout(lockedOut bool) error
	Peers(ctx context.Context) ([]discovery.Peer, error)
	Restart(reason string)
}

// Console is the readline command loop.
type Console struct {
	dev Device
	rl  *readline.Instance
	out io.Writer

	// browseTimeout bounds the peers command.
	browseTimeout time.Duration
}

// New creates a console on the terminal. The device is attached with
// Run, so the console's output can be handed to the logger first.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "accessnode> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout(), browseTimeout: discovery.BrowseTimeout}, nil
}

func completer() *readline.PrefixCompleter {
	keys := make([]readline.PrefixCompleterInterface, 0, len(config.Keys()))
	for _, k := range config.Keys() {
		keys = append(keys, readline.PcItem(k))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("show"),
		readline.PcItem("set", keys...),
		readline.PcItem("factory-reset"),
		readline.PcItem("status"),
		readline.PcItem("swipe"),
		readline.PcItem("lockout", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("peers"),
		readline.PcItem("restart"),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Close releases the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

// Run starts the command loop for dev. It returns when the operator quits
// or ctx ends; quitting calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, dev Device) {
	defer c.rl.Close()
	c.dev = dev

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.execute(ctx, line) {
			cancel()
			return
		}
	}
}

// execute runs one command line and reports whether the operator quit.
func (c *Console) execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "show":
		c.cmdShow()

	case "set":
		c.cmdSet(args)

	case "factory-reset":
		c.cmdFactoryReset()

	case "status", "s":
		c.cmdStatus()

	case "swipe":
		c.cmdSwipe(args)

	case "lockout":
		c.cmdLockout(args)

	case "peers":
		c.cmdPeers(ctx)

	case "restart":
		c.dev.Restart("operator request")

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Accessnode Commands:
  Configuration:
    show               - Show all settings
    set <key> <value>  - Change and persist a setting (applies after restart)
    factory-reset      - Restore compiled-in settings

  Device:
    status             - Show link, session and firmware state
    swipe <card>       - Simulate a card scan
    lockout on|off     - Set the lockout flag
    peers              - List other devices on the network
    restart            - Restart the device

  Other:
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdShow() {
	cfg := c.dev.Config()
	for _, k := range config.Keys() {
		v, _ := cfg.Get(k)
		fmt.Fprintf(c.out, "  %-24s %s\n", k, v)
	}
}

func (c *Console) cmdSet(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: set <key> <value>")
		return
	}
	value := strings.Join(args[1:], " ")
	if err := c.dev.SetConfig(args[0], value); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s updated; restart to apply\n", args[0])
}

func (c *Console) cmdFactoryReset() {
	if err := c.dev.FactoryReset(); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Settings restored to defaults; restart to apply")
}

func (c *Console) cmdStatus() {
	st := c.dev.Status()

	fmt.Fprintln(c.out, "\nDevice Status")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  Device Kind:    %s\n", st.Kind)
	fmt.Fprintf(c.out, "  Firmware:       %s (slot %s)\n", st.Firmware, st.Slot)
	if st.LastInvalid != "" {
		fmt.Fprintf(c.out, "  Rejected Image: %s\n", st.LastInvalid)
	}
	fmt.Fprintf(c.out, "  Updates:        %s\n", onOff(st.UpdatesEnabled))
	fmt.Fprintf(c.out, "  Locked Out:     %t\n", st.LockedOut)
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "  Link:           %s\n", st.LinkState)
	fmt.Fprintf(c.out, "  Station:        %s\n", st.Station)
	if st.Address != "" {
		fmt.Fprintf(c.out, "  Address:        %s\n", st.Address)
	}
	fmt.Fprintf(c.out, "  Session:        %s\n", st.SessionState)
	if st.URI != "" {
		fmt.Fprintf(c.out, "  Portal:         %s\n", st.URI)
	}
	fmt.Fprintf(c.out, "  Authorised:     %t\n", st.Authorised)
	fmt.Fprintf(c.out, "  Failures:       %d (recoveries: %d)\n", st.Failures, st.Recoveries)
	if st.Advertised != "" {
		fmt.Fprintf(c.out, "  mDNS:           %s\n", st.Advertised)
	}
	fmt.Fprintln(c.out, "-------------------------------------------")
}

func (c *Console) cmdSwipe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: swipe <card>")
		return
	}
	card, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid card number: %s\n", args[0])
		return
	}
	decision, err := c.dev.Swipe(uint32(card))
	if decision != 0 {
		fmt.Fprintf(c.out, "Card %d: %s\n", card, decision)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Warning: %v\n", err)
	}
}

func (c *Console) cmdLockout(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(c.out, "Usage: lockout on|off")
		return
	}
	if err := c.dev.SetLockout(args[0] == "on"); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Lockout %s\n", args[0])
}

func (c *Console) cmdPeers(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.browseTimeout)
	defer cancel()

	fmt.Fprintf(c.out, "Browsing for %s...\n", c.browseTimeout)
	peers, err := c.dev.Peers(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(peers) == 0 {
		fmt.Fprintln(c.out, "No devices found")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(c.out, "  %-26s %-10s fw %-10s %s\n",
			p.InstanceName, p.Info.Kind, p.Info.Firmware, strings.Join(p.Addresses, ", "))
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
