// Command botctl is a command-line client for a botfleet server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/ashita-ai/botfleet/sdk/go/botfleet"
)

// usageError marks errors caused by bad command-line input.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func (e usageError) ExitCode() int { return 2 }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		server  string
		timeout time.Duration
		asJSON  bool
		kind    string
		config  string
		tail    int
	)

	flagSet := pflag.NewFlagSet("botctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&server, "server", envOr("BOTFLEET_URL", "http://localhost:4000"), "botfleet server URL")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	flagSet.BoolVar(&asJSON, "json", false, "print raw JSON")
	flagSet.StringVar(&kind, "kind", string(botfleet.KindCustom), "worker kind for create (discord, telegram, slack, custom)")
	flagSet.StringVar(&config, "config", "", "worker config for create, as a JSON object")
	flagSet.IntVarP(&tail, "tail", "n", 0, "number of log lines for logs (0 uses the server default)")
	flagSet.BoolP("help", "h", false, "show help")
	flagSet.SetInterspersed(true)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return usageError{msg: err.Error()}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return usagef("missing command")
	}

	client, err := botfleet.NewClient(botfleet.Config{BaseURL: server, Timeout: timeout})
	if err != nil {
		return err
	}

	cmd, rest := rest[0], rest[1:]
	switch cmd {
	case "health":
		h, err := client.Health(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(stdout, h)
		}
		fmt.Fprintf(stdout, "%s (runtime %s, %d workers, version %s, up %ds)\n", h.Status, h.Runtime, h.Workers, h.Version, h.Uptime)
		return nil

	case "list", "ls":
		list, err := client.List(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(stdout, list)
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tPHASE\tPORT\tCREATED")
		for _, w := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", w.Name, w.Kind, w.Phase, w.Port, w.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()

	case "get":
		name, err := oneName(cmd, rest)
		if err != nil {
			return err
		}
		w, err := client.Get(ctx, name)
		if err != nil {
			return err
		}
		return printWorker(stdout, w, asJSON)

	case "create":
		name, err := oneName(cmd, rest)
		if err != nil {
			return err
		}
		req := botfleet.CreateRequest{Name: name, Kind: botfleet.Kind(kind), Config: map[string]any{}}
		if config != "" {
			if err := json.Unmarshal([]byte(config), &req.Config); err != nil {
				return usagef("--config must be a JSON object: %v", err)
			}
		}
		w, err := client.Create(ctx, req)
		if err != nil {
			return err
		}
		return printWorker(stdout, w, asJSON)

	case "start", "stop", "restart":
		name, err := oneName(cmd, rest)
		if err != nil {
			return err
		}
		action := map[string]func(context.Context, string) (*botfleet.Worker, error){
			"start":   client.Start,
			"stop":    client.Stop,
			"restart": client.Restart,
		}[cmd]
		w, err := action(ctx, name)
		if err != nil {
			return err
		}
		return printWorker(stdout, w, asJSON)

	case "rm", "remove":
		name, err := oneName(cmd, rest)
		if err != nil {
			return err
		}
		if err := client.Remove(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "worker %s removed\n", name)
		return nil

	case "logs":
		name, err := oneName(cmd, rest)
		if err != nil {
			return err
		}
		rc, err := client.Logs(ctx, name, tail)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		_, err = io.Copy(stdout, rc)
		return err

	case "events":
		events, errs, err := client.Events(ctx)
		if err != nil {
			return err
		}
		for ev := range events {
			if asJSON {
				if err := printJSON(stdout, ev); err != nil {
					return err
				}
				continue
			}
			prev := string(ev.PreviousPhase)
			if prev == "" {
				prev = "-"
			}
			fmt.Fprintf(stdout, "%s %s %s -> %s\n", ev.Timestamp.Format(time.RFC3339), ev.Name, prev, ev.NewPhase)
		}
		if err := <-errs; err != nil {
			return err
		}
		return nil

	default:
		return usagef("unknown command %q", cmd)
	}
}

func oneName(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", usagef("%s takes exactly one worker name", cmd)
	}
	return args[0], nil
}

func printWorker(out io.Writer, w *botfleet.Worker, asJSON bool) error {
	if asJSON {
		return printJSON(out, w)
	}
	if w == nil {
		return nil
	}
	fmt.Fprintf(out, "%s\t%s\t%s\tport=%d\n", w.Name, w.Kind, w.Phase, w.Port)
	if w.Stats != nil {
		fmt.Fprintf(out, "  cpu=%.1f%% mem=%d/%d rx=%d tx=%d\n",
			w.Stats.CPUPercent, w.Stats.MemoryBytes, w.Stats.MemoryLimit, w.Stats.NetworkRxByte, w.Stats.NetworkTxByte)
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `botctl manages the chat-bot workers of a botfleet server.

Usage:
  botctl [flags] <command> [name]

Commands:
  health              show server and runtime health
  list                list workers
  get <name>          show one worker with resource stats
  create <name>       create a worker (see --kind, --config)
  start <name>        start a worker
  stop <name>         stop a worker
  restart <name>      restart a running worker
  rm <name>           remove a worker and its container
  logs <name>         print recent worker output (see --tail)
  events              follow status events until interrupted

Flags:
%s`, flagSet.FlagUsages())
}
