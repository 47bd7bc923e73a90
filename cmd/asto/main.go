package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"asto/internal/config"
	"asto/internal/factory"
	"asto/internal/ui"
	"asto/pkg/storage"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: asto [flags] <command> [args]

commands:
  exists <key>          report whether key holds a value
  list <prefix>         list keys under prefix ("" or ending in "/")
  get <key> [file]      write the value of key to file or stdout
  put <key> [file]      save file or stdin under key
  mv <source> <dest>    move a value
  rm <key>              delete a value
  browse [addr]         serve a read-only HTML browser (default :9100)

flags:
`

var errUsage = errors.New("invalid usage")

// Run executes one command against the storage configured in the file given
// by -config.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags := flag.NewFlagSet("asto", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	configPath := flags.String("config", "asto.yaml", "configuration file")
	verbose := flags.Bool("v", false, "enable debug logging")

	if err := flags.Parse(args); err != nil {
		return err
	}

	level := log.WarnLevel
	if *verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    *verbose,
	})
	slog.SetDefault(slog.New(handler))

	if flags.NArg() == 0 {
		flags.Usage()
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	s, err := factory.New(cfg.Storage)
	if err != nil {
		return err
	}

	cmd := &command{storage: s, stdin: stdin, stdout: stdout}
	return cmd.run(ctx, flags.Arg(0), flags.Args()[1:])
}

type command struct {
	storage storage.Storage
	stdin   io.Reader
	stdout  io.Writer
}

func (c *command) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "exists":
		if len(args) != 1 {
			return fmt.Errorf("%w: exists <key>", errUsage)
		}
		return c.exists(ctx, storage.ParseKey(args[0]))
	case "list", "ls":
		if len(args) > 1 {
			return fmt.Errorf("%w: list <prefix>", errUsage)
		}
		prefix := storage.Root
		if len(args) == 1 {
			prefix = storage.ParseKey(args[0])
		}
		return c.list(ctx, prefix)
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: get <key> [file]", errUsage)
		}
		return c.get(ctx, storage.ParseKey(args[0]), optional(args, 1))
	case "put":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("%w: put <key> [file]", errUsage)
		}
		return c.put(ctx, storage.ParseKey(args[0]), optional(args, 1))
	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("%w: mv <source> <dest>", errUsage)
		}
		return c.storage.Move(ctx, storage.ParseKey(args[0]), storage.ParseKey(args[1]))
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("%w: rm <key>", errUsage)
		}
		return c.storage.Delete(ctx, storage.ParseKey(args[0]))
	case "browse":
		if len(args) > 1 {
			return fmt.Errorf("%w: browse [addr]", errUsage)
		}
		addr := optional(args, 0)
		if addr == "" {
			addr = ":9100"
		}
		return c.browse(ctx, addr)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func (c *command) exists(ctx context.Context, key storage.Key) error {
	ok, err := c.storage.Exists(ctx, key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, ok)
	return err
}

func (c *command) list(ctx context.Context, prefix storage.Key) error {
	keys, err := c.storage.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := fmt.Fprintln(c.stdout, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *command) get(ctx context.Context, key storage.Key, path string) error {
	content, err := c.storage.Value(ctx, key)
	if err != nil {
		return err
	}
	r, err := content.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	out := c.stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func (c *command) put(ctx context.Context, key storage.Key, path string) error {
	if path == "" || path == "-" {
		return c.storage.Save(ctx, key, storage.NewContent(c.stdin, -1))
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	return c.storage.Save(ctx, key, storage.NewContent(f, info.Size()))
}

func (c *command) browse(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           ui.NewServer(c.storage).Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.WithoutCancel(ctx))
	})
	eg.Go(func() error {
		slog.Info("Starting asto browser", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return eg.Wait()
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			slog.Error("asto failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}
