// Command publish enqueues domain events onto the notification queues. It reads
// one JSON event per line from a file or stdin, which makes it usable for
// replaying captured traffic and for smoke tests against a running consumer.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/internal/app"
	"github.com/charlesng35/pinnotify/internal/consumer"
	"github.com/charlesng35/pinnotify/internal/events"
	"github.com/charlesng35/pinnotify/pkg/logger"
)

const maxLineBytes = 1 << 20

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("pinnotify-publish", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var (
		configPath string
		domain     string
		inputPath  string
	)
	fs.StringVar(&configPath, "config", "", "Path to configuration directory")
	fs.StringVar(&domain, "domain", "", "Event domain: chat, content or user")
	fs.StringVar(&inputPath, "file", "", "File with one JSON event per line (default stdin)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	eventDomain, err := parseDomain(domain)
	if err != nil {
		return err
	}

	var paths []string
	if strings.TrimSpace(configPath) != "" {
		paths = append(paths, configPath)
	}
	cfg, err := app.LoadConfig(paths...)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogEncoding); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort
	log := logger.WithModule("publish")

	input := stdin
	if inputPath != "" {
		file, err := os.Open(inputPath)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer file.Close()
		input = file
	}

	producer, err := consumer.NewProducer(cfg.Queue.RedisConnOpt(), cfg.Queue.Partitions)
	if err != nil {
		return err
	}
	defer producer.Close()

	published, err := publishEvents(ctx, producerAdapter{producer: producer}, eventDomain, input, log)
	log.Info("publish finished", zap.Int("published", published))
	return err
}

type eventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type producerAdapter struct {
	producer *consumer.Producer
}

func (a producerAdapter) Publish(ctx context.Context, ev events.Event) error {
	_, err := a.producer.Publish(ctx, ev)
	return err
}

// publishEvents decodes every non-blank line and publishes it. Malformed lines
// are reported and skipped; a publish failure aborts the run.
func publishEvents(ctx context.Context, pub eventPublisher, domain events.Domain, input io.Reader, log *zap.Logger) (int, error) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	published := 0
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return published, err
		}
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		ev, err := events.Decode(domain, []byte(raw))
		if err != nil {
			log.Warn("skipping malformed event", zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := pub.Publish(ctx, ev); err != nil {
			return published, fmt.Errorf("publish line %d: %w", line, err)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, fmt.Errorf("read input: %w", err)
	}
	return published, nil
}

func parseDomain(value string) (events.Domain, error) {
	switch events.Domain(strings.ToLower(strings.TrimSpace(value))) {
	case events.DomainChat:
		return events.DomainChat, nil
	case events.DomainContent:
		return events.DomainContent, nil
	case events.DomainUser:
		return events.DomainUser, nil
	default:
		return "", fmt.Errorf("unknown event domain %q", value)
	}
}
