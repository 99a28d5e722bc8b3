package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/cassette-replay/internal/cassette"
	"github.com/tjfontaine/cassette-replay/internal/fetch"
	"github.com/tjfontaine/cassette-replay/internal/replay"
	"github.com/tjfontaine/cassette-replay/internal/tokens"
	"github.com/tjfontaine/cassette-replay/internal/validate"
)

// errInvalid makes the process exit non-zero after validate has printed its report.
var errInvalid = errors.New("fixture validation failed")

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "cassette",
		Usage:     "inspect, validate and replay recorded LLM fixtures",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log at debug level"},
		},
		Commands: []*cli.Command{
			{
				Name:      "path",
				Usage:     "print the fixture path for a project-relative source path",
				ArgsUsage: "<source-path>",
				Action:    runPath,
			},
			{
				Name:      "url",
				Usage:     "print the fixture URL for a source file rendered on a page",
				ArgsUsage: "<source-file|->",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "location", Usage: "absolute URL of the page showing the source", Required: true},
				},
				Action: runURL,
			},
			{
				Name:  "validate",
				Usage: "check that every example source has a well-formed, current fixture",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "root", Value: ".", Usage: "project root"},
					&cli.StringFlag{Name: "content", Value: "content", Usage: "content directory below the root"},
					&cli.StringFlag{Name: "fixtures", Usage: "directory holding cassettes/ (default: the project root)"},
					&cli.StringSliceFlag{Name: "ext", Value: []string{".py"}, Usage: "source extensions to check"},
					&cli.BoolFlag{Name: "json", Usage: "print the full report as JSON"},
				},
				Action: runValidate,
			},
			{
				Name:      "play",
				Usage:     "replay a fixture file or URL to stdout",
				ArgsUsage: "<fixture-file|url>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interaction-delay", Usage: "delay before each interaction"},
					&cli.DurationFlag{Name: "chunk-delay", Usage: "delay before each chunk"},
					&cli.IntFlag{Name: "retries", Value: 3, Usage: "download retries for URLs"},
					&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "download timeout per attempt"},
					&cli.BoolFlag{Name: "public-only", Usage: "refuse URLs that resolve to private or loopback addresses"},
					&cli.BoolFlag{Name: "summary", Usage: "print chunk and token counts to stderr"},
				},
				Action: runPlay,
			},
		},
	}
}

func newLogger(cmd *cli.Command) *slog.Logger {
	level := slog.LevelWarn
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{Level: level}))
}

func oneArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("%s: expected exactly one argument %s", cmd.Name, cmd.ArgsUsage)
	}
	return cmd.Args().First(), nil
}

func runPath(ctx context.Context, cmd *cli.Command) error {
	source, err := oneArg(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, cassette.FixturePath(source))
	return nil
}

func runURL(ctx context.Context, cmd *cli.Command) error {
	file, err := oneArg(cmd)
	if err != nil {
		return err
	}

	location, err := url.Parse(cmd.String("location"))
	if err != nil || location.Scheme == "" || location.Host == "" {
		return fmt.Errorf("--location must be an absolute URL")
	}

	var source []byte
	if file == "-" {
		source, err = io.ReadAll(os.Stdin)
	} else {
		source, err = os.ReadFile(file)
	}
	if err != nil {
		return err
	}

	u, err := cassette.FixtureURL(string(source), location)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, u.String())
	return nil
}

func runValidate(ctx context.Context, cmd *cli.Command) error {
	opts := []validate.Option{
		validate.WithContentDir(cmd.String("content")),
		validate.WithExtensions(cmd.StringSlice("ext")...),
		validate.WithLogger(newLogger(cmd)),
	}
	if dir := cmd.String("fixtures"); dir != "" {
		opts = append(opts, validate.WithFixtureRoot(dir))
	}

	report, err := validate.New(cmd.String("root"), opts...).Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	if cmd.Bool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		for _, res := range report.Failed() {
			for _, issue := range res.Issues {
				fmt.Fprintf(out, "%s: %s: %s\n", res.Source, issue.Type, issue.Message)
			}
		}
		fmt.Fprintf(out, "%d sources checked, %d failed\n", len(report.Results), len(report.Failed()))
	}

	if !report.Valid() {
		return errInvalid
	}
	return nil
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
	target, err := oneArg(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)

	f, err := loadFixture(ctx, cmd, target, logger)
	if err != nil {
		return err
	}

	player := replay.NewPlayer(f, replay.WithLogger(logger))
	stream := player.Play(replay.Delays{
		Interaction: replay.Fixed(cmd.Duration("interaction-delay")),
		Chunk:       replay.Fixed(cmd.Duration("chunk-delay")),
	})

	out := cmd.Root().Writer
	var text strings.Builder
	chunks := 0
	for ev := range stream.Subscribe(ctx) {
		if ev.Err != nil {
			fmt.Fprintln(out)
			return ev.Err
		}
		fmt.Fprint(out, ev.Chunk)
		text.WriteString(ev.Chunk)
		chunks++
	}
	fmt.Fprintln(out)
	if err := ctx.Err(); err != nil {
		return err
	}

	if cmd.Bool("summary") {
		count, err := tokens.ForModel(f.Model()).Count(text.String())
		if err != nil {
			return err
		}
		approx := ""
		if count.Estimated {
			approx = "~"
		}
		fmt.Fprintf(cmd.Root().ErrWriter, "%s: %s, %d interactions, %d chunks, %s%d tokens (%s)\n",
			target, f.Type(), f.Len(), chunks, approx, count.Tokens, count.Encoding)
	}
	return nil
}

func loadFixture(ctx context.Context, cmd *cli.Command, target string, logger *slog.Logger) (*cassette.Fixture, error) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		opts := []fetch.Option{
			fetch.WithMaxRetries(int(cmd.Int("retries"))),
			fetch.WithHTTPClient(&http.Client{Timeout: cmd.Duration("timeout")}),
			fetch.WithLogger(logger),
		}
		if cmd.Bool("public-only") {
			opts = append(opts, fetch.WithPublicOnly())
		}
		return fetch.New(opts...).Fetch(ctx, target)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	if !cassette.Sniff(data) {
		return nil, &cassette.NotFixtureError{Source: target}
	}
	return cassette.Parse(data)
}
