// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/bep/genmeta/internal"
	"github.com/bep/genmeta/internal/metaservice"
	"github.com/bep/genmeta/internal/render"
	pkgconfig "github.com/bep/genmeta/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// newService creates a service for the one-shot commands, logging as text to stderr.
func newService(cmd *cli.Command, cfg *internal.Config) (*metaservice.Service, error) {
	logger := slog.New(slog.NewTextHandler(cmd.Root().ErrWriter, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	return internal.NewService(cfg, nil, logger)
}

func readFiles(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("no files given")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := newService(cmd, cfg)
	if err != nil {
		return err
	}

	w := cmd.Root().Writer
	for i, filename := range cmd.Args().Slice() {
		res, err := svc.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
		if cmd.Bool("json") {
			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			continue
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, render.View(filename, res.Record))
	}
	return nil
}

func editFile(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", cmd.Args().Len())
	}
	filename := cmd.Args().First()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("retain-text") {
		cfg.Editor.RetainText = true
	}
	svc, err := newService(cmd, cfg)
	if err != nil {
		return err
	}

	req, err := editRequest(cmd)
	if err != nil {
		return err
	}

	outPath, err := svc.EditFile(filename, cmd.String("out"), req)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	fmt.Fprintln(cmd.Root().Writer, outPath)
	return nil
}

func editRequest(cmd *cli.Command) (metaservice.EditRequest, error) {
	var req metaservice.EditRequest
	optional := func(name string) *string {
		if !cmd.IsSet(name) {
			return nil
		}
		s := cmd.String(name)
		return &s
	}
	req.Prompt = optional("prompt")
	req.Negative = optional("negative")
	req.Settings = optional("settings")

	for _, kv := range cmd.StringSlice("param") {
		k, v, found := strings.Cut(kv, "=")
		if !found || strings.TrimSpace(k) == "" {
			return req, fmt.Errorf("invalid --param %q, expected KEY=VALUE", kv)
		}
		if req.Set == nil {
			req.Set = make(map[string]string)
		}
		req.Set[strings.TrimSpace(k)] = v
	}
	req.Remove = cmd.StringSlice("remove")

	return req, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func watch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Args().Len() > 0 {
		cfg.Watch.Paths = cmd.Args().Slice()
	}
	if len(cfg.Watch.Paths) == 0 {
		return fmt.Errorf("no directories to watch: pass them as arguments or set watch.paths in the config")
	}
	return internal.RunWatch(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

func newCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "genmeta",
		Usage:     "Read and edit the generation metadata of AI images and LoRA models",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (YAML or TOML)",
				DefaultText: "genmeta.yaml",
				Value:       "genmeta.yaml",
				Sources:     cli.EnvVars("GENMETA_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "read",
				Usage:     "Print the metadata of one or more files",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the record as JSON"},
				},
				Action: readFiles,
			},
			{
				Name:      "edit",
				Usage:     "Write new metadata to a copy of a PNG or JPEG file",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "prompt", Usage: "New prompt"},
					&cli.StringFlag{Name: "negative", Usage: "New negative prompt"},
					&cli.StringFlag{Name: "settings", Usage: "Replace all settings with this line, e.g. \"Steps: 20, Sampler: Euler\""},
					&cli.StringSliceFlag{Name: "param", Usage: "Set a setting, KEY=VALUE (repeatable)"},
					&cli.StringSliceFlag{Name: "remove", Usage: "Remove a setting by key (repeatable)"},
					&cli.BoolFlag{Name: "retain-text", Usage: "Keep the existing PNG text chunks"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default: <name>_edited<ext> next to the input)"},
				},
				Action: editFile,
			},
			{
				Name:   "serve",
				Usage:  "Start the HTTP editor API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the metadata tools over MCP on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:      "watch",
				Usage:     "Log the metadata of every file added to or changed in the given directories",
				ArgsUsage: "[DIR...]",
				Action:    watch,
			},
		},
	}
}

func main() {
	if err := newCommand(os.Stdout, os.Stderr).Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
