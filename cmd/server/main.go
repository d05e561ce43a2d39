package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/ausgabenzettel/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool   `help:"Enable debug mode."`
		LogLevel string `help:"Log level (trace, debug, info, warn, error)." env:"AUSGABENZETTEL_LOG_LEVEL"`
		Version  kong.VersionFlag
		Server   commands.ServerCmd `cmd:"" default:"withargs" help:"Serve the document over mutual TLS"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ausgabenzettel-server"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, LogLevel: cli.LogLevel, Version: version})
	cmd.FatalIfErrorf(err)
}
