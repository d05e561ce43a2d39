package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/ausgabenzettel/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Get        commands.GetCmd          `cmd:"" help:"Fetch the current document"`
		Head       commands.HeadCmd         `cmd:"" help:"Print the fingerprint of the current document"`
		Put        commands.PutCmd          `cmd:"" help:"Replace the document"`
		Bootstrap  commands.BootstrapCmd    `cmd:"" help:"Generate a development CA, server and client certificates"`
		Connection commands.ConnectionFlags `embed:""`
		Debug      bool                     `help:"Enable debug mode."`
		Version    kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("ausgabenzettel"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	commands.SetupLogging(cli.Debug)
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, Connection: cli.Connection})
	cmd.FatalIfErrorf(err)
}
