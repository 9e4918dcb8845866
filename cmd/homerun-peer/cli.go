package main

import "flag"

// Options holds CLI options for the peer.
type Options struct {
	ConfigPath string
	PlayerType string
	Local      bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("homerun-peer", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.PlayerType, "player", "none", "Player type: batter, pitcher or none")
	fs.BoolVar(&opts.Local, "local", false, "Start a practice match as soon as the identity resolves")
	_ = fs.Parse(args)
	return opts
}
