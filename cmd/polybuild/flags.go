package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// BuildFlags Flag structs to decouple cobra from logic for testing.
type BuildFlags struct {
	All bool
}

type RunFlags struct {
	// Clean removes the build products after the model exits.
	Clean   bool
	Timeout time.Duration
}

type ToolsFlags struct {
	Type     string
	Language string
	Probe    bool
}

type ServeFlags struct {
	Listen   string
	BasePath string
	// For tests we can set NonBlocking to return once the server is up
	NonBlocking bool
}
