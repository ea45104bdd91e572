package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	_ = godotenv.Load()

	switch os.Args[1] {
	case "fingerprint":
		var opts fingerprintOptions
		fpCmd := pflag.NewFlagSet("fingerprint", pflag.ExitOnError)
		fpCmd.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
		fpCmd.BoolVar(&opts.raw, "raw", false, "input is already mono s16le PCM at the configured rate")
		fpCmd.IntVar(&opts.chunk, "chunk", 0, "bytes per write (default: server.chunk_size)")
		fpCmd.BoolVar(&opts.mqtt, "mqtt", false, "also publish batches to the configured MQTT broker")
		fpCmd.BoolVar(&opts.progress, "progress", false, "show a progress bar on stderr")
		fpCmd.BoolVar(&opts.flat, "flat", false, "write one {tcode, seconds, hash} object per line")
		fpCmd.Parse(os.Args[2:])
		if fpCmd.NArg() < 1 {
			fmt.Println("usage: landmark-stream fingerprint [--config f] [--raw] [--chunk n] [--mqtt] [--progress] [--flat] <path|url|->")
			os.Exit(1)
		}
		fingerprint(fpCmd.Arg(0), opts)

	case "serve":
		serveCmd := pflag.NewFlagSet("serve", pflag.ExitOnError)
		cfgPath := serveCmd.StringP("config", "c", "", "YAML config file")
		port := serveCmd.StringP("port", "p", "", "port to use (default: server.port)")
		serveCmd.Parse(os.Args[2:])
		serve(*cfgPath, *port)

	case "config":
		cfgCmd := pflag.NewFlagSet("config", pflag.ExitOnError)
		cfgPath := cfgCmd.StringP("config", "c", "", "YAML config file")
		cfgCmd.Parse(os.Args[2:])
		printConfig(*cfgPath)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: landmark-stream <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  fingerprint [flags] <path|url|->   stream audio through the fingerprinter, NDJSON on stdout")
	fmt.Println("  serve [-c file] [-p port]          start the HTTP/websocket server")
	fmt.Println("  config [-c file]                   print the effective configuration")
}
