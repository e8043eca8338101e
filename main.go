// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/protobench/internal/app"
	"github.com/petervdpas/protobench/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	cfgName  = flag.String("config", "protobench.json", "Config file, relative to the project directory")
	lowEnd   = flag.Bool("low-end", false, "export: tag the document for constrained devices")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("protobench v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	command := args[0]

	switch command {
	case "serve", "export":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Error: %s command requires directory path\n", command)
			fmt.Fprintf(os.Stderr, "Usage: protobench %s <project-directory>\n", command)
			os.Exit(1)
		}
		dir, cfgPath, cfg := loadProject(args[1], command == "serve")
		if command == "serve" {
			runServe(dir, cfgPath, cfg)
		} else {
			runExport(dir, cfgPath, cfg)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

// loadProject resolves the project directory and its config. serve creates
// a default config when none exists; export never writes.
func loadProject(dirArg string, create bool) (string, string, config.Config) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid project directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Project directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, *cfgName)
	var cfg config.Config
	switch {
	case create:
		cfg, _, err = config.Ensure(cfgPath)
	default:
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			cfg = config.Default()
		} else {
			cfg, err = config.Load(cfgPath)
		}
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return absDir, cfgPath, cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("\nShutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func runServe(dir, cfgPath string, cfg config.Config) {
	printBanner(dir, cfgPath, cfg)

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Run(ctx, app.Options{
		ProjectDir: dir,
		CfgPath:    cfgPath,
		Cfg:        cfg,
		Ready: func(url string) {
			fmt.Printf("🌐 Workbench:  %s\n\n", url)
		},
	}); err != nil {
		log.Fatalf("Workbench failed: %v", err)
	}
}

func runExport(dir, cfgPath string, cfg config.Config) {
	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Export(ctx, app.Options{
		ProjectDir: dir,
		CfgPath:    cfgPath,
		Cfg:        cfg,
	}, os.Stdout, *lowEnd); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("protobench - browser prototyping workbench")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  protobench serve <directory>    Edit and preview a project")
	fmt.Println("  protobench export <directory>   Write the project document to stdout")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config    Config file name (default protobench.json; .yaml also accepted)")
	fmt.Println("  -low-end   Tag exported documents for constrained devices")
	fmt.Println("  -h         Show this help message")
	fmt.Println("  -version   Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  protobench serve ./prototypes/landing")
	fmt.Println("  protobench -low-end export ./prototypes/landing > landing.json")
}

func printBanner(dir, cfgPath string, cfg config.Config) {
	fmt.Println("╔════════════════════════════════════════════════════════╗")
	fmt.Println("║                  protobench workbench                  ║")
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Project Directory: %s\n", dir)
	fmt.Printf("Config File:       %s\n", cfgPath)
	fmt.Printf("Profile:           %s\n", cfg.Profile)
	if cfg.Storage.Enabled {
		fmt.Printf("Saved Project:     %s\n", cfg.Storage.Project)
	}
	fmt.Println()
	fmt.Println("Starting workbench... (Press Ctrl+C to stop)")
	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Println()
}
