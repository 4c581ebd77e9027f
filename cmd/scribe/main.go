package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/scribe/internal/bootstrap"
	cfgPkg "github.com/xhad/scribe/pkg/config"
	"github.com/xhad/scribe/pkg/logger"
	"github.com/xhad/scribe/pkg/output"
	"github.com/xhad/scribe/pkg/scraper"
	"github.com/xhad/scribe/pkg/tracer"
)

type flags struct {
	configPath string
	apiKey     string
	saveMD     bool
	custom     string
	english    bool
	style      string
	provider   string
	search     string
	heavy      bool
	outputDir  string
	verbose    bool
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, scraper.ErrYouTubeRateLimited) {
			color.Red("\nError: %v", err)
			fmt.Fprintln(os.Stderr, "\nYouTube has rate-limited this IP address. Please wait a few hours and try again.")
		} else {
			color.Red("Error: %v", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "scribe <url-or-path>",
		Short: "Write a blog post from a web page, YouTube video or local file",
		Long: `Fetch the content behind a URL, research it with web searches and
write a finished blog post into the output directory.

Examples:
  scribe https://example.com/article
  scribe --english https://www.youtube.com/watch?v=dQw4w9WgXcQ
  scribe --save-md --style my_post.md notes.md`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f, strings.Join(args, " "))
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Path to config file")
	fl.StringVar(&f.apiKey, "api-key", "", "LLM API key (defaults to GOOGLE_API_KEY or OPENAI_API_KEY)")
	fl.BoolVar(&f.saveMD, "save-md", false, "Save the raw post as .md instead of .qmd")
	fl.StringVar(&f.custom, "custom", "", "Extra instruction for the writer")
	fl.BoolVar(&f.english, "english", false, "Translate the post and description into English")
	fl.StringVar(&f.style, "style", "", "Style reference file (default style_reference.md)")
	fl.StringVar(&f.provider, "provider", "", "LLM provider: googleai, ollama or openai")
	fl.StringVar(&f.search, "search", "", "Search provider: duckduckgo, brave, tavily or searxng")
	fl.BoolVar(&f.heavy, "heavy", false, "Render pages in headless Chrome before extracting text")
	fl.StringVar(&f.outputDir, "output", "", "Output directory")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "Log every stage")

	return cmd
}

func loadConfig(f flags) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	cfg.SetLLMProvider(f.provider)
	cfg.SetSearchProvider(f.search)
	if f.apiKey != "" {
		cfg.LLM.APIKey = f.apiKey
	}
	if f.heavy {
		cfg.Scraper.Heavy = true
	}
	if f.saveMD {
		cfg.Output.Format = output.FormatMD
	}
	if f.outputDir != "" {
		cfg.Output.Dir = f.outputDir
	}
	if f.verbose {
		cfg.Logging.Level = "debug"
	}

	if cfg.NeedsAPIKey() && cfg.LLM.APIKey == "" {
		env := "GOOGLE_API_KEY"
		if cfg.LLM.Provider == "openai" {
			env = "OPENAI_API_KEY"
		}
		return nil, fmt.Errorf("%s not found. Please set it as an environment variable or use --api-key", env)
	}
	return cfg, nil
}

func run(ctx context.Context, f flags, input string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	shutdown, err := tracer.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if isURL(input) {
		if prev := app.PreviousPost(ctx, input); prev != nil {
			color.Yellow("Already wrote about this source on %s: %q", prev.CreatedAt.Format("2006-01-02"), prev.Title)
		}
	}

	color.Blue("\nWriting a blog post from %s\n", input)

	opts := app.Options(f.custom, f.style, f.english)
	spin := newProgress()
	opts.Observer = spin.observe
	spin.start()

	post, path, err := app.Generate(ctx, input, opts)
	spin.stop()
	if err != nil {
		return err
	}

	if f.saveMD {
		color.Green("\nBlog post saved to: %s", path)
	} else {
		color.Green("\nQuarto QMD file saved to: %s", path)
	}

	rule := strings.Repeat("=", 80)
	fmt.Println("\n" + rule)
	fmt.Println("FINAL BLOG POST")
	fmt.Println(rule)
	fmt.Println(post.Body)
	fmt.Println(rule)
	return nil
}

func isURL(input string) bool {
	u, err := url.Parse(input)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
