package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/xhad/ragingest/pkg/llm"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragingest",
		Usage: "Load PDFs and web pages into a vector store for retrieval",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.IntFlag{
				Name:  "max-concurrent",
				Usage: "Maximum number of sources loaded at once",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Maximum chunk length in characters",
			},
			&cli.IntFlag{
				Name:  "chunk-overlap",
				Usage: "Characters shared between consecutive chunks",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Load and chunk sources without writing to the vector store",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "process",
				Usage:  "Process a single PDF file",
				Action: processCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "pdf-path",
						Aliases:  []string{"p"},
						Usage:    "Path to the PDF file",
						Required: true,
					},
				},
			},
			{
				Name:   "process-urls",
				Usage:  "Process one or more web pages",
				Action: processURLsCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "urls",
						Aliases:  []string{"u"},
						Usage:    "URL to process (repeatable)",
						Required: true,
					},
				},
			},
			{
				Name:   "process-batch",
				Usage:  "Process a mixed list of PDF paths and URLs",
				Action: processBatchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "sources",
						Aliases: []string{"s"},
						Usage:   "PDF path or URL (repeatable)",
					},
					&cli.StringFlag{
						Name:  "sources-file",
						Usage: "JSON file holding an array of sources",
					},
				},
			},
			{
				Name:   "query",
				Usage:  "Ask a question against stored chunks",
				Action: queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "question",
						Aliases:  []string{"q"},
						Usage:    "Question to answer",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to retrieve",
						Value: llm.DefaultTopK,
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Chat model to use instead of the configured one",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the websocket ingest and query server",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
					},
					&cli.BoolFlag{
						Name:  "stream",
						Usage: "Stream query answers",
						Value: true,
					},
				},
			},
			{
				Name:      "debug-url",
				Usage:     "Fetch a URL and show what would be extracted",
				ArgsUsage: "<url>",
				Action:    debugURLCommand,
			},
		},
	}
}
