package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/axonhq/axon/internal/pipeline"
)

var (
	embedCollection string
	embedTitle      string
	embedNoChunk    bool
)

var embedCmd = &cobra.Command{
	Use:   "embed [path...]",
	Short: "Embed local files, directories, or stdin into the vector store",
	Long: `Embed chunks the given files and writes their vectors. Directories are
walked recursively, honoring the configured exclude lists. With no arguments,
content is read from stdin.

Examples:
  axon embed README.md docs/
  cat notes.md | axon embed
  axon embed --collection mydocs --no-chunk snippet.txt`,
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
	embedCmd.Flags().StringVar(&embedCollection, "collection", "", "Target collection (default: routed automatically)")
	embedCmd.Flags().StringVar(&embedTitle, "title", "", "Document title (default: file name)")
	embedCmd.Flags().BoolVar(&embedNoChunk, "no-chunk", false, "Embed each document as a single chunk")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()
	ctx := cmd.Context()

	if len(args) == 0 {
		return embedStdin(cmd, app)
	}

	paths, err := collectFiles(app, args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no embeddable files under %s", strings.Join(args, ", "))
	}

	items := make([]pipeline.BatchItem, 0, len(paths))
	for _, path := range paths {
		item, err := batchItemForFile(path)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	result, err := app.pipeline.BatchEmbed(ctx, items)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(result)
	}
	fmt.Printf("embedded %d of %d documents\n", result.Succeeded, len(items))
	for _, failure := range result.Failed {
		fmt.Fprintf(os.Stderr, "  failed %s: %v\n", failure.SourceID, failure.Err)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d documents failed", len(result.Failed))
	}
	return nil
}

func embedStdin(cmd *cobra.Command, app *app) error {
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	src := pipeline.SourceFromStdin(content)
	result, err := app.pipeline.AutoEmbed(cmd.Context(), string(content), pipeline.Meta{
		Source:        src,
		Title:         embedTitle,
		SourceCommand: "embed",
		ContentType:   "text",
		Collection:    embedCollection,
		NoChunk:       embedNoChunk,
	})
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(result)
	}
	fmt.Printf("embedded stdin as %s (%d chunks, collection %s)\n", result.SourceID, result.Chunks, result.Collection)
	return nil
}

func batchItemForFile(path string) (pipeline.BatchItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.BatchItem{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.BatchItem{}, fmt.Errorf("stat %s: %w", path, err)
	}
	src, err := pipeline.SourceFromFile(path)
	if err != nil {
		return pipeline.BatchItem{}, err
	}

	title := embedTitle
	if title == "" {
		title = filepath.Base(path)
	}
	return pipeline.BatchItem{
		Content: string(data),
		Meta: pipeline.Meta{
			Source:        src,
			Title:         title,
			SourceCommand: "embed",
			ContentType:   contentTypeForExt(filepath.Ext(path)),
			Collection:    embedCollection,
			NoChunk:       embedNoChunk,
			FileInfo: &pipeline.FileInfo{
				PathRel:    src.ID,
				Name:       filepath.Base(path),
				Ext:        filepath.Ext(path),
				SizeBytes:  info.Size(),
				ModifiedAt: info.ModTime(),
			},
		},
	}, nil
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	default:
		return "text"
	}
}

// collectFiles expands arguments into a file list, walking directories and
// honoring the configured exclude paths and extensions.
func collectFiles(app *app, args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if slices.Contains(app.settings.DefaultExcludePaths, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if slices.Contains(app.settings.DefaultExcludeExtensions, strings.ToLower(filepath.Ext(path))) {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}
