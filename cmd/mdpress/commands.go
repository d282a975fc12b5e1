package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/mdpress/internal/config"
)

// --- upload ---

type uploadResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ID       string `json:"id"`
	URL      string `json:"url"`
	Template string `json:"template"`
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file]",
	Short: "Upload a Markdown document and print its view URL",
	Long: `Upload a Markdown document and print its view URL.

Reads the file argument, or standard input when no file (or "-") is given.

Examples:
  mdpress upload notes.md --template tech_intro
  cat post.md | mdpress upload --title "Release notes"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, _ := cmd.Flags().GetString("template")
		title, _ := cmd.Flags().GetString("title")

		var content []byte
		var err error
		if len(args) == 0 || args[0] == "-" {
			content, err = io.ReadAll(cmd.InOrStdin())
		} else {
			content, err = os.ReadFile(args[0])
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
		}
		if err != nil {
			return fmt.Errorf("reading markdown: %w", err)
		}
		if len(bytes.TrimSpace(content)) == 0 {
			return fmt.Errorf("markdown content is empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := uploadDocument(cmd.Context(), client, string(content), tmpl, title)
		if err != nil {
			return err
		}

		printSuccess("%s (template %s)", res.Message, res.Template)
		fmt.Fprintln(cmd.OutOrStdout(), res.URL)
		return nil
	},
}

func uploadDocument(ctx context.Context, c *apiClient, content, tmpl, title string) (uploadResult, error) {
	resp, err := c.postJSON(ctx, "/upload", map[string]string{
		"content":  content,
		"template": tmpl,
		"title":    title,
	})
	if err != nil {
		return uploadResult{}, err
	}
	var res uploadResult
	if err := decodeJSON(resp, &res); err != nil {
		return uploadResult{}, err
	}
	return res, nil
}

func init() {
	uploadCmd.Flags().String("template", "", "page template (default general)")
	uploadCmd.Flags().String("title", "", "page title (default: file name)")
}

// --- view ---

var viewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Print the rendered HTML page of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, _ := cmd.Flags().GetString("template")
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		if tmpl != "" {
			q.Set("template", tmpl)
		}
		if title != "" {
			q.Set("title", title)
		}
		path := "/view/" + url.PathEscape(args[0])
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		h := http.Header{}
		h.Set("Accept", "application/json")
		resp, err := client.do(cmd.Context(), http.MethodGet, path, nil, h)
		if err != nil {
			return err
		}
		var page struct {
			Template string `json:"template"`
			Title    string `json:"title"`
			HTML     string `json:"html"`
		}
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		printStatus("Template", "%s", page.Template)
		printStatus("Title", "%s", page.Title)
		fmt.Fprint(cmd.OutOrStdout(), page.HTML)
		return nil
	},
}

func init() {
	viewCmd.Flags().String("template", "", "render with a different template")
	viewCmd.Flags().String("title", "", "render with a different title")
}

// --- templates ---

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the available page templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/templates")
		if err != nil {
			return err
		}
		var list struct {
			Templates []struct {
				Name        string `json:"name"`
				DisplayName string `json:"displayName"`
				Description string `json:"description"`
			} `json:"templates"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, t := range list.Templates {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.DisplayName, t.Description)
		}
		return tw.Flush()
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <title>",
	Short: "Generate an article with the Dify workflow",
	Long: `Generate an article with the Dify workflow and print it as Markdown.

Progress is printed to stderr while the article streams in. With --upload the
finished article is stored and its view URL printed instead.

Examples:
  mdpress generate "WebAssembly 入门" --style 通俗
  mdpress generate "Go 1.23 发布" --style 新闻 --upload --template news_broad`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		style, _ := cmd.Flags().GetString("style")
		background, _ := cmd.Flags().GetString("context")
		key, _ := cmd.Flags().GetString("api-key")
		upload, _ := cmd.Flags().GetBool("upload")
		tmpl, _ := cmd.Flags().GetString("template")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		article, err := streamArticle(ctx, client, args[0], style, background, key)
		if err != nil {
			return err
		}

		if !upload {
			fmt.Fprintln(cmd.OutOrStdout(), article)
			return nil
		}
		res, err := uploadDocument(ctx, client, article, tmpl, args[0])
		if err != nil {
			return err
		}
		printSuccess("%s", res.Message)
		fmt.Fprintln(cmd.OutOrStdout(), res.URL)
		return nil
	},
}

// streamArticle follows the article SSE feed and returns the finished text.
func streamArticle(ctx context.Context, c *apiClient, title, style, background, key string) (string, error) {
	q := url.Values{}
	q.Set("title", title)
	if style != "" {
		q.Set("style", style)
	}
	if background != "" {
		q.Set("context", background)
	}
	if key != "" {
		q.Set("apiKey", key)
	}

	// The generation can outlive the default client timeout.
	streaming := *c
	streaming.httpClient = &http.Client{Transport: c.httpClient.Transport}

	h := http.Header{}
	h.Set("Accept", "text/event-stream")
	resp, err := streaming.do(ctx, http.MethodGet, "/api/dify/generateArticle?"+q.Encode(), nil, h)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", decodeJSON(resp, nil)
	}
	defer resp.Body.Close()

	var article string
	var lastStatus string
	err = readFrames(resp.Body, func(f streamFrame) error {
		if f.Error != "" {
			return fmt.Errorf("generation failed: %s", f.Error)
		}
		if f.Status != "" && f.Status != lastStatus {
			printStep("%s", f.Status)
			lastStatus = f.Status
		}
		if f.Done {
			article = f.Content
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("generation canceled")
		}
		return "", err
	}
	if article == "" {
		return "", fmt.Errorf("generation ended without content")
	}
	return article, nil
}

func init() {
	generateCmd.Flags().String("style", "", "article style, e.g. 技术, 新闻, 通俗")
	generateCmd.Flags().String("context", "", "background information for the article")
	generateCmd.Flags().String("api-key", "", "Dify article workflow key (when the server has none)")
	generateCmd.Flags().Bool("upload", false, "upload the finished article and print its URL")
	generateCmd.Flags().String("template", "", "template used with --upload")
}

// --- history ---

type generationRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Style      string    `json:"style"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	Content    string    `json:"content"`
	Error      string    `json:"error"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent article generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		gens, err := fetchHistory(cmd.Context(), client, limit, offset)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(gens)
		}
		if len(gens) == 0 {
			printWarning("No generations recorded yet")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tSOURCE\tATTEMPTS\tDURATION\tTITLE")
		for _, g := range gens {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				shortID(g.ID), g.CreatedAt.Local().Format("2006-01-02 15:04"), g.Status, g.Source,
				g.Attempts, (time.Duration(g.DurationMs) * time.Millisecond).Round(100*time.Millisecond), g.Title)
		}
		return tw.Flush()
	},
}

func fetchHistory(ctx context.Context, c *apiClient, limit, offset int) ([]generationRecord, error) {
	resp, err := c.get(ctx, fmt.Sprintf("/api/generations?limit=%d&offset=%d", limit, offset))
	if err != nil {
		return nil, err
	}
	var body struct {
		Generations []generationRecord `json:"generations"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Generations, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of generations to list")
	historyCmd.Flags().Int("offset", 0, "number of generations to skip")
	historyCmd.Flags().Bool("json", false, "print full records as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys are written to the platform secret store.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
