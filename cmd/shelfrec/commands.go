package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/shelfrec/internal/api"
	"github.com/kalambet/shelfrec/internal/config"
	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
)

// --- recommend ---

var recommendCmd = &cobra.Command{
	Use:   "recommend <user>",
	Short: "Recommend books for a reader",
	Long: `Recommend books for a reader from their liked books, authors, genres
and recent searches.

Examples:
  shelfrec recommend alice
  shelfrec recommend alice --limit 5 --remote
  shelfrec recommend alice --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		limit, _ := cmd.Flags().GetInt("limit")
		remote, _ := cmd.Flags().GetBool("remote")
		asJSON, _ := cmd.Flags().GetBool("json")

		var recs recommend.Result
		if remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if recs, err = remoteRecommend(cmd.Context(), client, user, limit); err != nil {
				return err
			}
		} else {
			a, err := loadApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()
			if limit <= 0 {
				limit = a.cfg.Recommend.TopK
			}
			p, err := a.profiles.Get(cmd.Context(), user)
			if err != nil {
				return err
			}
			recs = a.recommender.Recommend(cmd.Context(), p, limit)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		writeRecommendations(os.Stdout, recs)
		return nil
	},
}

func remoteRecommend(ctx context.Context, c *apiClient, user string, limit int) (recommend.Result, error) {
	path := "/users/" + url.PathEscape(user) + "/recommendations"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var recs recommend.Result
	if err := decodeJSON(resp, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func init() {
	recommendCmd.Flags().Int("limit", 0, "maximum number of books (default from recommend.top_k)")
	recommendCmd.Flags().Bool("remote", false, "ask the running server instead of reading the data dir")
	recommendCmd.Flags().Bool("json", false, "print JSON")
}

// --- refresh / reindex ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-ingest the catalog and rebuild the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		async, _ := cmd.Flags().GetBool("async")
		if remote {
			return runRemote(cmd.Context(), "/admin/refresh", async)
		}
		return runLocal(cmd.Context(), func(ctx context.Context, a *app) (refresh.Report, error) {
			return a.driver.Refresh(ctx)
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index from the stored catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetBool("remote")
		if remote {
			return runRemote(cmd.Context(), "/admin/reindex", true)
		}
		return runLocal(cmd.Context(), func(ctx context.Context, a *app) (refresh.Report, error) {
			return a.driver.Rebuild(ctx)
		})
	},
}

func init() {
	refreshCmd.Flags().Bool("remote", false, "run on the server through the admin API")
	refreshCmd.Flags().Bool("async", false, "with --remote, queue the refresh and return its job id")
	reindexCmd.Flags().Bool("remote", false, "queue the rebuild on the server through the admin API")
}

// runLocal runs fn against the data dir. A running server owns the index,
// so local runs are refused while one answers.
func runLocal(ctx context.Context, fn func(context.Context, *app) (refresh.Report, error)) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if _, running := probeServer(cfg.Server.Port); running {
		return fmt.Errorf("server is running on port %d; use --remote", cfg.Server.Port)
	}

	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	printStep("Running, this can take a while...")
	rep, err := fn(ctx, a)
	writeReport(os.Stdout, rep)
	return err
}

func runRemote(ctx context.Context, path string, async bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	if async {
		id, err := remoteEnqueue(ctx, client, path)
		if err != nil {
			return err
		}
		printSuccess("Queued job %s", id)
		return nil
	}

	printStep("Refreshing on the server, this can take a while...")
	rep, err := remoteRefresh(ctx, client)
	if err != nil {
		return err
	}
	writeReport(os.Stdout, rep)
	if rep.Status != "success" {
		return errors.New(rep.Message)
	}
	return nil
}

func remoteEnqueue(ctx context.Context, c *apiClient, path string) (string, error) {
	if path == "/admin/refresh" {
		path += "?async=true"
	}
	resp, err := c.post(ctx, path, nil)
	if err != nil {
		return "", err
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// remoteRefresh runs a synchronous refresh. A failed run still carries its
// report, so a 500 is decoded rather than treated as a transport error.
func remoteRefresh(ctx context.Context, c *apiClient) (refresh.Report, error) {
	resp, err := c.post(ctx, "/admin/refresh", nil)
	if err != nil {
		return refresh.Report{}, err
	}
	if resp.StatusCode == http.StatusInternalServerError {
		defer resp.Body.Close()
		var rep refresh.Report
		if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
			return refresh.Report{}, fmt.Errorf("server returned 500: %w", err)
		}
		return rep, nil
	}
	var rep refresh.Report
	if err := decodeJSON(resp, &rep); err != nil {
		return refresh.Report{}, err
	}
	return rep, nil
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or replace a reader's preferences",
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <user>",
	Short: "Show a reader's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		p, err := a.profiles.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		fmt.Println(profile.Summary(p))
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <user>",
	Short: "Replace a reader's liked books, authors and genres",
	Long: `Replace a reader's liked books, authors and genres. Each flag takes a
comma-separated list; an omitted flag clears that list.

Example:
  shelfrec prefs set alice --books 123,456 --authors "Ursula K. Le Guin" --genres Fantasy`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		books, _ := cmd.Flags().GetString("books")
		authors, _ := cmd.Flags().GetString("authors")
		genres, _ := cmd.Flags().GetString("genres")

		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		saved, err := a.profiles.SavePreferences(cmd.Context(), args[0], profile.Preferences{
			LikedBooks:   splitCSV(books),
			LikedAuthors: splitCSV(authors),
			LikedGenres:  splitCSV(genres),
		})
		if err != nil {
			return err
		}
		printSuccess("Saved %d book(s), %d author(s), %d genre(s) for %s",
			len(saved.LikedBooks), len(saved.LikedAuthors), len(saved.LikedGenres), args[0])
		return nil
	},
}

func init() {
	prefsGetCmd.Flags().Bool("json", false, "print JSON")
	prefsSetCmd.Flags().String("books", "", "comma-separated catalog book ids")
	prefsSetCmd.Flags().String("authors", "", "comma-separated author names")
	prefsSetCmd.Flags().String("genres", "", "comma-separated genre names")
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Record reader searches",
}

var searchLogCmd = &cobra.Command{
	Use:   "log <user> <query>",
	Short: "Record a free-text search for a reader",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, query := args[0], strings.Join(args[1:], " ")

		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		logged, err := a.profiles.LogSearch(cmd.Context(), user, query)
		if err != nil {
			return err
		}
		if !logged {
			printWarning("Ignored: searches need at least %d characters", profile.MinSearchLen)
			return nil
		}
		printSuccess("Logged search %q for %s", strings.TrimSpace(query), user)
		return nil
	},
}

func init() {
	searchCmd.AddCommand(searchLogCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the stored catalog",
}

var catalogCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of catalog books",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.store.CatalogCount(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCountCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close()

		srv := api.NewMCPServer(api.MCPDeps{
			Profiles:     a.profiles,
			Recommender:  a.recommender,
			Status:       a.driver,
			Jobs:         a.store,
			DefaultLimit: a.cfg.Recommend.TopK,
		})
		a.logger.Info("MCP server started (stdio transport)")
		err = server.NewStdioServer(srv).Listen(cmd.Context(), os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mcp server: %w", err)
		}
		return nil
	},
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
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in " + config.DefaultPath() + ".\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
