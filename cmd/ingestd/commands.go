package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/indexline/ingestd/internal/config"
)

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a document into the vector index",
	Long: `Sync a document into the vector index.

Examples:
  ingestd sync --url https://example.com/post --file ./post.txt
  ingestd sync --url https://example.com/post --text "Full post text"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceURL, _ := cmd.Flags().GetString("url")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		botID, _ := cmd.Flags().GetString("bot")
		contentType, _ := cmd.Flags().GetString("content-type")

		if sourceURL == "" {
			return fmt.Errorf("--url is required")
		}
		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync", map[string]any{
			"text":         text,
			"source_url":   sourceURL,
			"bot_id":       botID,
			"content_type": contentType,
		})
		if err != nil {
			return err
		}

		var result struct {
			Action     string `json:"action"`
			ChunkCount int    `json:"chunk_count"`
			Truncated  bool   `json:"truncated"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Truncated {
			printWarning("content was truncated at the size ceiling")
		}
		printSuccess("%s %s (%d chunks)", result.Action, sourceURL, result.ChunkCount)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("url", "", "canonical source URL for the document")
	syncCmd.Flags().String("text", "", "document text")
	syncCmd.Flags().String("file", "", "file containing document text")
	syncCmd.Flags().String("bot", "", "bot namespace")
	syncCmd.Flags().String("content-type", "", "content type label")
}

// --- delete ---

var deleteCmd = &cobra.Command{
	Use:   "delete <url>",
	Short: "Remove a document from the vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, _ := cmd.Flags().GetString("bot")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/documents?source_url=" + url.QueryEscape(args[0])
		if botID != "" {
			path += "&bot_id=" + url.QueryEscape(botID)
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	deleteCmd.Flags().String("bot", "", "bot namespace")
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage batch ingestion queues",
}

var queueSitemapCmd = &cobra.Command{
	Use:   "sitemap <url>",
	Short: "Queue every page of a sitemap for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createQueue(cmd, "sitemap", args[0])
	},
}

var queuePDFCmd = &cobra.Command{
	Use:   "pdf <url>",
	Short: "Queue every page of a PDF for ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createQueue(cmd, "pdf", args[0])
	},
}

func createQueue(cmd *cobra.Command, queueType, sourceURL string) error {
	botID, _ := cmd.Flags().GetString("bot")
	watch, _ := cmd.Flags().GetBool("watch")

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.post(cmd.Context(), "/queues", map[string]any{
		"type":   queueType,
		"url":    sourceURL,
		"bot_id": botID,
	})
	if err != nil {
		return err
	}

	var created struct {
		QueueID    string `json:"queue_id"`
		TotalItems int    `json:"total_items"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return err
	}

	printSuccess("Queued %d items (queue %s)", created.TotalItems, created.QueueID)
	if !watch {
		return nil
	}
	return watchQueue(cmd, client, created.QueueID)
}

func watchQueue(cmd *cobra.Command, client *apiClient, queueID string) error {
	for {
		resp, err := client.get(cmd.Context(), "/queues/"+queueID+"/status")
		if err != nil {
			return err
		}

		var status struct {
			Completed  int     `json:"completed"`
			Failed     int     `json:"failed"`
			Total      int     `json:"total"`
			Stalled    int     `json:"stalled"`
			Percentage float64 `json:"percentage"`
			Complete   bool    `json:"complete"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStep("%.0f%% (%d/%d done, %d failed)", status.Percentage, status.Completed+status.Failed, status.Total, status.Failed)
		if status.Stalled > 0 {
			printWarning("%d items appear stalled", status.Stalled)
		}
		if status.Complete {
			if status.Failed > 0 {
				printWarning("finished with %d failed items", status.Failed)
			} else {
				printSuccess("Queue complete")
			}
			return nil
		}

		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(2 * time.Second):
		}
	}
}

var queueStatusCmd = &cobra.Command{
	Use:   "status <queue-id>",
	Short: "Show queue progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/queues/"+args[0]+"/status")
		if err != nil {
			return err
		}

		var status any
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var queueCancelCmd = &cobra.Command{
	Use:   "cancel <queue-id>",
	Short: "Cancel a queue, dropping its pending items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/queues/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			Cleared int `json:"cleared"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Cancelled queue %s (%d pending items dropped)", args[0], result.Cleared)
		return nil
	},
}

func init() {
	queueSitemapCmd.Flags().String("bot", "", "bot namespace")
	queueSitemapCmd.Flags().Bool("watch", false, "poll queue status until complete")
	queuePDFCmd.Flags().String("bot", "", "bot namespace")
	queuePDFCmd.Flags().Bool("watch", false, "poll queue status until complete")
	queueCmd.AddCommand(queueSitemapCmd)
	queueCmd.AddCommand(queuePDFCmd)
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueCancelCmd)
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List documents in the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		search, _ := cmd.Flags().GetString("search")
		botID, _ := cmd.Flags().GetString("bot")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/documents?page=%d&page_size=%d", page, pageSize)
		if search != "" {
			path += "&search=" + url.QueryEscape(search)
		}
		if botID != "" {
			path += "&bot_id=" + url.QueryEscape(botID)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var result struct {
			Groups []struct {
				SourceURL  string `json:"source_url"`
				ChunkCount int    `json:"chunk_count"`
			} `json:"groups"`
			TotalGroups int `json:"total_groups"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Groups) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, g := range result.Groups {
			fmt.Printf("%s  %s\n",
				colorize(colorCyan, fmt.Sprintf("%3d chunks", g.ChunkCount)),
				g.SourceURL,
			)
		}
		fmt.Printf("\n%d documents total\n", result.TotalGroups)
		return nil
	},
}

func init() {
	docsCmd.Flags().Int("page", 1, "page number")
	docsCmd.Flags().Int("page-size", 20, "documents per page")
	docsCmd.Flags().String("search", "", "substring filter on source URL")
	docsCmd.Flags().String("bot", "", "bot namespace")
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
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
