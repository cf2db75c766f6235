package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a solution manual into the knowledge base",
	Long: `Import a solution manual into the knowledge base.

The file is split into numbered solution steps and indexed for both
lexical and vector search. The format is detected from the file
extension (.txt, .md, .html, .pdf) unless --format is given.

Examples:
  helpdesk import manual-boot.md --tag boot_issue --category hardware
  helpdesk import impressora.pdf --tag printer_issue --keywords "impressora,toner"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		category, _ := cmd.Flags().GetString("category")
		difficulty, _ := cmd.Flags().GetInt("difficulty")
		keywords, _ := cmd.Flags().GetString("keywords")
		format, _ := cmd.Flags().GetString("format")

		if tag == "" {
			return fmt.Errorf("--tag is required")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		if format == "" {
			switch strings.ToLower(filepath.Ext(args[0])) {
			case ".html", ".htm":
				format = "html"
			case ".pdf":
				format = "pdf"
			default:
				format = "text"
			}
		}

		req := map[string]any{
			"problemTag": tag,
			"category":   category,
			"difficulty": difficulty,
			"keywords":   keywords,
			"format":     format,
		}
		if format == "pdf" {
			req["contentBase64"] = base64.StdEncoding.EncodeToString(data)
		} else {
			req["content"] = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/solutions", req)
		if err != nil {
			return err
		}

		var report struct {
			ProblemTag string `json:"problemTag"`
			Steps      int    `json:"steps"`
			Vectors    int    `json:"vectors"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Imported %s: %d steps, %d vectors", report.ProblemTag, report.Steps, report.Vectors)
		return nil
	},
}

func init() {
	importCmd.Flags().String("tag", "", "problem tag the manual belongs to (required)")
	importCmd.Flags().String("category", "", "solution category")
	importCmd.Flags().Int("difficulty", 1, "difficulty level (1-5)")
	importCmd.Flags().String("keywords", "", "comma-separated lexical keywords")
	importCmd.Flags().String("format", "", "content format: text, html or pdf (default: by extension)")
}

// --- threads ---

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect conversation threads",
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Show a thread with its accumulated context as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/threads/"+args[0])
		if err != nil {
			return err
		}

		var thread any
		if err := decodeJSON(resp, &thread); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(thread)
	},
}

var threadsMessagesCmd = &cobra.Command{
	Use:   "messages <thread-id>",
	Short: "Show the message transcript of a thread",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/threads/"+args[0]+"/messages")
		if err != nil {
			return err
		}

		var result struct {
			Messages []struct {
				Role           string `json:"role"`
				Content        string `json:"content"`
				SequenceNumber int    `json:"sequenceNumber"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Messages) == 0 {
			printWarning("no messages in thread %s", args[0])
			return nil
		}
		for _, m := range result.Messages {
			fmt.Printf("%3d %-9s %s\n", m.SequenceNumber, m.Role, m.Content)
		}
		return nil
	},
}

func init() {
	threadsCmd.AddCommand(threadsShowCmd, threadsMessagesCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Show retrieval cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/cache/stats")
		if err != nil {
			return err
		}

		var stats struct {
			Entries   int `json:"entries"`
			TotalHits int `json:"totalHits"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Entries", "%d", stats.Entries)
		printStatus("Hits", "%d", stats.TotalHits)
		return nil
	},
}
