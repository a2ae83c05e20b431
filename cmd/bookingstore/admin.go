package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkilian/bookingstore/pkg/types"
)

var serverURL string

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Inspect and extend the partition directory",
}

var partitionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List partitions with their bounds and sizes",
	Args:  cobra.NoArgs,
	RunE:  runPartitionsList,
}

var partitionsAddCmd = &cobra.Command{
	Use:   "add YEAR",
	Short: "Add a partition boundary at YEAR",
	Long: `Add a partition boundary. Records already stored stay where they are;
only new records route by the new boundary.`,
	Args: cobra.ExactArgs(1),
	RunE: runPartitionsAdd,
}

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "Inspect and repair aggregate summaries",
}

var summariesRecomputeCmd = &cobra.Command{
	Use:   "recompute subject|resource ID",
	Short: "Recompute one summary from the stored records",
	Args:  cobra.ExactArgs(2),
	RunE:  runSummariesRecompute,
}

var summariesVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify every summary and repair drift",
	Args:  cobra.NoArgs,
	RunE:  runSummariesVerify,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BOOKINGSTORE_SERVER", "http://localhost:8080"), "Base URL of a running store")

	rootCmd.AddCommand(partitionsCmd)
	partitionsCmd.AddCommand(partitionsListCmd)
	partitionsCmd.AddCommand(partitionsAddCmd)

	rootCmd.AddCommand(summariesCmd)
	summariesCmd.AddCommand(summariesRecomputeCmd)
	summariesCmd.AddCommand(summariesVerifyCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// call sends a JSON request and decodes a JSON response into out.
func call(method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s (%s, HTTP %d)", e.Error, e.Code, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runPartitionsList(cmd *cobra.Command, args []string) error {
	var parts []types.PartitionInfo
	if err := call(http.MethodGet, "/v1/partitions", nil, &parts); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBOUNDS\tROWS\tSIZE\tINDEXES")
	for _, p := range parts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", p.Name, p.Bounds, p.Rows, p.SizeBytes, len(p.Indexes))
	}
	return w.Flush()
}

func runPartitionsAdd(cmd *cobra.Command, args []string) error {
	year, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("year must be a number: %w", err)
	}
	var info types.PartitionInfo
	if err := call(http.MethodPost, "/v1/partitions", map[string]int{"year": year}, &info); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added %s %s with %d indexes\n", info.Name, info.Bounds, len(info.Indexes))
	return nil
}

func runSummariesRecompute(cmd *cobra.Command, args []string) error {
	var out json.RawMessage
	if err := call(http.MethodPost, "/v1/summaries/"+args[0]+"/"+args[1]+"/recompute", nil, &out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runSummariesVerify(cmd *cobra.Command, args []string) error {
	var out json.RawMessage
	if err := call(http.MethodPost, "/v1/summaries/verify", nil, &out); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
