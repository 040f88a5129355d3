package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wesm/maildex/internal/search"
	"github.com/wesm/maildex/internal/textutil"
)

var (
	searchOrder  string
	searchLimit  int
	searchOffset int
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the indexed archive with a boolean keyword query",
	Long: `Search evaluates a boolean, field-qualified term list against the
posting store. A bare word intersects; a +word unions; a -word subtracts.
"field:value" looks the value up under that field (e.g. from:alice,
subject:lunch, tag:3); body:value is the same as a bare word.

Examples:
  maildex search project report
  maildex search from:alice +from:bob -tag:5
  maildex search subject:"lunch plans"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		queryStr := strings.Join(args, " ")
		terms, warnings := search.ParseQuery(queryStr)
		for _, w := range warnings {
			console.Warning(w)
		}
		if len(terms) == 0 {
			console.Say("no results")
			return nil
		}

		a, err := openArchive()
		if err != nil {
			return err
		}
		defer a.Close()

		ev := &search.Evaluator{Store: a.Store, IndexLen: a.Index.Len()}
		hits, err := ev.Evaluate(terms)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		order := searchOrder
		if order == "" {
			order = cfg.Get("default_order", "reverse_date")
		}
		spec := search.ParseSortSpec(order)
		sortMax := knobInt("sort_max", 5000)
		sorted, warning := search.SortAndCollapse(hits, a.Index, spec, sortMax, time.Now().UnixNano())
		if warning != "" {
			console.Warning(warning)
		}

		limit := searchLimit
		if limit <= 0 {
			limit = knobInt("num_results", 20)
		}
		page := paginate(sorted, searchOffset, limit)

		if len(page) == 0 {
			console.Say("no results")
			return nil
		}
		if searchJSON {
			return outputSearchJSON(a, page)
		}
		return outputSearchTable(a, page)
	},
}

func paginate(ids []int64, offset, limit int) []int64 {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}

func outputSearchTable(a *archive, ids []int64) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IID\tDATE\tFROM\tSUBJECT\tTAGS")
	for _, iid := range ids {
		mr, ok := a.Index.Get(iid)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			strconv.FormatInt(mr.IID, 10),
			mr.Date.Format("2006-01-02"),
			textutil.TruncateRunes(mr.From, 30),
			textutil.TruncateRunes(mr.Subject, 60),
			strings.Join(mr.Tags, ","),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nShowing %d result(s)\n", len(ids))
	return nil
}

func outputSearchJSON(a *archive, ids []int64) error {
	type row struct {
		IID     int64    `json:"iid"`
		Date    string   `json:"date"`
		From    string   `json:"from"`
		Subject string   `json:"subject"`
		Tags    []string `json:"tags"`
	}
	out := make([]row, 0, len(ids))
	for _, iid := range ids {
		mr, ok := a.Index.Get(iid)
		if !ok {
			continue
		}
		out = append(out, row{IID: mr.IID, Date: mr.Date.Format(time.RFC3339), From: mr.From, Subject: mr.Subject, Tags: mr.Tags})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	searchCmd.Flags().StringVar(&searchOrder, "order", "", "sort key, e.g. date, rev-date, subject-flat (default: default_order config knob)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default: num_results config knob)")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "skip the first N results (for paging)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(searchCmd)
}
