package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/kitchensink/engine/database"
	"github.com/WessleyAI/kitchensink/engine/query"
	"github.com/WessleyAI/kitchensink/engine/record"
	"github.com/WessleyAI/kitchensink/pkg/fn"
	"github.com/spf13/cobra"
)

type queryOutcome struct {
	records []record.Record
	err     error
}

// runQuery runs one session to completion. When ctx ends first the session
// is cancelled and ctx.Err is returned.
func runQuery(ctx context.Context, store query.Store, filter record.Filter, opts query.Options) ([]record.Record, error) {
	r := query.New(store, opts)
	defer r.Close()

	done := make(chan queryOutcome, 1)
	r.Run(filter, func(records []record.Record, err error) {
		done <- queryOutcome{records, err}
	})
	select {
	case o := <-done:
		return o.records, o.err
	case <-ctx.Done():
		r.Cancel()
		return nil, ctx.Err()
	}
}

// runQueryWithRetry reruns failed sessions. Client errors are final.
func runQueryWithRetry(ctx context.Context, store query.Store, filter record.Filter, opts query.Options, retry fn.RetryOpts) ([]record.Record, error) {
	retry.MaxAttempts++
	retry.Retryable = func(err error) bool {
		return !database.IsClientError(err) && !errors.Is(err, context.DeadlineExceeded)
	}
	res := fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[[]record.Record] {
		return fn.FromPair(runQuery(ctx, store, filter, opts))
	})
	return res.Unwrap()
}

// parseFilter builds the filter selected by the query flags.
func parseFilter(text, field, near string, radius float64) (record.Filter, error) {
	switch {
	case text != "" && near != "":
		return record.Filter{}, errors.New("--text and --near are mutually exclusive")
	case text != "":
		f := record.Contains(field, text)
		return f, f.Validate()
	case near != "":
		loc, err := record.ParseLocation(near)
		if err != nil {
			return record.Filter{}, err
		}
		f := record.Near(loc, radius)
		return f, f.Validate()
	default:
		return record.All(), nil
	}
}

func newQueryCommand(a *app) *cobra.Command {
	var (
		recordType string
		text       string
		field      string
		near       string
		radius     float64
		retries    int
		retryWait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a paginated query and print every matching record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseFilter(text, field, near, radius)
			if err != nil {
				return err
			}
			return a.withServices(cmd.Context(), func(s *services) error {
				opts := query.Options{RecordType: recordType, Activity: s.activity, Logger: a.logger}
				retry := fn.RetryOpts{
					MaxAttempts: retries,
					InitialWait: retryWait,
					MaxWait:     30 * time.Second,
					Jitter:      true,
					OnRetry: func(next int, err error) {
						a.logger.Warn("query failed, retrying", "attempt", next, "err", err)
					},
				}
				records, err := runQueryWithRetry(cmd.Context(), s.db, filter, opts, retry)
				if records == nil {
					records = []record.Record{}
				}
				if perr := printJSON(cmd.OutOrStdout(), records); perr != nil {
					return perr
				}
				if err != nil {
					return fmt.Errorf("query %s: %w", filter, err)
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&recordType, "type", record.MovieType, "record type to search")
	flags.StringVar(&text, "text", "", "match records whose fields contain this text, ignoring case")
	flags.StringVar(&field, "field", "", "restrict --text to one field")
	flags.StringVar(&near, "near", "", "match records within --radius of lat,lon")
	flags.Float64Var(&radius, "radius", record.DefaultRadius, "search radius in meters")
	flags.IntVar(&retries, "retries", 0, "rerun a failed query up to this many times")
	flags.DurationVar(&retryWait, "retry-wait", time.Second, "initial wait between retries")
	return cmd
}
