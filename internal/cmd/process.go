package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pagevault/ingestd/internal/pipeline"
)

func newProcessCmd() *cobra.Command {
	var (
		tags            []string
		cleaners        []string
		byTags          bool
		includeChildren bool
		requireAll      bool
		noSkip          bool
	)

	cmd := &cobra.Command{
		Use:   "process [urls...]",
		Short: "Process URLs, or all URLs carrying the given tags.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFromContext(cmd)
			if err != nil {
				return err
			}

			opts := pipeline.Options{
				Tags:     tags,
				Cleaners: cleaners,
			}
			if noSkip {
				skip := false
				opts.SkipUnchangedContent = &skip
			}

			var results []pipeline.ProcessingResult
			if byTags {
				if len(tags) == 0 {
					return fmt.Errorf("--by-tags requires --tag")
				}
				results, err = a.Orchestrator().ProcessURLsByTags(cmd.Context(), tags, pipeline.BatchTagOptions{
					IncludeChildTags: includeChildren,
					RequireAllTags:   requireAll,
					Options: pipeline.Options{
						Cleaners:             cleaners,
						SkipUnchangedContent: opts.SkipUnchangedContent,
					},
				})
				if err != nil {
					return fmt.Errorf("process by tags: %w", err)
				}
			} else {
				if len(args) == 0 {
					return fmt.Errorf("at least one URL required")
				}
				results = a.Orchestrator().ProcessURLs(cmd.Context(), args, opts)
			}

			summary := pipeline.Summarize(results)
			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return fmt.Errorf("encode summary: %w", err)
			}
			cmd.Println(string(out))
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d urls failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach, or to select by with --by-tags (repeatable)")
	cmd.Flags().StringSliceVar(&cleaners, "cleaner", nil, "cleaner chain override, in order (repeatable)")
	cmd.Flags().BoolVar(&byTags, "by-tags", false, "process every tracked URL carrying the given tags")
	cmd.Flags().BoolVar(&includeChildren, "include-children", false, "expand tags to their subtrees")
	cmd.Flags().BoolVar(&requireAll, "require-all", false, "only URLs carrying every named tag")
	cmd.Flags().BoolVar(&noSkip, "no-skip-unchanged", false, "reprocess even when content is unchanged")

	return cmd
}
