package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/eddy/pkg/domain"
)

// demoCmd represents the demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a sample interactive exploration",
	Long: `Builds a small pipeline with a replayable sequence source, collects a
downstream node twice to show cache reuse, and optionally evicts the
captured data to start over.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		interval, _ := cmd.Flags().GetDuration("interval")
		n, _ := cmd.Flags().GetInt("head")
		evict, _ := cmd.Flags().GetBool("evict")
		timestamps, _ := cmd.Flags().GetBool("timestamps")

		sess, logger, err := newSession(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		cfg := sess.Config()

		start := time.Now()
		p := domain.NewPipeline("demo")
		seq := p.Apply(&domain.Transform{
			Label: "Sequence",
			Kind:  domain.KindPeriodicSeq,
			Params: map[string]string{
				"count":    fmt.Sprint(count),
				"interval": interval.String(),
			},
			Source: func(ctx context.Context, emit func(domain.Element) bool) error {
				for i := 0; i < count; i++ {
					ok := emit(domain.Element{
						Value:     float64(i),
						EventTime: start.Add(time.Duration(i) * interval),
					})
					if !ok {
						return ctx.Err()
					}
				}
				return nil
			},
		})
		squares := p.Apply(&domain.Transform{
			Label: "Square",
			Kind:  domain.KindMap,
			Fn: func(_ context.Context, in domain.Element, emit func(domain.Element)) error {
				v := in.Value.(float64)
				emit(domain.Element{Value: v * v})
				return nil
			},
		}, seq)

		sess.Watch(map[string]*domain.Node{"seq": seq, "squares": squares})

		logger.Info("collecting", "node", squares.ID)
		elements, err := sess.Head(ctx, squares, n, timestamps)
		if err != nil {
			return err
		}
		printElements(elements, timestamps, cfg.DisplayTimestampFormat, cfg.Location())

		logger.Info("collecting again, served from the cache", "node", squares.ID)
		if _, err := sess.Head(ctx, squares, n, timestamps); err != nil {
			return err
		}

		if evict {
			logger.Info("evicting captured data")
			if err := sess.EvictCapturedData(ctx); err != nil {
				return err
			}
			if _, err := sess.Head(ctx, squares, n, timestamps); err != nil {
				return err
			}
			logger.Info("recomputed after eviction", "generation", sess.Capture().Generation())
		}
		return nil
	},
}

func printElements(elements []domain.Element, timestamps bool, layout string, loc *time.Location) {
	for _, e := range elements {
		if timestamps {
			fmt.Printf("%s\t%v\n", e.EventTime.In(loc).Format(layout), e.Value)
			continue
		}
		fmt.Printf("%v\n", e.Value)
	}
}

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().Int("count", 10, "Number of elements the demo source emits")
	demoCmd.Flags().Duration("interval", 100*time.Millisecond, "Event-time spacing of the demo source")
	demoCmd.Flags().Int("head", 0, "Limit output to the first N elements (0 means all)")
	demoCmd.Flags().Bool("evict", false, "Evict captured data at the end and recompute once")
	demoCmd.Flags().Bool("timestamps", false, "Print event timestamps next to values")
}
