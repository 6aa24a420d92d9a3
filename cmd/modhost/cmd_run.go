package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/task"
)

func newRunCmd(g *globals) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Instantiate a module and run it on the worker pool",
		Long: `Loads the module directory, creates count fresh instances of the named
module and submits each to the executor. The module's instances must be
work units (Lua objects with a run method, or Go values with Run).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.newApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			if _, err := a.Scan(cmd.Context()); err != nil {
				return err
			}

			var (
				mu     sync.Mutex
				failed int
				wg     sync.WaitGroup
			)
			out := cmd.OutOrStdout()
			a.Executor().AddListener(task.AfterExecute, func(ev task.Event) {
				defer wg.Done()
				mu.Lock()
				defer mu.Unlock()
				if ev.Err != nil {
					failed++
					fmt.Fprintf(out, "%s failed after %s: %v\n", ev.ID, ev.Duration, ev.Err)
					return
				}
				fmt.Fprintf(out, "%s done in %s\n", ev.ID, ev.Duration)
			})

			for i := 0; i < count; i++ {
				wg.Add(1)
				if _, err := a.Submit(args[0]); err != nil {
					wg.Done()
					return err
				}
			}
			wg.Wait()

			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, count)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of instances to run")
	return cmd
}
