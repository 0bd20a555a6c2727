package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

func init() {
	listCmd.Flags().StringP("kind", "k", "", "Only list records of this kind")
	historyCmd.Flags().IntP("limit", "n", 20, "Number of attempts to show (0 for all)")
	historyCmd.Flags().Bool("id", false, "Treat the argument as a record id")
	eventsCmd.Flags().StringP("kind", "k", "", "Only show events of this kind")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(eventsCmd)
}

// newClient connects to --api, or to the address in the config
func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("api")
	if addr == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		addr = cfg.API.Addr
	}
	if addr == "" {
		addr = config.Default().API.Addr
	}
	return client.NewClient(addr)
}

var getCmd = &cobra.Command{
	Use:   "get KIND KEY",
	Short: "Show one resource",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rec, err := c.Get(cmd.Context(), kind, args[1])
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind types.Kind
		if s, _ := cmd.Flags().GetString("kind"); s != "" {
			k, err := parseKind(s)
			if err != nil {
				return err
			}
			kind = k
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		records, err := c.List(cmd.Context(), kind)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No resources found")
			return nil
		}

		fmt.Printf("%-16s %-32s %-9s %-8s %-8s %s\n", "KIND", "KEY", "STATUS", "DESIRED", "APPLIED", "LAST ERROR")
		for _, rec := range records {
			fmt.Printf("%-16s %-32s %-9s %-8d %-8d %s\n",
				rec.Kind, truncate(rec.Key, 32), rec.Status, rec.DesiredRevision, rec.AppliedRevision, truncate(rec.LastError, 60))
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete KIND KEY",
	Short: "Remove a resource from the host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rec, err := c.Delete(cmd.Context(), kind, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s/%s marked for removal (record %s)\n", rec.Kind, rec.Key, rec.ID)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry KIND KEY",
	Short: "Retry a resource whose attempts are exhausted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		rec, err := c.Retry(cmd.Context(), kind, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s/%s queued (%s)\n", rec.Kind, rec.Key, rec.Status)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history KIND KEY | history --id ID",
	Short: "Show reconciliation attempts, newest first",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		byID, _ := cmd.Flags().GetBool("id")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		var attempts []*types.Attempt
		switch {
		case byID && len(args) == 1:
			attempts, err = c.HistoryByID(cmd.Context(), args[0], limit)
		case !byID && len(args) == 2:
			var kind types.Kind
			if kind, err = parseKind(args[0]); err == nil {
				attempts, err = c.History(cmd.Context(), kind, args[1], limit)
			}
		default:
			return fmt.Errorf("expected KIND KEY, or --id ID")
		}
		if err != nil {
			return err
		}

		if len(attempts) == 0 {
			fmt.Println("No attempts recorded")
			return nil
		}
		fmt.Printf("%-20s %-8s %-8s %-8s %-5s %s\n", "STARTED", "ACTION", "REV", "OUTCOME", "EXIT", "ERROR")
		for _, a := range attempts {
			outcome := string(a.Outcome)
			if a.Discarded {
				outcome += "*"
			}
			fmt.Printf("%-20s %-8s %-8d %-8s %-5d %s\n",
				a.StartedAt.Local().Format(time.DateTime), a.Action, a.RevisionAttempted, outcome, a.ExitCode, truncate(a.Error, 60))
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream resource events",
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind types.Kind
		if s, _ := cmd.Flags().GetString("kind"); s != "" {
			k, err := parseKind(s)
			if err != nil {
				return err
			}
			kind = k
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		enc := json.NewEncoder(os.Stdout)
		return c.WatchEvents(cmd.Context(), kind, func(event *events.Event) error {
			return enc.Encode(event)
		})
	},
}

func printRecord(rec *types.ResourceRecord) {
	fmt.Printf("ID:               %s\n", rec.ID)
	fmt.Printf("Kind:             %s\n", rec.Kind)
	fmt.Printf("Key:              %s\n", rec.Key)
	fmt.Printf("Status:           %s\n", rec.Status)
	fmt.Printf("Desired revision: %d\n", rec.DesiredRevision)
	fmt.Printf("Applied revision: %d\n", rec.AppliedRevision)
	if rec.InFlight {
		fmt.Println("In flight:        yes")
	}
	if rec.LastError != "" {
		fmt.Printf("Last error:       %s (%s)\n", rec.LastError, rec.ErrorClass)
		fmt.Printf("Failed attempts:  %d\n", rec.Attempts)
		if rec.Retryable {
			fmt.Printf("Next attempt:     %s\n", rec.NextAttemptAt.Local().Format(time.DateTime))
		}
	}
	fmt.Printf("Updated:          %s\n", rec.UpdatedAt.Local().Format(time.DateTime))

	spec, err := json.MarshalIndent(rec.Spec, "", "  ")
	if err == nil {
		fmt.Printf("Spec:\n%s\n", spec)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
