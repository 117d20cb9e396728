package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Create, inspect, update, rotate, and revoke API keys. Keys are addressed by
ID or by their display prefix (kg_ followed by 8 hex characters).`,
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyUpdateCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyStateCmd("revoke", "Deactivate an API key", model.KeyStateInactive))
	cmd.AddCommand(newKeyStateCmd("activate", "Re-enable a deactivated API key", model.KeyStateActive))
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// quotaFlags are shared by create and update.
type quotaFlags struct {
	limit     int64
	window    time.Duration
	expiresIn time.Duration
	expiresAt string
}

func (f *quotaFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.limit, "limit", 0, "Requests allowed per window (0 = unlimited)")
	cmd.Flags().DurationVar(&f.window, "window", 0, "Quota window, e.g. 1m, 1h, 24h")
	cmd.Flags().DurationVar(&f.expiresIn, "expires-in", 0, "Expire the key after this duration, e.g. 720h")
	cmd.Flags().StringVar(&f.expiresAt, "expires-at", "", "Expire the key at this RFC 3339 time")
}

func (f *quotaFlags) quota() model.QuotaPolicy {
	if f.limit == 0 && f.window == 0 {
		return model.Unlimited()
	}
	return model.PerWindow(f.limit, f.window)
}

// expiry returns nil when neither expiry flag was given.
func (f *quotaFlags) expiry(now time.Time) (*time.Time, error) {
	switch {
	case f.expiresIn != 0 && f.expiresAt != "":
		return nil, fmt.Errorf("use either --expires-in or --expires-at, not both")
	case f.expiresIn != 0:
		t := now.Add(f.expiresIn).UTC()
		return &t, nil
	case f.expiresAt != "":
		t, err := time.Parse(time.RFC3339, f.expiresAt)
		if err != nil {
			return nil, fmt.Errorf("--expires-at must be an RFC 3339 time: %w", err)
		}
		t = t.UTC()
		return &t, nil
	}
	return nil, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		label      string
		qf         quotaFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --label "CI pipeline"
  keygate key create --label partner --limit 1000 --window 1h --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			expiresAt, err := qf.expiry(time.Now())
			if err != nil {
				return err
			}

			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, secret, err := a.keys.Create(cmd.Context(), model.CreateKeyInput{
				Label:     label,
				Quota:     qf.quota(),
				ExpiresAt: expiresAt,
			})
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]interface{}{"key": key, "secret": secret})
			}
			fmt.Fprintln(out, "API Key created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:    %s\n", secret)
			printKeyFields(out, key)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	qf.register(cmd)
	cmd.MarkFlagRequired("label")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		state      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter model.KeyFilter
			if state != "" {
				s := model.KeyState(state)
				if !s.Valid() {
					return fmt.Errorf("--state must be 'active' or 'inactive'")
				}
				filter.State = &s
			}

			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.keys.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No API keys found. Use 'keygate key create' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-12s %-24s %-8s %-14s %-10s\n", "ID", "PREFIX", "LABEL", "STATE", "QUOTA", "REQUESTS")
			fmt.Fprintf(out, "%-36s %-12s %-24s %-8s %-14s %-10s\n", "--", "------", "-----", "-----", "-----", "--------")
			for _, k := range keys {
				fmt.Fprintf(out, "%-36s %-12s %-24s %-8s %-14s %-10d\n",
					k.ID, k.KeyPrefix, truncate(k.Label, 24), k.State, quotaString(k.Quota), k.TotalRequests)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only list keys in this state (active or inactive)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id|prefix>",
		Short: "Show one API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, key)
			}
			printKeyFields(out, key)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key update ----------

func newKeyUpdateCmd() *cobra.Command {
	var (
		label       string
		qf          quotaFlags
		unlimited   bool
		clearExpiry bool
	)

	cmd := &cobra.Command{
		Use:   "update <id|prefix>",
		Short: "Change a key's label, quota or expiry",
		Example: `  keygate key update kg_1a2b3c4d --limit 500 --window 1m
  keygate key update 6f1c... --unlimited --clear-expiry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd model.KeyUpdate
			flags := cmd.Flags()
			if flags.Changed("label") {
				upd.Label = &label
			}
			switch {
			case unlimited && (flags.Changed("limit") || flags.Changed("window")):
				return fmt.Errorf("--unlimited cannot be combined with --limit or --window")
			case unlimited:
				q := model.Unlimited()
				upd.Quota = &q
			case flags.Changed("limit") || flags.Changed("window"):
				q := qf.quota()
				upd.Quota = &q
			}
			expiresAt, err := qf.expiry(time.Now())
			if err != nil {
				return err
			}
			upd.ExpiresAt = expiresAt
			upd.ClearExpiry = clearExpiry
			if upd.Empty() {
				return fmt.Errorf("nothing to update; pass at least one flag")
			}

			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}
			key, err = a.keys.Update(cmd.Context(), key.ID, upd)
			if err != nil {
				return fmt.Errorf("update api key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API Key updated:")
			printKeyFields(cmd.OutOrStdout(), key)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "New label")
	cmd.Flags().BoolVar(&unlimited, "unlimited", false, "Remove the quota")
	cmd.Flags().BoolVar(&clearExpiry, "clear-expiry", false, "Remove the expiry")
	qf.register(cmd)

	return cmd
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <id|prefix>",
		Short: "Issue a new secret for a key",
		Long: `Replace a key's secret. The old secret stops working immediately; the key
keeps its ID, label, quota and usage history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}
			key, secret, err := a.keys.Rotate(cmd.Context(), key.ID)
			if err != nil {
				return fmt.Errorf("rotate api key: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "API Key rotated:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:    %s\n", secret)
			printKeyFields(out, key)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}
	return cmd
}

// ---------- key revoke / activate ----------

func newKeyStateCmd(use, short string, state model.KeyState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id|prefix>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}
			if _, err := a.keys.SetState(cmd.Context(), key.ID, state); err != nil {
				return fmt.Errorf("%s api key: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s (%s) is now %s\n", key.KeyPrefix, key.ID, state)
			return nil
		},
	}
	return cmd
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id|prefix>",
		Short: "Permanently delete a key and its usage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deleting a key also removes its usage logs; pass --yes to confirm")
			}

			a, err := openFromFlags(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := resolveKey(cmd.Context(), a.keys, args[0])
			if err != nil {
				return err
			}
			if err := a.keys.Delete(cmd.Context(), key.ID); err != nil {
				return fmt.Errorf("delete api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %s (%s)\n", key.KeyPrefix, key.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")

	return cmd
}

func printKeyFields(w io.Writer, k *model.APIKey) {
	fmt.Fprintf(w, "  ID:     %s\n", k.ID)
	fmt.Fprintf(w, "  Prefix: %s\n", k.KeyPrefix)
	fmt.Fprintf(w, "  Label:  %s\n", k.Label)
	fmt.Fprintf(w, "  State:  %s\n", k.State)
	fmt.Fprintf(w, "  Quota:  %s\n", quotaString(k.Quota))
	if k.ExpiresAt != nil {
		fmt.Fprintf(w, "  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  Usage:  %d requests, %d errors\n", k.TotalRequests, k.TotalErrors)
	if k.LastUsedAt != nil {
		fmt.Fprintf(w, "  Last used: %s from %s\n", k.LastUsedAt.Format(time.RFC3339), k.LastUsedFrom)
	}
}

func quotaString(q model.QuotaPolicy) string {
	if q.IsUnlimited() {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", q.Limit, q.Window)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
