package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	cl "beergame/internal/cli"
	"beergame/internal/config"
	"beergame/internal/game"
	"beergame/internal/syncq"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "beer",
		Short:        "Beer Distribution Game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newJoinCmd(&apiBase),
		newLeaveCmd(),
		newStatusCmd(&apiBase),
		newOrderCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newWatchCmd(&apiBase),
		newQRCmd(&apiBase),
		newSyncCmd(&apiBase),
		newInstructorCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func newJoinCmd(apiBase *string) *cobra.Command {
	var team, roleName, name string
	cmd := &cobra.Command{
		Use:     "join",
		Aliases: []string{"claim"},
		Short:   "Claim a seat (team and role)",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadOrCreateSession()
			if err != nil {
				return err
			}
			if team == "" {
				if team, err = promptRequired("Team"); err != nil {
					return err
				}
			}
			if roleName == "" {
				if roleName, err = promptChoice("Role", roleNames(), game.Retailer.String()); err != nil {
					return err
				}
			}
			role, err := game.ParseRole(roleName)
			if err != nil {
				return err
			}
			if name != "" {
				sess.Name = strings.TrimSpace(name)
			}
			team = strings.ToUpper(strings.TrimSpace(team))

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rec, err := newClient(apiBase).Claim(ctx, team, role, sess.Label())
			if err != nil {
				if cl.IsStatus(err, http.StatusConflict) {
					return fmt.Errorf("%s of team %s is already taken", role, team)
				}
				return err
			}
			sess.Team, sess.Role = team, role
			if err := cl.SaveSession(sess); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Seated as %s of team %s.", role, team))
			renderRecord(rec)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team name, e.g. A")
	cmd.Flags().StringVar(&roleName, "role", "", "retailer, wholesaler, distributor or manufacturer")
	cmd.Flags().StringVar(&name, "name", "", "display name shown to the instructor")
	return cmd
}

func newLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Forget the local seat and identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Local session cleared. The seat stays bound until the next reset.")
			return nil
		},
	}
}

func newStatusCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show your role's current week",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := seatedSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			rec, err := client.Latest(ctx, sess.Team, sess.Role)
			if err != nil {
				return err
			}
			settings, err := client.Settings(ctx)
			if err != nil {
				return err
			}
			renderSettings(settings)
			renderRecord(rec)
			return nil
		},
	}
}

func newOrderCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "order [amount]",
		Short: "Place this week's order upstream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := seatedSession()
			if err != nil {
				return err
			}
			amount, err := intFromArgOrPrompt(args, 0, "Order amount")
			if err != nil {
				return err
			}
			if err := game.ValidateOrder(amount); err != nil {
				return err
			}

			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rec, err := client.Latest(ctx, sess.Team, sess.Role)
			if err != nil {
				// Week 0 replays against whatever week is current then.
				return queueOnNetworkError(err, queuedOrder(sess, 0, amount))
			}
			res, err := client.Order(ctx, sess.Team, sess.Role, rec.Week, amount)
			if err != nil {
				return queueOnNetworkError(err, queuedOrder(sess, rec.Week, amount))
			}
			printSuccess(fmt.Sprintf("Ordered %d for week %d.", amount, rec.Week))
			renderAdvance(res, sess.Role)
			return nil
		},
	}
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every resolved week of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				sess, err := seatedSession()
				if err != nil {
					return fmt.Errorf("pass --team or join first: %w", err)
				}
				team = sess.Team
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			records, err := newClient(apiBase).History(ctx, strings.ToUpper(team))
			if err != nil {
				return err
			}
			renderHistory(records)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team to show (defaults to your seat)")
	return cmd
}

func newQRCmd(apiBase *string) *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "Print a QR code players can scan to join",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := "beer --api " + strings.TrimRight(*apiBase, "/") + " join"
			if team != "" {
				text += " --team " + strings.ToUpper(team)
			}
			qrterminal.GenerateWithConfig(text, qrterminal.Config{
				Level:     qrterminal.L,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			printInfo(text)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "preselect a team")
	return cmd
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay orders queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			outcomes, err := syncq.Replay(ctx, func(ctx context.Context, c syncq.Command) (game.AdvanceResult, error) {
				return client.Order(ctx, c.Team, c.Role, c.Week, c.Amount)
			}, retryable)
			if err != nil {
				return err
			}
			replayed, kept := 0, 0
			for _, o := range outcomes {
				switch {
				case o.Err == nil:
					replayed++
				case o.Kept:
					kept++
					printWarn(fmt.Sprintf("Kept week %d order for %s: %v", o.Command.Week, o.Command.Role, o.Err))
				default:
					printError(fmt.Sprintf("Dropped week %d order for %s: %v", o.Command.Week, o.Command.Role, o.Err))
				}
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", replayed, kept))
			return nil
		},
	}
}

func seatedSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("join a team first: %w", err)
	}
	if !sess.Seated() {
		return cl.Session{}, errors.New("join a team first: no seat in session")
	}
	return sess, nil
}

func queuedOrder(sess cl.Session, week, amount int) syncq.Command {
	return syncq.Command{
		ID:       uuid.NewString(),
		Team:     sess.Team,
		Role:     sess.Role,
		Week:     week,
		Amount:   amount,
		QueuedAt: time.Now().UTC(),
	}
}

func queueOnNetworkError(err error, c syncq.Command) error {
	if err == nil {
		return nil
	}
	if isAPIStructuredError(err) {
		return err
	}
	if qerr := syncq.Push(c); qerr != nil {
		return fmt.Errorf("request failed (%v) and could not be queued: %w", err, qerr)
	}
	printWarn("API unreachable, order queued. Run `beer sync` once you are back online.")
	return nil
}

func isAPIStructuredError(err error) bool {
	var apiErr *cl.APIError
	return errors.As(err, &apiErr)
}

// retryable keeps orders that failed for transient reasons. Orders the game
// rejected for good (already submitted, round closed) are dropped.
func retryable(err error) bool {
	if !isAPIStructuredError(err) {
		return true
	}
	return cl.IsStatus(err, http.StatusLocked) || cl.IsStatus(err, http.StatusServiceUnavailable)
}

func roleNames() []string {
	out := make([]string, 0, len(game.Roles))
	for _, r := range game.Roles {
		out = append(out, r.String())
	}
	return out
}

func intFromArgOrPrompt(args []string, idx int, label string) (int, error) {
	if len(args) > idx {
		v, err := strconv.Atoi(strings.TrimSpace(args[idx]))
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt(label, 0)
}
