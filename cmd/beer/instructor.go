package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	cl "beergame/internal/cli"
	"beergame/internal/game"
)

func newInstructorCmd(apiBase *string) *cobra.Command {
	instructor := &cobra.Command{
		Use:     "instructor",
		Short:   "Instructor controls (password protected)",
		Aliases: []string{"inst"},
	}
	instructor.AddCommand(
		newProgressCmd(apiBase),
		newDemandCmd(apiBase),
		newActiveCmd(apiBase, "open", "Open the game for orders", boolPtr(true)),
		newActiveCmd(apiBase, "close", "Close the game for orders", boolPtr(false)),
		newActiveCmd(apiBase, "toggle", "Toggle the game between open and closed", nil),
		newAdvanceCmd(apiBase),
		newResetCmd(apiBase),
	)
	return instructor
}

// instructorPassword reads BEER_INSTRUCTOR_PASSWORD or prompts for it.
func instructorPassword() (string, error) {
	if v := strings.TrimSpace(os.Getenv("BEER_INSTRUCTOR_PASSWORD")); v != "" {
		return v, nil
	}
	return promptPassword("Instructor password")
}

func newProgressCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show each team's week and submitted roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := instructorPassword()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			settings, err := client.Settings(ctx)
			if err != nil {
				return err
			}
			progress, err := client.Progress(ctx, password)
			if err != nil {
				return err
			}
			renderSettings(settings)
			renderProgress(progress)
			return nil
		},
	}
}

func newDemandCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "demand [units]",
		Short: "Set the weekly customer demand",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			demand, err := intFromArgOrPrompt(args, 0, "Customer demand")
			if err != nil {
				return err
			}
			password, err := instructorPassword()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			settings, err := newClient(apiBase).SetDemand(ctx, password, demand)
			if cl.IsStatus(err, http.StatusConflict) {
				printWarn("Demand shock is active; demand cannot change until the next reset.")
				return nil
			}
			if err != nil {
				return err
			}
			renderSettings(settings)
			return nil
		},
	}
}

func newActiveCmd(apiBase *string, use, short string, active *bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := instructorPassword()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			settings, err := newClient(apiBase).SetActive(ctx, password, active)
			if err != nil {
				return err
			}
			renderSettings(settings)
			return nil
		},
	}
}

func newAdvanceCmd(apiBase *string) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "advance [team]",
		Short: "Force a team into the next week, filling missing orders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("name a team or pass --all")
			}
			password, err := instructorPassword()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			client := newClient(apiBase)

			teams := args
			if all {
				progress, err := client.Progress(ctx, password)
				if err != nil {
					return err
				}
				teams = teams[:0]
				for _, p := range progress {
					teams = append(teams, p.Team)
				}
			}
			var errs []error
			for _, team := range teams {
				res, err := client.AdvanceTeam(ctx, password, strings.ToUpper(team))
				if err != nil {
					errs = append(errs, fmt.Errorf("team %s: %w", team, err))
					continue
				}
				renderForced(res)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "advance every team")
	return cmd
}

func newResetCmd(apiBase *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every team back to week 1",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer, err := promptChoice("This deletes all rounds. Continue", []string{"yes", "no"}, "no")
				if err != nil {
					return err
				}
				if answer != "yes" {
					printInfo("Reset cancelled.")
					return nil
				}
			}
			password, err := instructorPassword()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := newClient(apiBase).Reset(ctx, password); err != nil {
				return err
			}
			printSuccess("Game reset. Every team is back at week 1 and the game is closed.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	return cmd
}

func renderForced(res game.AdvanceResult) {
	switch res.Status {
	case game.StatusAlreadyAdvanced:
		printWarn(fmt.Sprintf("Team %s week %d was already resolved.", res.Team, res.Week))
	default:
		ghosts := make([]string, 0, len(res.Records))
		for _, r := range res.Records {
			if r.GhostOrder {
				ghosts = append(ghosts, r.Role.String())
			}
		}
		msg := fmt.Sprintf("Team %s advanced to week %d (demand %d).", res.Team, res.Week+1, res.Demand)
		if len(ghosts) > 0 {
			msg += " Filled orders for: " + strings.Join(ghosts, ", ")
		}
		printSuccess(msg)
	}
}

func boolPtr(v bool) *bool {
	return &v
}
