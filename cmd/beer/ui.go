package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"beergame/internal/game"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptChoice(label string, options []string, defaultValue string) (string, error) {
	normalized := make(map[string]struct{}, len(options))
	for _, opt := range options {
		normalized[strings.ToLower(strings.TrimSpace(opt))] = struct{}{}
	}
	for {
		fmt.Printf("%s (%s) [%s]: ", label, strings.Join(options, "/"), defaultValue)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.ToLower(strings.TrimSpace(text))
		if text == "" {
			text = strings.ToLower(strings.TrimSpace(defaultValue))
		}
		if _, ok := normalized[text]; ok {
			return text, nil
		}
		printWarn("Invalid option. Please pick one of the listed values.")
	}
}

func promptInt(label string, min int) (int, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func renderSettings(s game.Settings) {
	state := danger.Sprint("CLOSED")
	if s.Active {
		state = success.Sprint("OPEN")
	}
	line := fmt.Sprintf("Game %s  customer demand %d", state, s.Demand)
	if s.ShockTriggered {
		line += "  " + warn.Sprint("[demand shock]")
	}
	fmt.Println(line)
}

func renderRecord(r game.RoundRecord) {
	accent.Printf("\n== TEAM %s / %s / WEEK %d ==\n", r.Team, strings.ToUpper(r.Role.String()), r.Week)
	fmt.Printf("%-18s %8d\n", "Inventory", r.Inventory)
	fmt.Printf("%-18s %8s\n", "Backlog", colorizeBacklog(r.Backlog))
	fmt.Printf("%-18s %8d\n", "Incoming delivery", r.IncomingDelivery)
	fmt.Printf("%-18s %8d\n", "Demand received", r.DemandIn)
	fmt.Printf("%-18s %8d\n", "Shipped", r.Shipped)
	fmt.Printf("%-18s %8.2f\n", "Total cost", r.TotalCost)
	if r.OrderPlaced != nil {
		fmt.Printf("%-18s %8d\n", "Order placed", *r.OrderPlaced)
	} else {
		fmt.Printf("%-18s %8s\n", "Order placed", warn.Sprint("pending"))
	}
	if r.Occupant != nil {
		fmt.Printf("%-18s %s\n", "Seat", *r.Occupant)
	}
	fmt.Println()
}

func renderAdvance(res game.AdvanceResult, role game.Role) {
	switch res.Status {
	case game.StatusNotReady:
		printInfo(fmt.Sprintf("Waiting for the rest of team %s to order for week %d.", res.Team, res.Week))
	case game.StatusAdvanced, game.StatusAlreadyAdvanced:
		printSuccess(fmt.Sprintf("Team %s moved to week %d.", res.Team, res.Week+1))
		for _, r := range res.Records {
			if r.Role == role {
				renderRecord(r)
			}
		}
	}
}

func renderHistory(records []game.RoundRecord) {
	if len(records) == 0 {
		printInfo("No records yet.")
		return
	}
	accent.Printf("\n== TEAM %s HISTORY ==\n", records[0].Team)
	fmt.Printf("%-5s %-13s %6s %7s %6s %6s %6s %6s %9s\n",
		"WEEK", "ROLE", "STOCK", "BACKLOG", "IN", "DEMAND", "SHIP", "ORDER", "COST")
	for _, r := range records {
		order := "-"
		if r.OrderPlaced != nil {
			order = strconv.Itoa(*r.OrderPlaced)
		} else if r.ResolvedOrder != nil {
			order = "~" + strconv.Itoa(*r.ResolvedOrder)
		}
		fmt.Printf("%-5d %-13s %6d %7d %6d %6d %6d %6s %9.2f\n",
			r.Week, r.Role, r.Inventory, r.Backlog, r.IncomingDelivery, r.DemandIn, r.Shipped, order, r.TotalCost)
	}
	fmt.Println()
}

func renderProgress(progress []game.TeamProgress) {
	accent.Println("\n== TEAM PROGRESS ==")
	fmt.Printf("%-6s %-6s %s\n", "TEAM", "WEEK", "SUBMITTED")
	for _, p := range progress {
		names := make([]string, 0, len(p.Submitted))
		for _, r := range p.Submitted {
			names = append(names, r.String())
		}
		submitted := neutral.Sprint("none")
		if len(names) == len(game.Roles) {
			submitted = success.Sprint("all")
		} else if len(names) > 0 {
			submitted = strings.Join(names, ", ")
		}
		fmt.Printf("%-6s %-6d %s\n", p.Team, p.Week, submitted)
	}
	fmt.Println()
}

func colorizeBacklog(v int) string {
	text := strconv.Itoa(v)
	if v > 0 {
		return danger.Sprint(text)
	}
	return neutral.Sprint(text)
}
