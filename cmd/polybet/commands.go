package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polybet/internal/adapters/notify"
	"github.com/alejandrodnm/polybet/internal/application/market"
	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
)

// usageError marca errores de invocación (exit 2) frente a errores del engine.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

type cli struct {
	engine  *market.Engine
	store   ports.MarketStorage
	console *notify.Console
	caller  domain.Identity
}

func (c *cli) dispatch(ctx context.Context, args []string) error {
	name, rest := args[0], args[1:]
	switch name {
	case "grant":
		return c.grant(ctx, rest)
	case "balance":
		return c.balance(rest)
	case "create":
		return c.create(ctx, rest)
	case "activities":
		return c.console.PrintActivities(c.engine.ListActivities(), time.Now())
	case "activity":
		return c.activity(rest)
	case "buy":
		return c.buy(ctx, rest)
	case "tickets":
		return c.tickets(rest)
	case "sell":
		return c.sell(ctx, rest)
	case "cancel":
		return c.cancel(ctx, rest)
	case "purchase":
		return c.purchase(ctx, rest)
	case "listings":
		return c.listings(rest)
	case "resolve":
		return c.resolve(ctx, rest)
	case "events":
		return c.events(ctx, rest)
	default:
		return usagef("unknown command %q", name)
	}
}

func (c *cli) grant(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return usagef("grant takes no arguments")
	}
	if _, err := c.engine.Grant(ctx, c.caller); err != nil {
		return err
	}
	return c.console.PrintBalance(c.caller, c.engine.BalanceOf(c.caller))
}

func (c *cli) balance(args []string) error {
	id, err := identityArg(args, c.caller)
	if err != nil {
		return err
	}
	return c.console.PrintBalance(id, c.engine.BalanceOf(id))
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := newFlagSet("create")
	name := fs.String("name", "", "activity name")
	options := fs.String("options", "", "comma separated outcome options")
	closeAt := fs.String("close", "", "close time (RFC3339)")
	in := fs.Duration("in", 0, "close time relative to now (e.g. 72h)")
	base := fs.Uint64("base", 0, "base amount minted into the pot")
	if err := fs.Parse(args); err != nil {
		return usagef("create: %v", err)
	}

	var closeTime time.Time
	switch {
	case *closeAt != "" && *in != 0:
		return usagef("create: use either -close or -in")
	case *closeAt != "":
		t, err := time.Parse(time.RFC3339, *closeAt)
		if err != nil {
			return usagef("create: -close: %v", err)
		}
		closeTime = t
	case *in != 0:
		closeTime = time.Now().Add(*in)
	default:
		return usagef("create: -close or -in is required")
	}

	var opts []string
	for _, o := range strings.Split(*options, ",") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}

	id, err := c.engine.CreateActivity(ctx, c.caller, *name, opts, closeTime, *base)
	if err != nil {
		return err
	}
	return c.printActivity(id)
}

func (c *cli) activity(args []string) error {
	if len(args) != 1 {
		return usagef("activity <id>")
	}
	id, err := parseID(args[0], "activity")
	if err != nil {
		return err
	}
	return c.printActivity(id)
}

func (c *cli) printActivity(id uint64) error {
	a, err := c.engine.GetActivity(id)
	if err != nil {
		return err
	}
	snap, err := c.engine.Snapshot()
	if err != nil {
		return err
	}
	return c.console.PrintActivity(a, snap.Tickets, time.Now())
}

func (c *cli) buy(ctx context.Context, args []string) error {
	if len(args) != 3 {
		return usagef("buy <activity> <option> <amount>")
	}
	activityID, err := parseID(args[0], "activity")
	if err != nil {
		return err
	}
	option, err := strconv.Atoi(args[1])
	if err != nil {
		return usagef("buy: option %q: %v", args[1], err)
	}
	amount, err := parseAmount(args[2], "amount")
	if err != nil {
		return err
	}

	ticketID, err := c.engine.BuyTicket(ctx, c.caller, activityID, option, amount)
	if err != nil {
		return err
	}
	return c.printTickets([]uint64{ticketID})
}

func (c *cli) tickets(args []string) error {
	owner, err := identityArg(args, c.caller)
	if err != nil {
		return err
	}
	tickets, err := c.engine.ListTicketsByOwner(owner)
	if err != nil {
		return err
	}
	out := make([]domain.OwnedTicket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, domain.OwnedTicket{Ticket: t, Holder: owner})
	}
	return c.console.PrintTickets(out)
}

func (c *cli) printTickets(ids []uint64) error {
	out := make([]domain.OwnedTicket, 0, len(ids))
	for _, id := range ids {
		t, err := c.engine.GetTicket(id)
		if err != nil {
			return err
		}
		holder, err := c.engine.TicketHolder(id)
		if err != nil {
			return err
		}
		out = append(out, domain.OwnedTicket{Ticket: t, Holder: holder})
	}
	return c.console.PrintTickets(out)
}

func (c *cli) sell(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usagef("sell <ticket> <price>")
	}
	ticketID, err := parseID(args[0], "ticket")
	if err != nil {
		return err
	}
	price, err := parseAmount(args[1], "price")
	if err != nil {
		return err
	}
	listingID, err := c.engine.ListTicket(ctx, c.caller, ticketID, price)
	if err != nil {
		return err
	}
	return c.printListing(listingID)
}

func (c *cli) cancel(ctx context.Context, args []string) error {
	listingID, err := listingArg("cancel", args)
	if err != nil {
		return err
	}
	if err := c.engine.CancelListing(ctx, c.caller, listingID); err != nil {
		return err
	}
	return c.printListing(listingID)
}

func (c *cli) purchase(ctx context.Context, args []string) error {
	listingID, err := listingArg("purchase", args)
	if err != nil {
		return err
	}
	if err := c.engine.BuyListing(ctx, c.caller, listingID); err != nil {
		return err
	}
	return c.printListing(listingID)
}

func (c *cli) printListing(id uint64) error {
	l, err := c.engine.GetListing(id)
	if err != nil {
		return err
	}
	return c.console.PrintListings([]domain.Listing{l})
}

func (c *cli) listings(args []string) error {
	fs := newFlagSet("listings")
	activity := fs.Int64("activity", -1, "listings of one activity")
	seller := fs.String("seller", "", "listings created by one seller")
	if err := fs.Parse(args); err != nil {
		return usagef("listings: %v", err)
	}

	switch {
	case *activity >= 0 && *seller != "":
		return usagef("listings: use either -activity or -seller")
	case *activity >= 0:
		return c.console.PrintListings(c.engine.ListingsByActivity(uint64(*activity)))
	case *seller != "":
		id, err := domain.ParseIdentity(*seller)
		if err != nil {
			return err
		}
		return c.console.PrintListings(c.engine.ListingsBySeller(id))
	default:
		return usagef("listings: -activity or -seller is required")
	}
}

func (c *cli) resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usagef("resolve <activity> <option>")
	}
	activityID, err := parseID(args[0], "activity")
	if err != nil {
		return err
	}
	option, err := strconv.Atoi(args[1])
	if err != nil {
		return usagef("resolve: option %q: %v", args[1], err)
	}
	s, err := c.engine.Resolve(ctx, c.caller, activityID, option)
	if err != nil {
		return err
	}
	return c.console.PrintSettlement(s)
}

func (c *cli) events(ctx context.Context, args []string) error {
	fs := newFlagSet("events")
	limit := fs.Int("limit", 20, "max events to show")
	if err := fs.Parse(args); err != nil {
		return usagef("events: %v", err)
	}
	events, err := c.store.Events(ctx, *limit)
	if err != nil {
		return err
	}
	return c.console.PrintEvents(events)
}

// --- parsing ---

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func identityArg(args []string, fallback domain.Identity) (domain.Identity, error) {
	switch len(args) {
	case 0:
		return fallback, nil
	case 1:
		return domain.ParseIdentity(args[0])
	default:
		return "", usagef("expected at most one identity")
	}
}

func listingArg(cmd string, args []string) (uint64, error) {
	if len(args) != 1 {
		return 0, usagef("%s <listing>", cmd)
	}
	return parseID(args[0], "listing")
}

func parseID(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, usagef("%s id %q: %v", what, s, err)
	}
	return v, nil
}

func parseAmount(s, what string) (domain.Amount, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, usagef("%s %q: %v", what, s, err)
	}
	return v, nil
}
