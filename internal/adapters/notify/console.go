package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/polybet/internal/domain"
	"github.com/alejandrodnm/polybet/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Output formats.
const (
	FormatTable = "text"
	FormatJSON  = "json"
)

const timeLayout = "2006-01-02 15:04"

// Console implementa ports.Notifier y además imprime los resultados de las
// queries del CLI, en tabla o en JSON.
type Console struct {
	out    io.Writer
	format string
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(format string) *Console {
	return NewConsoleWriter(os.Stdout, format)
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, format string) *Console {
	if format != FormatJSON {
		format = FormatTable
	}
	return &Console{out: w, format: format}
}

// Notify imprime una línea por operación confirmada.
func (c *Console) Notify(_ context.Context, ev domain.Event) error {
	if c.format == FormatJSON {
		return c.writeJSON(eventJSON(ev))
	}
	fmt.Fprintf(c.out, "[%s] %s by %s%s\n",
		ev.At.Format("15:04:05"), ev.Op, ev.Caller.Short(), formatDetail(ev.Detail))
	return nil
}

// PrintActivities imprime el listado de actividades.
func (c *Console) PrintActivities(activities []domain.Activity, now time.Time) error {
	if c.format == FormatJSON {
		out := make([]map[string]any, 0, len(activities))
		for _, a := range activities {
			out = append(out, activityJSON(a))
		}
		return c.writeJSON(out)
	}
	if len(activities) == 0 {
		fmt.Fprintln(c.out, "no activities")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Name", "Options", "Pot", "Closes", "Status")
	for _, a := range activities {
		table.Append(
			fmt.Sprintf("%d", a.ID),
			a.Name,
			fmt.Sprintf("%d", len(a.Options)),
			fmt.Sprintf("%d", a.TotalAmount),
			a.CloseTime.Format(timeLayout),
			activityState(a, now),
		)
	}
	return table.Render()
}

// PrintActivity imprime el detalle de una actividad con el stake por opción.
func (c *Console) PrintActivity(a domain.Activity, tickets []domain.Ticket, now time.Time) error {
	staked := make([]domain.Amount, len(a.Options))
	count := make([]int, len(a.Options))
	for _, t := range tickets {
		if t.ActivityID == a.ID && a.HasOption(t.OptionIndex) {
			staked[t.OptionIndex] += t.Amount
			count[t.OptionIndex]++
		}
	}

	if c.format == FormatJSON {
		out := activityJSON(a)
		out["staked"] = staked
		return c.writeJSON(out)
	}

	fmt.Fprintf(c.out, "#%d %s\n", a.ID, a.Name)
	fmt.Fprintf(c.out, "  pot %d (base %d) | closes %s | %s\n",
		a.TotalAmount, a.BaseAmount, a.CloseTime.Format(timeLayout), activityState(a, now))

	winner, resolved := a.Winner()
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Option", "Tickets", "Staked", "")
	for i, opt := range a.Options {
		mark := ""
		if resolved && i == winner {
			mark = "WIN"
		}
		table.Append(
			fmt.Sprintf("%d", i),
			opt,
			fmt.Sprintf("%d", count[i]),
			fmt.Sprintf("%d", staked[i]),
			mark,
		)
	}
	return table.Render()
}

// PrintTickets imprime tickets con su holder actual.
func (c *Console) PrintTickets(tickets []domain.OwnedTicket) error {
	if c.format == FormatJSON {
		out := make([]map[string]any, 0, len(tickets))
		for _, t := range tickets {
			out = append(out, map[string]any{
				"id":           t.ID,
				"activity_id":  t.ActivityID,
				"option_index": t.OptionIndex,
				"amount":       t.Amount,
				"on_sale":      t.OnSale,
				"holder":       t.Holder,
				"purchased_at": t.PurchasedAt,
			})
		}
		return c.writeJSON(out)
	}
	if len(tickets) == 0 {
		fmt.Fprintln(c.out, "no tickets")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Activity", "Option", "Amount", "Holder", "On sale")
	for _, t := range tickets {
		table.Append(
			fmt.Sprintf("%d", t.ID),
			fmt.Sprintf("%d", t.ActivityID),
			fmt.Sprintf("%d", t.OptionIndex),
			fmt.Sprintf("%d", t.Amount),
			t.Holder.Short(),
			yesNo(t.OnSale),
		)
	}
	return table.Render()
}

// PrintListings imprime listings del mercado secundario.
func (c *Console) PrintListings(listings []domain.Listing) error {
	if c.format == FormatJSON {
		out := make([]map[string]any, 0, len(listings))
		for _, l := range listings {
			m := map[string]any{
				"id":          l.ID,
				"ticket_id":   l.TicketID,
				"activity_id": l.ActivityID,
				"seller":      l.Seller,
				"price":       l.Price,
				"status":      l.Status,
				"listed_at":   l.ListedAt,
			}
			if l.Buyer != "" {
				m["buyer"] = l.Buyer
			}
			if l.ClosedAt != nil {
				m["closed_at"] = *l.ClosedAt
			}
			out = append(out, m)
		}
		return c.writeJSON(out)
	}
	if len(listings) == 0 {
		fmt.Fprintln(c.out, "no listings")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("ID", "Ticket", "Activity", "Seller", "Price", "Status", "Buyer")
	for _, l := range listings {
		buyer := "-"
		if l.Buyer != "" {
			buyer = l.Buyer.Short()
		}
		table.Append(
			fmt.Sprintf("%d", l.ID),
			fmt.Sprintf("%d", l.TicketID),
			fmt.Sprintf("%d", l.ActivityID),
			l.Seller.Short(),
			fmt.Sprintf("%d", l.Price),
			string(l.Status),
			buyer,
		)
	}
	return table.Render()
}

// PrintBalance imprime el saldo de una identidad.
func (c *Console) PrintBalance(id domain.Identity, amount domain.Amount) error {
	if c.format == FormatJSON {
		return c.writeJSON(map[string]any{"holder": id, "balance": amount})
	}
	fmt.Fprintf(c.out, "%s  %d\n", id, amount)
	return nil
}

// PrintSettlement imprime el reparto de una resolución.
func (c *Console) PrintSettlement(s domain.Settlement) error {
	if c.format == FormatJSON {
		payouts := make([]map[string]any, 0, len(s.Payouts))
		for _, p := range s.Payouts {
			payouts = append(payouts, map[string]any{
				"ticket_id": p.TicketID, "holder": p.Holder, "amount": p.Amount,
			})
		}
		return c.writeJSON(map[string]any{
			"activity_id":    s.ActivityID,
			"winning_option": s.WinningOption,
			"pot":            s.Pot,
			"total_winning":  s.TotalWinning,
			"payouts":        payouts,
			"dust":           s.Dust,
		})
	}

	fmt.Fprintf(c.out, "activity #%d resolved: option %d wins | pot %d | winning stake %d\n",
		s.ActivityID, s.WinningOption, s.Pot, s.TotalWinning)

	table := tablewriter.NewWriter(c.out)
	table.Header("Ticket", "Holder", "Payout")
	for _, p := range s.Payouts {
		table.Append(fmt.Sprintf("%d", p.TicketID), p.Holder.Short(), fmt.Sprintf("%d", p.Amount))
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "  distributed %d | dust %d (stays in escrow)\n", s.Distributed(), s.Dust)
	return nil
}

// PrintEvents imprime el journal de auditoría.
func (c *Console) PrintEvents(events []domain.Event) error {
	if c.format == FormatJSON {
		out := make([]map[string]any, 0, len(events))
		for _, ev := range events {
			out = append(out, eventJSON(ev))
		}
		return c.writeJSON(out)
	}
	if len(events) == 0 {
		fmt.Fprintln(c.out, "no events")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("At", "Op", "Caller", "Detail")
	for _, ev := range events {
		table.Append(
			ev.At.Format("2006-01-02 15:04:05"),
			ev.Op,
			ev.Caller.Short(),
			strings.TrimSpace(formatDetail(ev.Detail)),
		)
	}
	return table.Render()
}

// --- helpers ---

func (c *Console) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("notify.Console: encode json: %w", err)
	}
	return nil
}

func activityJSON(a domain.Activity) map[string]any {
	m := map[string]any{
		"id":           a.ID,
		"name":         a.Name,
		"options":      a.Options,
		"close_time":   a.CloseTime,
		"base_amount":  a.BaseAmount,
		"total_amount": a.TotalAmount,
		"status":       a.Status,
	}
	if w, ok := a.Winner(); ok {
		m["winning_option"] = w
		m["resolved_at"] = a.ResolvedAt
	}
	return m
}

func eventJSON(ev domain.Event) map[string]any {
	return map[string]any{
		"id":     ev.ID,
		"op":     ev.Op,
		"caller": ev.Caller,
		"detail": ev.Detail,
		"at":     ev.At,
	}
}

// activityState distingue ACTIVE de CLOSED (activa pero ya sin poder resolverse antes de tiempo).
func activityState(a domain.Activity, now time.Time) string {
	if a.IsActive() && a.Closed(now) {
		return "CLOSED"
	}
	return string(a.Status)
}

// formatDetail renderiza el detalle como " k=v k=v" con claves ordenadas.
func formatDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := detail[k]
		if id, ok := v.(domain.Identity); ok {
			v = id.Short()
		}
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	return sb.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
