package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
)

// Printer writes presenter output to a terminal. It implements warning.Sink.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles Styles
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styles: DefaultStyles()}
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, s)
}

func (p *Printer) ShowBanner(b warning.Banner) {
	p.write(p.RenderBanner(b))
}

func (p *Printer) ClearBanner() {
	p.write(p.styles.Muted.Render("(banner cleared)"))
}

func (p *Printer) ShowModal(m warning.Modal) {
	p.write(p.RenderModal(m))
}

func (p *Printer) CloseModal() {
	p.write(p.styles.Muted.Render("(upgrade prompt closed)"))
}

// RenderBanner formats a banner box styled by its kind.
func (p *Printer) RenderBanner(b warning.Banner) string {
	style := p.styles.Info
	switch b.Kind {
	case warning.KindError:
		style = p.styles.Error
	case warning.KindWarning:
		style = p.styles.Warning
	}
	body := lipgloss.NewStyle().Bold(true).Render(b.Title) + "\n" + b.Message
	if b.ActionLabel != "" {
		body += "\n" + p.styles.Muted.Render(fmt.Sprintf("→ %s (tiergate action %s)", b.ActionLabel, b.Action))
	}
	return style.Render(body)
}

// RenderModal formats the upgrade prompt with one column per tier.
func (p *Printer) RenderModal(m warning.Modal) string {
	columns := make([]string, 0, len(m.Tiers))
	for _, opt := range m.Tiers {
		var sb strings.Builder
		header := p.styles.Value.Render(opt.Name)
		if opt.Recommended {
			header = p.styles.Pick.Render(opt.Name + " ★")
		}
		sb.WriteString(header + "\n")
		sb.WriteString(opt.Price + "\n")
		if opt.Current {
			sb.WriteString(p.styles.Current.Render("current plan") + "\n")
		}
		for _, f := range opt.Features {
			sb.WriteString("• " + f + "\n")
		}
		columns = append(columns, lipgloss.NewStyle().Width(26).MarginRight(2).Render(strings.TrimRight(sb.String(), "\n")))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		p.styles.Title.Render(m.Title),
		m.Message,
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
		"",
		p.styles.Muted.Render("Upgrade: "+m.UpgradeURL),
	)
	return p.styles.Modal.Render(body)
}

// RenderDecision formats the resolved decision for `tiergate status`.
func (p *Printer) RenderDecision(d licensing.TierDecision, resolvedAt time.Time) string {
	rows := [][2]string{
		{"Tier", licensing.GetTierDisplayName(d.Tier)},
		{"Source", string(d.Source)},
		{"Active", fmt.Sprintf("%t", d.Active)},
	}
	if d.Status != "" {
		rows = append(rows, [2]string{"Status", d.Status})
	}
	if exp := d.Expiry(); exp != nil {
		label := "Expires"
		if d.Source == licensing.SourceStripe {
			label = "Period ends"
		}
		rows = append(rows, [2]string{label, exp.Local().Format("2006-01-02 15:04")})
	}
	if d.DaysRemaining != nil {
		rows = append(rows, [2]string{"Days remaining", fmt.Sprintf("%d", *d.DaysRemaining)})
	}
	if d.CancelAtPeriodEnd {
		rows = append(rows, [2]string{"Cancelling", "at period end"})
	}
	if !resolvedAt.IsZero() {
		rows = append(rows, [2]string{"Resolved", resolvedAt.Local().Format(time.RFC3339)})
	}

	lines := []string{p.styles.Title.Render("PinkyBot access")}
	for _, row := range rows {
		lines = append(lines, p.styles.Label.Render(row[0])+p.styles.Value.Render(row[1]))
	}
	return strings.Join(lines, "\n")
}

// RenderFeatures lists the lock state of every feature.
func (p *Printer) RenderFeatures(s gate.Snapshot) string {
	lines := []string{p.styles.Title.Render("Features on " + licensing.GetTierDisplayName(s.Tier))}
	for _, f := range s.Features {
		if f.Locked {
			lines = append(lines, p.styles.Locked.Render(fmt.Sprintf("🔒 %-24s requires %s", f.Name, licensing.GetTierDisplayName(f.RequiredTier))))
			continue
		}
		lines = append(lines, p.styles.Unlocked.Render("✓  "+f.Name))
	}
	return strings.Join(lines, "\n")
}

var _ warning.Sink = (*Printer)(nil)
