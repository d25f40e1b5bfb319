package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/haven/internal/observability"
	"github.com/valter-silva-au/haven/pkg/models"
)

// Dashboard panel indices.
const (
	panelCases = iota
	panelHandles
	panelAudit
	panelCount
)

type dashboardModel struct {
	activePanel int
	width       int
	height      int

	// Data.
	cases   []caseSnapshot
	handles []handleSnapshot
	audit   []auditSnapshot

	// State.
	loading bool
	err     error
}

type caseSnapshot struct {
	sessionID string
	risk      string
	state     string
	actions   int
	events    int
}

type handleSnapshot struct {
	handleID  string
	sessionID string
	location  string
	updated   string
}

type auditSnapshot struct {
	level     string
	eventType string
	message   string
	time      string
}

// dataLoadedMsg carries loaded data back to the model.
type dataLoadedMsg struct {
	cases   []caseSnapshot
	handles []handleSnapshot
	audit   []auditSnapshot
	err     error
}

// Style definitions.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(1, 2)

	activePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(1, 2)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	riskCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	riskElevated = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	riskSafe     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))

	levelError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	levelWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	levelInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newDashboardModel() dashboardModel {
	return dashboardModel{
		activePanel: panelCases,
		loading:     true,
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return loadData
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
			return m, nil
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
			return m, nil
		case "r":
			m.loading = true
			return m, loadData
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case dataLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.cases = msg.cases
		m.handles = msg.handles
		m.audit = msg.audit
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m dashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Haven Dashboard ")
	help := helpStyle.Render("tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}

	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	casesPanel := m.renderCasesPanel()
	handlesPanel := m.renderHandlesPanel()
	auditPanel := m.renderAuditPanel()

	// Available width for panels after accounting for margins.
	availableWidth := m.width - 2

	var body string
	if availableWidth > 120 {
		// Horizontal layout: three columns.
		colWidth := availableWidth / 3
		casesPanel = m.applyPanelStyle(panelCases, casesPanel, colWidth-4)
		handlesPanel = m.applyPanelStyle(panelHandles, handlesPanel, colWidth-4)
		auditPanel = m.applyPanelStyle(panelAudit, auditPanel, colWidth-4)
		body = lipgloss.JoinHorizontal(lipgloss.Top, casesPanel, handlesPanel, auditPanel)
	} else {
		// Vertical layout: stacked.
		panelWidth := availableWidth - 4
		if panelWidth < 20 {
			panelWidth = 20
		}
		casesPanel = m.applyPanelStyle(panelCases, casesPanel, panelWidth)
		handlesPanel = m.applyPanelStyle(panelHandles, handlesPanel, panelWidth)
		auditPanel = m.applyPanelStyle(panelAudit, auditPanel, panelWidth)
		body = lipgloss.JoinVertical(lipgloss.Left, casesPanel, handlesPanel, auditPanel)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, body, help)
}

func (m dashboardModel) applyPanelStyle(panel int, content string, width int) string {
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

func (m dashboardModel) renderCasesPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Case Files"))
	b.WriteString("\n")

	if len(m.cases) == 0 {
		b.WriteString("  No live case files.")
		return b.String()
	}

	for _, c := range m.cases {
		risk := styleForRisk(c.risk).Render(fmt.Sprintf("%-9s", c.risk))
		b.WriteString(fmt.Sprintf("  %s %-20s %-10s %da/%de\n", risk, c.sessionID, c.state, c.actions, c.events))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d", len(m.cases)))

	return b.String()
}

func (m dashboardModel) renderHandlesPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Live Handles"))
	b.WriteString("\n")

	if len(m.handles) == 0 {
		b.WriteString("  No live interaction handles.")
		return b.String()
	}

	for _, h := range m.handles {
		b.WriteString(fmt.Sprintf("  %-20s %-16s %s\n", h.handleID, h.location, h.updated))
	}

	b.WriteString(fmt.Sprintf("\n  Total: %d", len(m.handles)))

	return b.String()
}

func (m dashboardModel) renderAuditPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Audit (1h)"))
	b.WriteString("\n")

	if len(m.audit) == 0 {
		b.WriteString("  No recent audit entries.")
		return b.String()
	}

	for _, a := range m.audit {
		lvl := styleForLevel(a.level).Render(fmt.Sprintf("[%s]", a.level))
		b.WriteString(fmt.Sprintf("  %s %s %-20s %s\n", a.time, lvl, a.eventType, a.message))
	}

	return b.String()
}

func styleForRisk(risk string) lipgloss.Style {
	switch risk {
	case string(models.RiskCritical):
		return riskCritical
	case string(models.RiskElevated):
		return riskElevated
	case string(models.RiskSafe):
		return riskSafe
	default:
		return lipgloss.NewStyle()
	}
}

func styleForLevel(level string) lipgloss.Style {
	switch strings.ToUpper(level) {
	case "ERROR":
		return levelError
	case "WARN":
		return levelWarn
	case "INFO":
		return levelInfo
	default:
		return lipgloss.NewStyle()
	}
}

// auditTailLines bounds how much of the audit trail the dashboard shows.
const auditTailLines = 15

func loadData() tea.Msg {
	var result dataLoadedMsg

	if CaseFiles != nil {
		files := CaseFiles.List()
		sort.Slice(files, func(i, j int) bool {
			ri, rj := files[i].RiskLevel.Rank(), files[j].RiskLevel.Rank()
			if ri != rj {
				return ri > rj
			}
			return files[i].SessionID < files[j].SessionID
		})
		result.cases = make([]caseSnapshot, 0, len(files))
		for _, cf := range files {
			result.cases = append(result.cases, caseSnapshot{
				sessionID: cf.SessionID,
				risk:      string(cf.RiskLevel),
				state:     string(cf.State),
				actions:   len(cf.ActionsTaken),
				events:    len(cf.Timeline),
			})
		}
	}

	if Registry != nil {
		handles := Registry.List()
		sort.Slice(handles, func(i, j int) bool {
			return handles[i].LastUpdatedAt.After(handles[j].LastUpdatedAt)
		})
		result.handles = make([]handleSnapshot, 0, len(handles))
		for _, h := range handles {
			loc := "no location"
			if h.Location != nil {
				loc = fmt.Sprintf("%.4f,%.4f", h.Location.Lat, h.Location.Lng)
			}
			result.handles = append(result.handles, handleSnapshot{
				handleID:  h.HandleID,
				sessionID: h.SessionID,
				location:  loc,
				updated:   h.LastUpdatedAt.Format("15:04:05"),
			})
		}
	}

	if AuditLog != nil {
		since := time.Now().UTC().Add(-time.Hour)
		entries, err := AuditLog.Read(observability.AuditFilter{Since: &since})
		if err != nil {
			result.err = fmt.Errorf("loading audit entries: %w", err)
			return result
		}
		if len(entries) > auditTailLines {
			entries = entries[len(entries)-auditTailLines:]
		}
		result.audit = make([]auditSnapshot, 0, len(entries))
		for _, e := range entries {
			result.audit = append(result.audit, auditSnapshot{
				level:     e.Level,
				eventType: e.Type,
				message:   e.Message,
				time:      e.Time.Format("15:04:05"),
			})
		}
	}

	return result
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI dashboard for live incidents",
	Long: `Launch an interactive terminal dashboard showing live case files,
interaction handles, and recent audit activity.

Navigate between panels with Tab, refresh with r, quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if CaseFiles == nil {
			return fmt.Errorf("case file store not initialized")
		}
		p := tea.NewProgram(newDashboardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
