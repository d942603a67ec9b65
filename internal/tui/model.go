// Package tui hosts the interactive console: question input, streamed
// phase progress, rendered answers with pagination, the error card, and
// the decision log overlay.
package tui

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/decisionlog"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/run"
)

const (
	glamourStyle       = "dark"
	defaultPlaceholder = "Ask a question about your data..."
)

type Model struct {
	orch    *run.Orchestrator
	updates <-chan run.Update
	tenant  string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	width  int
	height int

	snap        run.Snapshot
	focusInput  bool
	previewMode bool

	editingSQL bool
	editTarget uuid.UUID

	showDecisions  bool
	decisionsAll   bool
	decisionTyping bool
	decisionSearch textinput.Model
	decisionNode   int
	decisionNodes  []string
	decisionEvents []json.RawMessage

	rendering   bool
	renderNonce int

	status string
}

type updateMsg run.Update

type renderedMsg struct {
	nonce   int
	content string
}

// New builds the console model. updates is the hub subscription feeding
// orchestrator state changes into the program.
func New(orch *run.Orchestrator, updates <-chan run.Update, tenant string) Model {
	ti := textinput.New()
	ti.Placeholder = defaultPlaceholder
	ti.Prompt = "> "
	ti.CharLimit = 512
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ds := textinput.New()
	ds.Placeholder = "filter decisions..."
	ds.Prompt = "/ "
	ds.CharLimit = 128

	return Model{
		orch:           orch,
		updates:        updates,
		tenant:         tenant,
		input:          ti,
		viewport:       vp,
		spinner:        sp,
		help:           help.New(),
		keys:           defaultKeys(),
		focusInput:     true,
		decisionSearch: ds,
		decisionNode:   -1,
		snap:           orch.Snapshot(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForUpdate(m.updates))
}

func waitForUpdate(updates <-chan run.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return updateMsg(u)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.renderTranscript())

	case updateMsg:
		cmds = append(cmds, m.applyUpdate(run.Update(msg))...)
		cmds = append(cmds, waitForUpdate(m.updates))

	case renderedMsg:
		if msg.nonce == m.renderNonce {
			m.rendering = false
			atBottom := m.viewport.AtBottom()
			m.viewport.SetContent(msg.content)
			if atBottom {
				m.viewport.GotoBottom()
			}
		}

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

// applyUpdate folds one orchestrator update into the view state.
func (m *Model) applyUpdate(u run.Update) []tea.Cmd {
	wasBusy := m.busy()
	prev := m.snap.Status
	m.snap = u.Snapshot

	var cmds []tea.Cmd
	switch u.Kind {
	case run.UpdateMessages, run.UpdateError:
		cmds = append(cmds, m.renderTranscript())
	}

	if u.Kind == run.UpdateStatus && m.snap.Status.Terminal() && !prev.Terminal() {
		switch m.snap.Status {
		case model.RunStatusSucceeded:
			m.status = "done"
		case model.RunStatusFailed:
			m.status = "run failed"
		case model.RunStatusCanceled:
			m.status = "canceled"
		}
		m.orch.AcknowledgeTerminal()
	}

	if !wasBusy && m.busy() {
		cmds = append(cmds, m.spinner.Tick)
	}
	return cmds
}

func (m Model) busy() bool {
	return m.snap.Status == model.RunStatusStreaming ||
		m.snap.Status == model.RunStatusFinalizing ||
		m.snap.PagingMessageID != uuid.Nil
}

func (m *Model) renderTranscript() tea.Cmd {
	md := transcriptMarkdown(m.snap.Messages, m.snap.Error)
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	m.rendering = true
	m.renderNonce++
	return renderMarkdownCmd(md, wrap, m.renderNonce)
}

func renderMarkdownCmd(md string, wrap, nonce int) tea.Cmd {
	return func() tea.Msg {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(glamourStyle),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return renderedMsg{nonce: nonce, content: md}
		}
		out, err := r.Render(md)
		if err != nil {
			return renderedMsg{nonce: nonce, content: md}
		}
		return renderedMsg{nonce: nonce, content: out}
	}
}

// ---------------------------------------------------------------------------
// Key handling
// ---------------------------------------------------------------------------

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.showDecisions {
		return m.handleDecisionKey(msg)
	}
	if m.editingSQL {
		return m.handleSQLEditKey(msg)
	}
	if m.focusInput {
		return m.handleInputKey(msg)
	}
	return m.handleTranscriptKey(msg)
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		m.focusInput = false
		m.input.Blur()
		return m, nil

	case "enter":
		question := strings.TrimSpace(m.input.Value())
		if question == "" {
			return m, nil
		}
		var err error
		if m.previewMode {
			err = m.orch.SubmitPreview(question)
		} else {
			err = m.orch.Submit(question)
		}
		if err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.input.SetValue("")
		m.status = ""
		return m, nil

	case "esc":
		if m.runActive() {
			m.orch.Cancel()
			return m, nil
		}
		m.focusInput = false
		m.input.Blur()
		return m, nil

	case "ctrl+p":
		m.previewMode = !m.previewMode
		return m, nil

	case "ctrl+r":
		if q := m.orch.RetryQuestion(); q != "" {
			m.input.SetValue(q)
			m.input.CursorEnd()
		}
		return m, nil

	case "ctrl+x":
		m.orch.ClearHistory()
		m.status = "history cleared"
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleTranscriptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Focus):
		m.focusInput = true
		m.input.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Cancel):
		if m.runActive() {
			m.orch.Cancel()
		} else {
			m.focusInput = true
			m.input.Focus()
			return m, textinput.Blink
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Decisions):
		events, ok := lastWithDecisions(m.snap.Messages)
		if !ok {
			m.status = "no decision events in the transcript"
			return m, nil
		}
		m.openDecisions(events)
		return m, nil

	case key.Matches(msg, m.keys.LoadMore):
		id, ok := lastContinuable(m.snap.Messages)
		if !ok {
			m.status = "no further pages available"
			return m, nil
		}
		if err := m.orch.LoadMore(id); err != nil {
			m.status = err.Error()
		}
		return m, nil

	case key.Matches(msg, m.keys.EditSQL):
		id, sql, ok := lastPreview(m.snap.Messages)
		if !ok {
			m.status = "no previewed SQL to edit"
			return m, nil
		}
		m.enterSQLEdit(id, sql)
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Execute):
		id, _, ok := lastPreview(m.snap.Messages)
		if !ok {
			m.status = "no previewed SQL to execute"
			return m, nil
		}
		if err := m.orch.ExecuteSQL(id, ""); err != nil {
			m.status = err.Error()
		}
		return m, nil

	case key.Matches(msg, m.keys.Retry):
		if q := m.orch.RetryQuestion(); q != "" {
			m.focusInput = true
			m.input.Focus()
			m.input.SetValue(q)
			m.input.CursorEnd()
			return m, textinput.Blink
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleSQLEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.exitSQLEdit()
		return m, nil
	case "enter":
		sql := m.input.Value()
		target := m.editTarget
		m.exitSQLEdit()
		if err := m.orch.ExecuteSQL(target, sql); err != nil {
			m.status = err.Error()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleDecisionKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.decisionTyping {
		switch msg.String() {
		case "esc":
			m.decisionTyping = false
			m.decisionSearch.Blur()
			m.decisionSearch.SetValue("")
			return m, nil
		case "enter":
			m.decisionTyping = false
			m.decisionSearch.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.decisionSearch, cmd = m.decisionSearch.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "esc", "d", "q":
		m.showDecisions = false
	case "/":
		m.decisionTyping = true
		m.decisionSearch.Focus()
		return m, textinput.Blink
	case "a":
		m.decisionsAll = !m.decisionsAll
	case "n":
		m.decisionNode++
		if m.decisionNode >= len(m.decisionNodes) {
			m.decisionNode = -1
		}
	}
	return m, nil
}

func (m *Model) openDecisions(events []json.RawMessage) {
	m.showDecisions = true
	m.decisionsAll = false
	m.decisionTyping = false
	m.decisionSearch.SetValue("")
	m.decisionEvents = events
	m.decisionNodes = decisionlog.Nodes(decisionlog.Normalize(events))
	m.decisionNode = -1
}

func (m *Model) enterSQLEdit(target uuid.UUID, sql string) {
	m.editingSQL = true
	m.editTarget = target
	m.focusInput = true
	m.input.Prompt = "sql> "
	m.input.Placeholder = ""
	m.input.SetValue(sql)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) exitSQLEdit() {
	m.editingSQL = false
	m.input.Prompt = "> "
	m.input.Placeholder = defaultPlaceholder
	m.input.SetValue("")
}

func (m Model) runActive() bool {
	return m.snap.Status == model.RunStatusStreaming ||
		m.snap.Status == model.RunStatusFinalizing
}

// ---------------------------------------------------------------------------
// Finding key targets in the transcript
// ---------------------------------------------------------------------------

// lastPreview returns the newest message carrying previewed SQL.
func lastPreview(msgs []model.Message) (uuid.UUID, string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Origin != nil && msg.Origin.Mode == model.RunModePreview && msg.SQL != "" {
			return msg.ID, msg.SQL, true
		}
	}
	return uuid.Nil, "", false
}

// lastContinuable returns the newest message with a further page available.
func lastContinuable(msgs []model.Message) (uuid.UUID, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Completeness.HasMore() {
			return msgs[i].ID, true
		}
	}
	return uuid.Nil, false
}

// lastWithDecisions returns the newest message carrying decision events.
func lastWithDecisions(msgs []model.Message) ([]json.RawMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs[i].DecisionEvents) > 0 {
			return msgs[i].DecisionEvents, true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// View
// ---------------------------------------------------------------------------

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	title := titleStyle.Render("kotae") + "  " +
		dimStyle.Render("tenant "+m.tenant+"  thread "+shorten(m.snap.ThreadID, 8))

	var body string
	if m.showDecisions {
		body = m.decisionPane()
	} else {
		body = m.viewport.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		body,
		m.statusLine(),
		m.input.View(),
		m.help.View(m.keys),
	)
}

func (m Model) statusLine() string {
	var s string
	switch m.snap.Status {
	case model.RunStatusStreaming:
		s = m.spinner.View() + " " + phaseLine(m.snap.Phase)
	case model.RunStatusFinalizing:
		s = m.spinner.View() + " stream stalled, falling back to a direct call"
	default:
		s = m.status
		if s == "" {
			s = "ready"
		}
	}
	if m.snap.PagingMessageID != uuid.Nil {
		s += "  [loading next page]"
	}
	if m.previewMode {
		s += "  [preview: enter generates SQL only]"
	}
	if m.rendering {
		s += "  [rendering]"
	}
	return statusStyle.Width(m.width).Render(s)
}

func (m Model) decisionPane() string {
	filter := m.decisionFilter()
	header := titleStyle.Render("Decision log") + "  " +
		dimStyle.Render(decisionStatus(len(m.decisionEvents), filter, m.decisionsAll))

	lines := []string{header}
	if m.decisionTyping || strings.TrimSpace(m.decisionSearch.Value()) != "" {
		lines = append(lines, m.decisionSearch.View())
	}
	lines = append(lines, decisionBody(m.decisionEvents, filter, m.decisionsAll))

	pane := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return lipgloss.NewStyle().Height(m.bodyHeight()).MaxHeight(m.bodyHeight()).Render(pane)
}

func (m Model) decisionFilter() decisionlog.Filter {
	f := decisionlog.Filter{Search: m.decisionSearch.Value()}
	if m.decisionNode >= 0 && m.decisionNode < len(m.decisionNodes) {
		f.Node = m.decisionNodes[m.decisionNode]
	}
	return f
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.viewport.Width = m.width
	m.viewport.Height = m.bodyHeight()
	m.input.Width = m.width - 4
}

func (m Model) bodyHeight() int {
	h := m.height - 4
	if h < 6 {
		h = 6
	}
	return h
}

// ---------------------------------------------------------------------------
// Keys and styles
// ---------------------------------------------------------------------------

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	PageUp    key.Binding
	PageDown  key.Binding
	Focus     key.Binding
	Cancel    key.Binding
	Decisions key.Binding
	LoadMore  key.Binding
	EditSQL   key.Binding
	Execute   key.Binding
	Retry     key.Binding
	Preview   key.Binding
	Clear     key.Binding
	Quit      key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup", "b"),
			key.WithHelp("pgup", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown", "f"),
			key.WithHelp("pgdn", "page down"),
		),
		Focus: key.NewBinding(
			key.WithKeys("tab", "i"),
			key.WithHelp("tab", "toggle focus"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel run"),
		),
		Decisions: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "decision log"),
		),
		LoadMore: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "load more rows"),
		),
		EditSQL: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "edit previewed SQL"),
		),
		Execute: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "execute previewed SQL"),
		),
		Retry: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "retry question"),
		),
		Preview: key.NewBinding(
			key.WithKeys("ctrl+p"),
			key.WithHelp("ctrl+p", "preview mode"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+x"),
			key.WithHelp("ctrl+x", "clear history"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Focus, k.Cancel, k.Decisions, k.LoadMore, k.Retry, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PageUp, k.PageDown, k.Focus},
		{k.Cancel, k.Decisions, k.LoadMore, k.EditSQL, k.Execute},
		{k.Retry, k.Preview, k.Clear, k.Quit},
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)
