package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is one full-screen view. Only the active page sees key and mouse
// input; every page sees all other messages so background refreshes keep
// running.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// Opener is implemented by pages that need the navigation parameter.
type Opener interface {
	Open(nav PageNav) tea.Cmd
}

// PageNav asks the App to switch to PageID. Param is page specific.
type PageNav struct {
	PageID string
	Param  string
}

// App routes messages between pages.
type App struct {
	order  []string
	pages  map[string]Page
	active string
	width  int
	height int
}

// NewApp starts on the first page.
func NewApp(pages ...Page) *App {
	a := &App{pages: make(map[string]Page, len(pages))}
	for _, p := range pages {
		a.pages[p.ID()] = p
		a.order = append(a.order, p.ID())
	}
	if len(a.order) > 0 {
		a.active = a.order[0]
	}
	return a
}

// Active is the ID of the page on screen.
func (a *App) Active() string { return a.active }

func (a *App) Init() tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(a.order))
	for _, id := range a.order {
		cmds = append(cmds, a.pages[id].Init())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
	case tea.KeyMsg, tea.MouseMsg:
		p, ok := a.pages[a.active]
		if !ok {
			return a, nil
		}
		cmd, nav := p.Update(msg)
		return a, tea.Batch(cmd, a.navigate(nav))
	}

	var cmds []tea.Cmd
	for _, id := range a.order {
		cmd, nav := a.pages[id].Update(msg)
		cmds = append(cmds, cmd)
		if id == a.active {
			cmds = append(cmds, a.navigate(nav))
		}
	}
	return a, tea.Batch(cmds...)
}

func (a *App) navigate(nav *PageNav) tea.Cmd {
	if nav == nil || nav.PageID == a.active {
		return nil
	}
	next, ok := a.pages[nav.PageID]
	if !ok {
		return nil
	}
	a.active = nav.PageID
	if o, ok := next.(Opener); ok {
		return o.Open(*nav)
	}
	return nil
}

func (a *App) View() string {
	if p, ok := a.pages[a.active]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}

// DashboardPage adapts a DashboardModel to Page.
type DashboardPage struct {
	m *DashboardModel
}

func NewDashboardPage(m *DashboardModel) *DashboardPage {
	return &DashboardPage{m: m}
}

func (p *DashboardPage) ID() string    { return "dashboard" }
func (p *DashboardPage) Init() tea.Cmd { return p.m.Init() }

func (p *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	_, cmd := p.m.Update(msg)
	nav := p.m.nav
	p.m.nav = nil
	return cmd, nav
}

func (p *DashboardPage) View(width, height int) string {
	if width > 0 && height > 0 {
		p.m.width, p.m.height = width, height
	}
	return p.m.View()
}
