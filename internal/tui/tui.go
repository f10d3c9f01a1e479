package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Joseda-hg/tasksync/internal/app"
	"github.com/Joseda-hg/tasksync/internal/client"
	"github.com/Joseda-hg/tasksync/internal/dashboard"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/view"
)

const (
	viewHeader     = "header"
	viewFooter     = "footer"
	viewBuckets    = "buckets"
	viewResults    = "results"
	viewTasks      = "tasks"
	viewSections   = "sections"
	viewTags       = "tags"
	viewCategories = "categories"
	viewSearch     = "search"
	viewForm       = "form"
)

const catalogSubscriber = "tui-catalog"

var focusOrder = []string{viewBuckets, viewResults, viewTasks, viewSections, viewTags, viewCategories}

type UI struct {
	session *app.Session
	gui     *gocui.Gui
	ctx     context.Context
	log     *slog.Logger

	change      dashboard.Change
	rows        []row
	search      view.State
	searchQuery model.Query
	filtered    view.State
	filter      model.Query
	tags        []model.Tag
	categories  []model.Category

	selectedRow      int
	selectedResult   int
	selectedFiltered int
	selectedSection  int
	selectedTag      int
	selectedCategory int
	bucketOrigin     int
	bucketHeight     int
	focus            string

	searchActive bool
	form         *formState
	formEditor   *formEditor
	status       string

	detach []func()

	// inline serializes posted updates when there is no main loop.
	inline sync.Mutex
}

type formKind int

const (
	formTask formKind = iota
	formRename
	formCategory
	formRange
)

type formState struct {
	kind       formKind
	task       *model.Task
	local      *view.View
	categoryID int64
	fields     []formField
	index      int
}

type formEditor struct {
	ui *UI
}

// Run drives the terminal UI over session until the user quits.
func Run(ctx context.Context, session *app.Session, logger *slog.Logger) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui := newUI(ctx, session, gui, logger)
	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}
	ui.attach()
	defer ui.close()
	go ui.watchDay(ctx, time.Minute)

	if err := gui.MainLoop(); err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func newUI(ctx context.Context, session *app.Session, gui *gocui.Gui, logger *slog.Logger) *UI {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ui := &UI{
		session:     session,
		gui:         gui,
		ctx:         ctx,
		log:         logger,
		focus:       viewBuckets,
		searchQuery: model.Query{IgnoreCase: true},
		selectedRow: -1,
	}
	ui.formEditor = &formEditor{ui: ui}
	return ui
}

// attach wires the UI to the session's views. Listeners fire on fetch
// goroutines, so every state change is handed to the main loop.
func (u *UI) attach() {
	u.session.SetErrorHandler(u.reportError)
	u.session.Dashboard.OnChange(func(change dashboard.Change) {
		u.post(func() { u.applyChange(change) })
	})
	u.detach = append(u.detach,
		u.session.Search.OnChange(func(state view.State) {
			u.post(func() { u.applySearchState(state) })
		}),
		u.session.Tasks.OnChange(func(state view.State) {
			u.post(func() { u.applyFilteredState(state) })
		}),
		u.session.Bus.Subscribe(catalogSubscriber, func() {
			u.run(u.loadCatalog)
		}),
	)

	u.applyChange(u.session.Dashboard.Current())
	u.applySearchState(u.session.Search.State())
	u.applyFilteredState(u.session.Tasks.State())
	u.run(u.loadCatalog)
}

// reportError shows err in the status line. A 404 means the row was removed
// elsewhere, so the views are refreshed instead of showing a raw error.
func (u *UI) reportError(err error) {
	if client.IsNotFound(err) {
		u.post(func() { u.status = "already removed on the server, refreshing" })
		u.session.Bus.InvalidateAll()
		return
	}
	u.post(func() { u.status = err.Error() })
}

func (u *UI) close() {
	u.session.SetErrorHandler(nil)
	for _, fn := range u.detach {
		fn()
	}
	u.detach = nil
}

// post runs fn on the main loop. Without a gui it runs inline.
func (u *UI) post(fn func()) {
	if u.gui == nil {
		u.inline.Lock()
		defer u.inline.Unlock()
		fn()
		return
	}
	u.gui.Update(func(*gocui.Gui) error {
		fn()
		return nil
	})
}

// run starts blocking work off the main loop. Without a gui it runs inline.
func (u *UI) run(fn func()) {
	if u.gui == nil {
		fn()
		return
	}
	go fn()
}

func (u *UI) watchDay(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := u.session.Dashboard.Rollover()
			if err != nil {
				u.post(func() { u.status = err.Error() })
				continue
			}
			if changed {
				u.log.Info("dashboard moved to a new day")
			}
		}
	}
}

func (u *UI) applyChange(change dashboard.Change) {
	if change.Seq < u.change.Seq {
		return
	}

	var keep *row
	if u.selectedRow >= 0 && u.selectedRow < len(u.rows) {
		current := u.rows[u.selectedRow]
		keep = &current
	}

	u.change = change
	u.rows = buildRows(change.Partition)
	u.selectedRow = -1
	if keep != nil {
		u.selectedRow = rowForTask(u.rows, keep.section, keep.task.ID)
	}
	if u.selectedRow < 0 {
		u.selectedRow = nextTaskRow(u.rows, 0, 1)
	}
	u.selectedSection = clamp(u.selectedSection, len(change.Visible))
}

func (u *UI) applySearchState(state view.State) {
	if state.Version < u.search.Version {
		return
	}
	u.search = state
	u.selectedResult = clamp(u.selectedResult, len(state.Tasks))
}

func (u *UI) applyFilteredState(state view.State) {
	if state.Version < u.filtered.Version {
		return
	}
	u.filtered = state
	u.selectedFiltered = clamp(u.selectedFiltered, len(state.Tasks))
}

func (u *UI) loadCatalog() {
	tags, err := u.session.Client.ListTags(u.ctx)
	if err != nil {
		u.post(func() { u.status = err.Error() })
		return
	}
	categories, err := u.session.Client.ListCategories(u.ctx)
	if err != nil {
		u.post(func() { u.status = err.Error() })
		return
	}
	u.post(func() {
		u.tags = tags
		u.categories = categories
		u.selectedTag = clamp(u.selectedTag, len(tags))
		u.selectedCategory = clamp(u.selectedCategory, len(categories))
	})
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{'q', u.quit},
		{gocui.KeyCtrlC, u.quit},
		{gocui.KeyTab, u.switchFocus},
		{'r', u.refresh},
		{'/', u.startSearch},
		{'a', u.addTask},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}
	for n := 1; n <= 9; n++ {
		if err := gui.SetKeybinding("", rune('0'+n), gocui.ModNone, u.jumpSection(n)); err != nil {
			return err
		}
	}

	for _, name := range focusOrder {
		for _, key := range []any{gocui.KeyArrowDown, 'j'} {
			if err := gui.SetKeybinding(name, key, gocui.ModNone, u.moveDown); err != nil {
				return err
			}
		}
		for _, key := range []any{gocui.KeyArrowUp, 'k'} {
			if err := gui.SetKeybinding(name, key, gocui.ModNone, u.moveUp); err != nil {
				return err
			}
		}
	}
	for _, name := range []string{viewBuckets, viewResults, viewTasks} {
		if err := gui.SetKeybinding(name, 'x', gocui.ModNone, u.toggleDone); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'd', gocui.ModNone, u.deleteTask); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, 'e', gocui.ModNone, u.editTask); err != nil {
			return err
		}
	}
	if err := gui.SetKeybinding(viewResults, 'i', gocui.ModNone, u.toggleIgnoreCase); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewResults, 'c', gocui.ModNone, u.toggleSearchCompleted); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSections, gocui.KeyEnter, gocui.ModNone, u.openSection); err != nil {
		return err
	}
	panes := []struct {
		view    string
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{viewTasks, 'c', u.toggleFilterCompleted},
		{viewTasks, 'f', u.editRange},
		{viewTasks, 'u', u.clearFilter},
		{viewTags, 'd', u.deleteTag},
		{viewTags, gocui.KeySpace, u.toggleTagFilter},
		{viewCategories, 'e', u.renameCategory},
		{viewCategories, 'n', u.addCategory},
		{viewCategories, 'd', u.deleteCategory},
		{viewCategories, gocui.KeySpace, u.toggleCategoryFilter},
	}
	for _, binding := range panes {
		if err := gui.SetKeybinding(binding.view, binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	if err := gui.SetKeybinding(viewSearch, gocui.KeyEnter, gocui.ModNone, u.submitSearch); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewSearch, gocui.KeyEsc, gocui.ModNone, u.cancelSearch); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEnter, gocui.ModNone, u.submitForm); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyTab, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyBacktab, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowDown, gocui.ModNone, u.nextFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyArrowUp, gocui.ModNone, u.prevFormField); err != nil {
		return err
	}
	if err := gui.SetKeybinding(viewForm, gocui.KeyEsc, gocui.ModNone, u.cancelForm); err != nil {
		return err
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	headerView.FgColor = gocui.ColorDefault
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	footerView.BgColor = gocui.ColorDefault
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	layout := computeLayout(maxX, bodyBottom-bodyTop+1)
	leftX0 := 0
	leftX1 := leftX0 + layout.leftWidth - 1
	rightX0 := leftX1 + 1
	if rightX0 >= maxX {
		rightX0 = leftX1
	}
	rightX1 := maxX - 1

	sectionsY0 := bodyTop
	sectionsY1 := sectionsY0 + layout.sectionsHeight - 1
	tagsY0 := sectionsY1 + 1
	tagsY1 := tagsY0 + layout.tagsHeight - 1
	categoriesY0 := tagsY1 + 1
	categoriesY1 := bodyBottom

	bucketsY0 := bodyTop
	bucketsY1 := bucketsY0 + layout.bucketsHeight - 1
	resultsY0 := bucketsY1 + 1
	resultsY1 := resultsY0 + layout.resultsHeight - 1
	tasksY0 := resultsY1 + 1
	tasksY1 := bodyBottom

	sectionsView, err := gui.SetView(viewSections, leftX0, sectionsY0, leftX1, sectionsY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		sectionsView.Title = "Sections"
		sectionsView.TitleColor = gocui.ColorYellow
	}
	applyViewStyle(sectionsView, u.focus == viewSections, true)
	u.renderSections(sectionsView)

	tagsView, err := gui.SetView(viewTags, leftX0, tagsY0, leftX1, tagsY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		tagsView.Title = "Tags"
		tagsView.TitleColor = gocui.ColorCyan
	}
	applyViewStyle(tagsView, u.focus == viewTags, true)
	renderList(tagsView, u.tags, formatTagEntry, u.selectedTag, u.focus == viewTags)

	categoriesView, err := gui.SetView(viewCategories, leftX0, categoriesY0, leftX1, categoriesY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		categoriesView.Title = "Categories"
		categoriesView.TitleColor = gocui.ColorMagenta
	}
	applyViewStyle(categoriesView, u.focus == viewCategories, true)
	renderList(categoriesView, u.categories, formatCategoryEntry, u.selectedCategory, u.focus == viewCategories)

	bucketsView, err := gui.SetView(viewBuckets, rightX0, bucketsY0, rightX1, bucketsY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		bucketsView.Title = "Due"
		bucketsView.TitleColor = gocui.ColorRed
	}
	applyViewStyle(bucketsView, u.focus == viewBuckets, true)
	u.bucketHeight = max(bucketsY1-bucketsY0-1, 1)
	u.renderBuckets(bucketsView)

	resultsView, err := gui.SetView(viewResults, rightX0, resultsY0, rightX1, resultsY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		resultsView.TitleColor = gocui.ColorGreen
	}
	resultsView.Title = u.resultsTitle()
	applyViewStyle(resultsView, u.focus == viewResults, true)
	u.renderResults(resultsView)

	tasksView, err := gui.SetView(viewTasks, rightX0, tasksY0, rightX1, tasksY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		tasksView.TitleColor = gocui.ColorBlue
	}
	tasksView.Title = u.filterTitle()
	applyViewStyle(tasksView, u.focus == viewTasks, true)
	u.renderFiltered(tasksView)

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.searchActive {
		if err := u.showSearch(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewSearch)
	}

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}
	gui.Cursor = u.inputActive()
	return nil
}

type layout struct {
	leftWidth      int
	sectionsHeight int
	tagsHeight     int
	bucketsHeight  int
	resultsHeight  int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width-2, 20)
	safeHeight := max(height, 8)

	leftWidth := safeWidth / 4
	if leftWidth < 22 {
		leftWidth = 22
	}
	if leftWidth > safeWidth-18 {
		leftWidth = safeWidth / 2
	}

	sectionsHeight := max(int(float64(safeHeight)*0.4), 4)
	tagsHeight := max(int(float64(safeHeight)*0.3), 3)
	if safeHeight-sectionsHeight-tagsHeight < 3 {
		tagsHeight = max(safeHeight-sectionsHeight-3, 3)
	}

	bucketsHeight := max(int(float64(safeHeight)*0.45), 4)
	resultsHeight := max(int(float64(safeHeight)*0.25), 3)
	if safeHeight-bucketsHeight-resultsHeight < 3 {
		resultsHeight = max(safeHeight-bucketsHeight-3, 3)
	}

	return layout{
		leftWidth:      leftWidth,
		sectionsHeight: sectionsHeight,
		tagsHeight:     tagsHeight,
		bucketsHeight:  bucketsHeight,
		resultsHeight:  resultsHeight,
	}
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	today := u.session.Dashboard.Today().Format("Mon 2006-01-02")
	state := u.change.Status.String()
	if u.change.Err != nil {
		state = "error: " + u.change.Err.Error()
	}
	fmt.Fprintf(view, "tasksync | %s | %s | search: %s", today, state, u.search.Status)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "j/k move | x done | e edit | d delete | a add | / search | i case | c completed | f dates | u clear")
	fmt.Fprintln(view, "1-9 sections | enter open section | space filter | n new category | tab cycle panes | r refresh | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderSections(view *gocui.View) {
	view.Clear()
	for i, label := range u.change.Visible {
		b, _ := u.change.Partition.Get(label)
		prefix := " "
		if i == u.selectedSection {
			prefix = selectionMarker(u.focus == viewSections)
		}
		fmt.Fprintf(view, "%s %d %s (%d)\n", prefix, i+1, label, len(b.Tasks))
	}
	if len(u.change.Visible) == 0 {
		fmt.Fprintln(view, "  nothing due")
	}
	if u.focus == viewSections {
		view.SetCursor(0, max(u.selectedSection, 0))
	}
}

func (u *UI) renderBuckets(view *gocui.View) {
	view.Clear()
	focused := u.focus == viewBuckets
	today := u.session.Dashboard.Today()
	for i, r := range u.rows {
		if r.header {
			b, _ := u.change.Partition.Get(r.section)
			fmt.Fprintln(view, sectionHeader(b))
			continue
		}
		prefix := " "
		if i == u.selectedRow {
			prefix = selectionMarker(focused)
		}
		fmt.Fprintf(view, "%s %s\n", prefix, app.FormatTask(r.task, today))
	}
	if len(u.rows) == 0 {
		fmt.Fprintln(view, "Nothing due.")
	}

	u.bucketOrigin = scrollOrigin(u.bucketOrigin, u.selectedRow, u.bucketHeight)
	view.SetOrigin(0, u.bucketOrigin)
	if focused && u.selectedRow >= 0 {
		view.SetCursor(0, u.selectedRow-u.bucketOrigin)
	}
}

func (u *UI) renderResults(pane *gocui.View) {
	pane.Clear()
	focused := u.focus == viewResults
	today := u.session.Dashboard.Today()
	if u.searchQuery.Title == "" {
		fmt.Fprintln(pane, "  type / to search")
		return
	}
	for i, task := range u.search.Tasks {
		prefix := " "
		if i == u.selectedResult {
			prefix = selectionMarker(focused)
		}
		fmt.Fprintf(pane, "%s %s\n", prefix, app.FormatTask(task, today))
	}
	if len(u.search.Tasks) == 0 && u.search.Status == view.Ready {
		fmt.Fprintln(pane, "  no matches")
	}
	if focused {
		pane.SetCursor(0, max(u.selectedResult, 0))
	}
}

func (u *UI) resultsTitle() string {
	if u.searchQuery.Title == "" {
		return "Search"
	}
	var flags []string
	if !u.searchQuery.IgnoreCase {
		flags = append(flags, "case")
	}
	if u.searchQuery.IncludeCompleted {
		flags = append(flags, "+done")
	}
	title := fmt.Sprintf("Search %q", u.searchQuery.Title)
	if len(flags) > 0 {
		title += " [" + strings.Join(flags, " ") + "]"
	}
	return title
}

func (u *UI) renderFiltered(pane *gocui.View) {
	pane.Clear()
	focused := u.focus == viewTasks
	today := u.session.Dashboard.Today()
	for i, task := range u.filtered.Tasks {
		prefix := " "
		if i == u.selectedFiltered {
			prefix = selectionMarker(focused)
		}
		fmt.Fprintf(pane, "%s %s\n", prefix, app.FormatTask(task, today))
	}
	if len(u.filtered.Tasks) == 0 && u.filtered.Status == view.Ready {
		fmt.Fprintln(pane, "  no tasks")
	}
	if focused {
		pane.SetCursor(0, max(u.selectedFiltered, 0))
	}
}

// filterTitle lists the active filters of the task pane.
func (u *UI) filterTitle() string {
	var parts []string
	for _, category := range u.categories {
		if slices.Contains(u.filter.CategoryIDs, category.ID) {
			parts = append(parts, formatCategoryEntry(category))
		}
	}
	for _, tag := range u.tags {
		if slices.Contains(u.filter.TagIDs, tag.ID) {
			parts = append(parts, formatTagEntry(tag))
		}
	}
	if u.filter.From != nil || u.filter.To != nil {
		parts = append(parts, formatRange(u.filter.From, u.filter.To))
	}
	if u.filter.IncludeCompleted {
		parts = append(parts, "+done")
	}
	if len(parts) == 0 {
		return "Tasks"
	}
	return "Tasks [" + strings.Join(parts, " ") + "]"
}

func formatRange(from, to *time.Time) string {
	format := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.DateOnly)
	}
	return format(from) + ".." + format(to)
}

func renderList[T any](view *gocui.View, items []T, format func(T) string, selected int, focused bool) {
	view.Clear()
	for i, item := range items {
		prefix := " "
		if i == selected {
			prefix = selectionMarker(focused)
		}
		fmt.Fprintf(view, "%s %s\n", prefix, format(item))
	}
	if focused {
		view.SetCursor(0, max(min(selected, len(items)-1), 0))
	}
}

// selectedTask returns the task under the cursor and the view holding it.
func (u *UI) selectedTask() (model.Task, *view.View, bool) {
	switch u.focus {
	case viewBuckets:
		if u.selectedRow < 0 || u.selectedRow >= len(u.rows) || u.rows[u.selectedRow].header {
			return model.Task{}, nil, false
		}
		return u.rows[u.selectedRow].task, u.session.Buckets, true
	case viewResults:
		if u.selectedResult < 0 || u.selectedResult >= len(u.search.Tasks) {
			return model.Task{}, nil, false
		}
		return u.search.Tasks[u.selectedResult], u.session.Search, true
	case viewTasks:
		if u.selectedFiltered < 0 || u.selectedFiltered >= len(u.filtered.Tasks) {
			return model.Task{}, nil, false
		}
		return u.filtered.Tasks[u.selectedFiltered], u.session.Tasks, true
	}
	return model.Task{}, nil, false
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	next := focusOrder[0]
	for i, name := range focusOrder {
		if name == u.focus {
			next = focusOrder[(i+1)%len(focusOrder)]
			break
		}
	}
	return u.setFocus(gui, next)
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	u.focus = name
	if gui == nil {
		return nil
	}
	_, err := gui.SetCurrentView(name)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	return nil
}

func (u *UI) moveDown(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewBuckets:
		if next := nextTaskRow(u.rows, u.selectedRow+1, 1); next >= 0 {
			u.selectedRow = next
		}
	case viewResults:
		u.selectedResult = min(u.selectedResult+1, len(u.search.Tasks)-1)
	case viewTasks:
		u.selectedFiltered = min(u.selectedFiltered+1, len(u.filtered.Tasks)-1)
	case viewSections:
		u.selectedSection = min(u.selectedSection+1, len(u.change.Visible)-1)
	case viewTags:
		u.selectedTag = min(u.selectedTag+1, len(u.tags)-1)
	case viewCategories:
		u.selectedCategory = min(u.selectedCategory+1, len(u.categories)-1)
	}
	return nil
}

func (u *UI) moveUp(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewBuckets:
		if prev := nextTaskRow(u.rows, u.selectedRow-1, -1); prev >= 0 {
			u.selectedRow = prev
		}
	case viewResults:
		u.selectedResult = max(u.selectedResult-1, 0)
	case viewTasks:
		u.selectedFiltered = max(u.selectedFiltered-1, 0)
	case viewSections:
		u.selectedSection = max(u.selectedSection-1, 0)
	case viewTags:
		u.selectedTag = max(u.selectedTag-1, 0)
	case viewCategories:
		u.selectedCategory = max(u.selectedCategory-1, 0)
	}
	return nil
}

// jumpSection returns the handler for the n-th navigation key.
func (u *UI) jumpSection(n int) func(*gocui.Gui, *gocui.View) error {
	return func(gui *gocui.Gui, _ *gocui.View) error {
		if u.inputActive() || n < 1 || n > len(u.change.Visible) {
			return nil
		}
		return u.scrollToSection(gui, u.change.Visible[n-1])
	}
}

func (u *UI) openSection(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.selectedSection < 0 || u.selectedSection >= len(u.change.Visible) {
		return nil
	}
	return u.scrollToSection(gui, u.change.Visible[u.selectedSection])
}

func (u *UI) scrollToSection(gui *gocui.Gui, label string) error {
	index, ok := u.session.Dashboard.ScrollTarget(label)
	if !ok {
		return nil
	}
	header := headerIndex(u.rows, label)
	if header < 0 {
		return nil
	}
	u.selectedSection = index
	u.bucketOrigin = header
	u.selectedRow = nextTaskRow(u.rows, header, 1)
	return u.setFocus(gui, viewBuckets)
}

func (u *UI) refresh(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.status = ""
	u.session.Bus.InvalidateAll()
	return nil
}

func (u *UI) startSearch(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.searchActive = true
	return nil
}

func (u *UI) showSearch(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(30, maxX/2)
	height := 2
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2
	x1 := x0 + width
	y1 := y0 + height

	view, err := gui.SetView(viewSearch, x0, y0, x1, y1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Search titles"
		view.Wrap = true
		view.Clear()
		fmt.Fprint(view, u.searchQuery.Title)
	}
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewSearch)
	return nil
}

func (u *UI) submitSearch(gui *gocui.Gui, view *gocui.View) error {
	value := strings.TrimSpace(view.Buffer())
	u.searchActive = false
	_ = gui.DeleteView(viewSearch)
	if err := u.applySearch(value); err != nil {
		u.status = err.Error()
		return nil
	}
	return u.setFocus(gui, viewResults)
}

// applySearch points the search view at title. An empty title clears it.
func (u *UI) applySearch(title string) error {
	query := u.searchQuery.Clone()
	query.Title = title
	return u.setSearchQuery(query)
}

func (u *UI) setSearchQuery(query model.Query) error {
	if err := u.session.Search.SetQuery(query); err != nil {
		return err
	}
	u.status = ""
	u.searchQuery = query
	u.selectedResult = 0
	return nil
}

func (u *UI) cancelSearch(gui *gocui.Gui, _ *gocui.View) error {
	u.searchActive = false
	_ = gui.DeleteView(viewSearch)
	_, _ = gui.SetCurrentView(u.focus)
	return nil
}

func (u *UI) toggleIgnoreCase(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.searchQuery.Title == "" {
		return nil
	}
	query := u.searchQuery.Clone()
	query.IgnoreCase = !query.IgnoreCase
	if err := u.setSearchQuery(query); err != nil {
		u.status = err.Error()
	}
	return nil
}

func (u *UI) toggleSearchCompleted(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.searchQuery.Title == "" {
		return nil
	}
	query := u.searchQuery.Clone()
	query.IncludeCompleted = !query.IncludeCompleted
	if err := u.setSearchQuery(query); err != nil {
		u.status = err.Error()
	}
	return nil
}

func (u *UI) setFilter(query model.Query) error {
	if err := u.session.Tasks.SetQuery(query); err != nil {
		return err
	}
	u.status = ""
	u.filter = query.Clone()
	u.selectedFiltered = 0
	return nil
}

func (u *UI) updateFilter(edit func(q *model.Query)) {
	query := u.filter.Clone()
	edit(&query)
	if err := u.setFilter(query); err != nil {
		u.status = err.Error()
	}
}

func (u *UI) toggleFilterCompleted(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.updateFilter(func(q *model.Query) { q.IncludeCompleted = !q.IncludeCompleted })
	return nil
}

func (u *UI) clearFilter(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.updateFilter(func(q *model.Query) { *q = model.Query{} })
	return nil
}

func (u *UI) toggleTagFilter(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTags {
		return nil
	}
	if u.selectedTag < 0 || u.selectedTag >= len(u.tags) {
		return nil
	}
	id := u.tags[u.selectedTag].ID
	u.updateFilter(func(q *model.Query) { q.TagIDs = toggleID(q.TagIDs, id) })
	return nil
}

func (u *UI) toggleCategoryFilter(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewCategories {
		return nil
	}
	if u.selectedCategory < 0 || u.selectedCategory >= len(u.categories) {
		return nil
	}
	id := u.categories[u.selectedCategory].ID
	u.updateFilter(func(q *model.Query) { q.CategoryIDs = toggleID(q.CategoryIDs, id) })
	return nil
}

func toggleID(ids []int64, id int64) []int64 {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(slices.Clone(ids), i, i+1)
	}
	return append(slices.Clone(ids), id)
}

func (u *UI) editRange(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{kind: formRange, fields: buildRangeFields(u.filter)}
	return nil
}

func (u *UI) toggleDone(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task, local, ok := u.selectedTask()
	if !ok {
		return nil
	}
	u.status = ""
	u.run(func() {
		_, _ = u.session.Coordinator.ToggleComplete(u.ctx, local, task)
	})
	return nil
}

func (u *UI) deleteTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task, local, ok := u.selectedTask()
	if !ok {
		return nil
	}
	u.status = ""
	u.run(func() {
		_ = u.session.Coordinator.Delete(u.ctx, local, task)
	})
	return nil
}

func (u *UI) deleteTag(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewTags {
		return nil
	}
	if u.selectedTag < 0 || u.selectedTag >= len(u.tags) {
		return nil
	}
	tag := u.tags[u.selectedTag]
	u.status = ""
	u.run(func() {
		if err := u.session.DeleteTag(u.ctx, tag.ID); err != nil {
			return
		}
		u.post(func() { u.dropFilterIDs(nil, []int64{tag.ID}) })
	})
	return nil
}

func (u *UI) addCategory(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewCategories {
		return nil
	}
	u.form = &formState{kind: formCategory, fields: buildCategoryFields()}
	return nil
}

func (u *UI) deleteCategory(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewCategories {
		return nil
	}
	if u.selectedCategory < 0 || u.selectedCategory >= len(u.categories) {
		return nil
	}
	category := u.categories[u.selectedCategory]
	u.status = ""
	u.run(func() {
		if err := u.session.DeleteCategory(u.ctx, category.ID); err != nil {
			return
		}
		u.post(func() { u.dropFilterIDs([]int64{category.ID}, nil) })
	})
	return nil
}

// dropFilterIDs removes deleted catalog entries from the task filter.
func (u *UI) dropFilterIDs(categoryIDs, tagIDs []int64) {
	query := u.filter.Clone()
	query.CategoryIDs = slices.DeleteFunc(query.CategoryIDs, func(id int64) bool { return slices.Contains(categoryIDs, id) })
	query.TagIDs = slices.DeleteFunc(query.TagIDs, func(id int64) bool { return slices.Contains(tagIDs, id) })
	if query.Equal(u.filter) {
		return
	}
	if err := u.setFilter(query); err != nil {
		u.status = err.Error()
	}
}

func (u *UI) addTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.form = &formState{kind: formTask, fields: buildFormFields(nil)}
	return nil
}

func (u *UI) editTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task, local, ok := u.selectedTask()
	if !ok {
		return nil
	}
	u.form = &formState{kind: formTask, task: &task, local: local, fields: buildFormFields(&task)}
	return nil
}

func (u *UI) renameCategory(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.focus != viewCategories {
		return nil
	}
	if u.selectedCategory < 0 || u.selectedCategory >= len(u.categories) {
		return nil
	}
	category := u.categories[u.selectedCategory]
	u.form = &formState{kind: formRename, categoryID: category.ID, fields: buildRenameFields(category)}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := min(len(u.form.fields)+2, max(4, maxY/2))
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2
	x1 := x0 + width
	y1 := y0 + height

	view, err := gui.SetView(viewForm, x0, y0, x1, y1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	switch {
	case u.form.kind == formRename:
		view.Title = "Rename Category"
	case u.form.kind == formCategory:
		view.Title = "New Category"
	case u.form.kind == formRange:
		view.Title = "Due Between"
	case u.form.task != nil:
		view.Title = "Edit Task"
	default:
		view.Title = "New Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitForm(gui *gocui.Gui, _ *gocui.View) error {
	if u.form == nil {
		return nil
	}
	u.status = ""
	if err := u.saveForm(); err != nil {
		u.status = err.Error()
		return nil
	}
	if gui != nil {
		_ = gui.DeleteView(viewForm)
		_, _ = gui.SetCurrentView(u.focus)
	}
	return nil
}

// saveForm validates the open form and starts the matching mutation. The
// form closes once the input is accepted; server errors surface in the
// status line.
func (u *UI) saveForm() error {
	form := u.form
	loc := u.session.Dashboard.Today().Location()

	switch {
	case form.kind == formRename:
		name := strings.TrimSpace(form.fields[0].Value)
		if name == "" {
			return errors.New("category name must not be empty")
		}
		id := form.categoryID
		u.run(func() {
			_, _ = u.session.RenameCategory(u.ctx, id, name)
		})
	case form.kind == formCategory:
		name := strings.TrimSpace(form.fields[0].Value)
		if name == "" {
			return errors.New("category name must not be empty")
		}
		u.run(func() {
			_, _ = u.session.CreateCategory(u.ctx, name)
		})
	case form.kind == formRange:
		from, to, err := parseRange(form.fields, loc)
		if err != nil {
			return err
		}
		query := u.filter.Clone()
		query.From, query.To = from, to
		if err := u.setFilter(query); err != nil {
			return err
		}
	case form.task == nil:
		fields, err := parseFormFields(form.fields, loc, u.categories)
		if err != nil {
			return err
		}
		u.run(func() {
			_, _ = u.session.Coordinator.Create(u.ctx, fields)
		})
	default:
		patch, err := patchFromForm(*form.task, form.fields, loc, u.categories)
		if err != nil {
			return err
		}
		task, local := *form.task, form.local
		u.run(func() {
			_, _ = u.session.Coordinator.Edit(u.ctx, local, task, patch)
		})
	}

	u.form = nil
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	_ = gui.DeleteView(viewForm)
	_, _ = gui.SetCurrentView(u.focus)
	return nil
}

func (u *UI) nextFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(gui *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.Value)
	}
	field := u.form.fields[u.form.index]
	cursorX := len([]rune(field.Label)) + len([]rune(field.Value)) + 4
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func (u *UI) inputActive() bool {
	return u.searchActive || u.form != nil
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	return gocui.ErrQuit
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
		view.TitleColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}

func selectionMarker(focused bool) string {
	if focused {
		return ">"
	}
	return "*"
}

// scrollOrigin keeps selected inside a window of height rows starting at
// origin.
func scrollOrigin(origin, selected, height int) int {
	if selected < 0 || height <= 0 {
		return max(origin, 0)
	}
	if selected < origin {
		return selected
	}
	if selected >= origin+height {
		return selected - height + 1
	}
	return max(origin, 0)
}

func clamp(index, length int) int {
	if length == 0 {
		return 0
	}
	return max(min(index, length-1), 0)
}
