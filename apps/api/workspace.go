package main

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	selfAuthor         = "Вы"
	selfAvatarURL      = "https://i.pravatar.cc/40?u=user-me"
	defaultDescription = "Описание не предоставлено пользователем."

	msgAddressRequired = "Адрес не указан"
	msgReportSubmitted = "Ваша отметка добавлена и отправлена на модерацию"
	msgReportDeleted   = "Обращение удалено"
)

type WorkspaceOptions struct {
	ID              string
	Clock           clock.Clock
	Seed            []Report
	GeocodeDebounce time.Duration
	GeocodeTimeout  time.Duration
	ReverseGeocode  reverseGeocodeFunc
}

// Workspace is the state of one browser session. Every mutation goes through
// its methods, which serialize on mu.
type Workspace struct {
	id    string
	clock clock.Clock

	notifier  *Notifier
	debouncer *GeocodeDebouncer

	mu       sync.Mutex
	store    *ReportStore
	filters  CategoryFilter
	role     Role
	view     View
	center   Coords
	draft    ReportDraft
	lastSeen time.Time
}

type SessionState struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	View         View          `json:"view"`
	Center       Coords        `json:"center"`
	Filters      []Category    `json:"filters"`
	Draft        ReportDraft   `json:"draft"`
	Notification *Notification `json:"notification"`
}

// DraftPatch carries the address form fields a client wants to change.
type DraftPatch struct {
	Address     *string
	Description *string
	Category    *Category
	Image       *string
}

func NewWorkspace(opts WorkspaceOptions) *Workspace {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	w := &Workspace{
		id:       opts.ID,
		clock:    clk,
		notifier: NewNotifier(clk),
		store:    NewReportStore(clk, opts.Seed),
		filters:  newCategoryFilter(),
		role:     RoleNone,
		view:     ViewLogin,
		center:   districtCenter,
		draft:    newReportDraft(),
		lastSeen: clk.Now(),
	}
	w.debouncer = NewGeocodeDebouncer(clk, opts.GeocodeDebounce, opts.GeocodeTimeout, opts.ReverseGeocode, w.applyGeocodedAddress)
	return w
}

func (w *Workspace) ID() string { return w.id }

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *Workspace) State() SessionState {
	w.mu.Lock()
	state := SessionState{
		ID:      w.id,
		Role:    w.role,
		View:    resolveView(w.role, w.view),
		Center:  w.center,
		Filters: w.filters.Active(),
		Draft:   cloneDraft(w.draft),
	}
	w.mu.Unlock()
	state.Notification = w.notifier.Current()
	return state
}

func (w *Workspace) Role() Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.role
}

func (w *Workspace) Login(role Role) View {
	w.mu.Lock()
	w.role = role
	w.view = landingView(role)
	view := w.view
	w.mu.Unlock()

	w.notifier.Publish(loginGreeting(role), toastDuration)
	return view
}

func (w *Workspace) Logout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.role = RoleNone
	w.view = ViewLogin
}

// Navigate records the requested screen and returns the one the role allows.
func (w *Workspace) Navigate(requested View) View {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.view = resolveView(w.role, requested)
	return w.view
}

func (w *Workspace) ToggleFilter(category Category) []Category {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filters.Toggle(category)
	return w.filters.Active()
}

func (w *Workspace) ActiveFilters() []Category {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filters.Active()
}

// VisibleReports is the map projection: reports in an active category.
func (w *Workspace) VisibleReports() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filterReportsByCategory(w.store.All(), w.filters)
}

func (w *Workspace) MyReports() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filterReportsByAuthor(w.store.All(), selfAuthor)
}

func (w *Workspace) AllReports() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.All()
}

func (w *Workspace) Dashboard() DashboardStats {
	return computeDashboardStats(w.AllReports())
}

func (w *Workspace) Draft() ReportDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneDraft(w.draft)
}

func (w *Workspace) UpdateDraft(patch DraftPatch) ReportDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.applyDraftPatchLocked(patch)
	return cloneDraft(w.draft)
}

func (w *Workspace) applyDraftPatchLocked(patch DraftPatch) {
	if patch.Address != nil {
		w.draft.Address = *patch.Address
	}
	if patch.Description != nil {
		w.draft.Description = *patch.Description
	}
	if patch.Category != nil {
		w.draft.Category = *patch.Category
	}
	if patch.Image != nil {
		if strings.TrimSpace(*patch.Image) == "" {
			w.draft.Image = nil
		} else {
			image := *patch.Image
			w.draft.Image = &image
		}
	}
}

// SetTyping marks the address field as focused. While focused, geocoded
// addresses never overwrite what the resident is typing.
func (w *Workspace) SetTyping(typing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft.Typing = typing
}

// CenterChanged moves the map center and schedules a debounced reverse
// geocode unless the address field is being edited.
func (w *Workspace) CenterChanged(coords Coords) Coords {
	w.mu.Lock()
	w.center = districtBounds.Clamp(coords)
	center := w.center
	typing := w.draft.Typing
	w.mu.Unlock()

	if !typing {
		w.debouncer.Schedule(center)
	}
	return center
}

func (w *Workspace) Center() Coords {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.center
}

func (w *Workspace) applyGeocodedAddress(address string) {
	w.mu.Lock()
	if w.draft.Typing {
		w.mu.Unlock()
		return
	}
	w.draft.Address = address
	w.mu.Unlock()

	w.notifier.Broadcast(SessionEvent{Type: eventAddressResolved, Address: address})
}

// Submit turns the draft into a pending report placed at the map center.
func (w *Workspace) Submit(patch DraftPatch) (Report, error) {
	w.mu.Lock()
	w.applyDraftPatchLocked(patch)
	if strings.TrimSpace(w.draft.Address) == "" {
		w.mu.Unlock()
		w.notifier.Publish(msgAddressRequired, toastDuration)
		return Report{}, &apiError{Status: http.StatusBadRequest, Code: "address_required", Message: msgAddressRequired}
	}

	description := w.draft.Description
	if strings.TrimSpace(description) == "" {
		description = defaultDescription
	}
	report := w.store.Add(Report{
		Coords:      w.center,
		Category:    w.draft.Category,
		Title:       strings.TrimSpace(w.draft.Address),
		Description: description,
		Author:      selfAuthor,
		Avatar:      selfAvatarURL,
		Image:       w.draft.Image,
	})
	w.draft = newReportDraft()
	w.mu.Unlock()

	w.notifier.Publish(msgReportSubmitted, submitToastDuration)
	return report, nil
}

// SetStatus is a moderation action; unknown ids change nothing and stay silent.
func (w *Workspace) SetStatus(id int64, status Status) (Report, bool) {
	w.mu.Lock()
	report, ok := w.store.SetStatus(id, status)
	w.mu.Unlock()
	if ok {
		w.notifier.Publish(fmt.Sprintf("Статус обновлен на \"%s\"", status), toastDuration)
	}
	return report, ok
}

func (w *Workspace) Remove(id int64) (Report, bool) {
	w.mu.Lock()
	report, ok := w.store.Remove(id)
	w.mu.Unlock()
	if ok {
		w.notifier.Publish(msgReportDeleted, toastDuration)
	}
	return report, ok
}

func (w *Workspace) Notification() *Notification { return w.notifier.Current() }

func (w *Workspace) Subscribe() (<-chan SessionEvent, func()) { return w.notifier.Subscribe() }

func (w *Workspace) Close() {
	w.debouncer.Close()
	w.notifier.Close()
}

func cloneDraft(draft ReportDraft) ReportDraft {
	if draft.Image != nil {
		image := *draft.Image
		draft.Image = &image
	}
	return draft
}
