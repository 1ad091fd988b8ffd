package timeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/polymind/backend/internal/model/chat"
)

// PaneState is the rendering state of one model's pane.
type PaneState int

const (
	Idle PaneState = iota
	AwaitingResponse
	Rendered
	Failed
)

var stateNames = [...]string{"idle", "awaiting_response", "rendered", "failed"}

func (s PaneState) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("PaneState(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s PaneState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts a state name.
func (s *PaneState) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for i, n := range stateNames {
		if n == name {
			*s = PaneState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pane state %q", string(text))
}

// Entry is one line of a pane. Error entries are never persisted.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content,omitempty"`
	IsUser    bool      `json:"isUser"`
	ModelID   string    `json:"modelId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Pane is a snapshot of one model's timeline.
type Pane struct {
	ModelID string    `json:"modelId"`
	State   PaneState `json:"state"`
	Entries []Entry   `json:"entries"`
}

// Round identifies the round a result belongs to.
type Round uint64

// View holds the panes of the currently selected models.
type View struct {
	mu    sync.Mutex
	order []string
	panes map[string]*Pane
	round Round
}

// New creates a view with empty panes for selected.
func New(selected []string) *View {
	v := &View{panes: make(map[string]*Pane)}
	v.Build(selected, nil)
	return v
}

// ForModel returns the timeline of modelID: every user message plus that
// model's assistant messages, ordered by timestamp.
func ForModel(modelID string, messages []chat.Message) []Entry {
	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		if !m.IsUser && m.ModelID != modelID {
			continue
		}
		entries = append(entries, entryFromMessage(m))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}

func entryFromMessage(m chat.Message) Entry {
	return Entry{
		ID:        m.ID,
		Content:   m.Content,
		IsUser:    m.IsUser,
		ModelID:   m.ModelID,
		Timestamp: m.Timestamp,
	}
}

// Build replaces the view with panes for selected rebuilt from messages.
// Any round in progress is abandoned.
func (v *View) Build(selected []string, messages []chat.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.round++
	v.order = v.order[:0]
	v.panes = make(map[string]*Pane, len(selected))
	for _, id := range selected {
		if _, dup := v.panes[id]; dup || strings.TrimSpace(id) == "" {
			continue
		}
		v.order = append(v.order, id)
		v.panes[id] = restored(id, messages)
	}
}

// Reload rebuilds the current selection from messages.
func (v *View) Reload(messages []chat.Message) {
	v.mu.Lock()
	selected := append([]string(nil), v.order...)
	v.mu.Unlock()
	v.Build(selected, messages)
}

func restored(modelID string, messages []chat.Message) *Pane {
	p := &Pane{ModelID: modelID, State: Idle, Entries: ForModel(modelID, messages)}
	if len(p.Entries) > 0 {
		p.State = Rendered
	}
	return p
}

// BeginRound appends the user turn to every selected pane and marks them
// as awaiting a response. Results must be applied with the returned Round.
func (v *View) BeginRound(user chat.Message) Round {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.round++
	entry := entryFromMessage(user)
	entry.IsUser = true
	entry.ModelID = ""
	for _, id := range v.order {
		p := v.panes[id]
		p.Entries = append(p.Entries, entry)
		p.State = AwaitingResponse
	}
	return v.round
}

// Apply records result in its model's pane. It reports false when the
// result is stale or its model is no longer awaiting a response.
func (v *View) Apply(round Round, result chat.GenerationResult) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if round != v.round {
		return false
	}
	p, ok := v.panes[result.ModelID]
	if !ok || p.State != AwaitingResponse {
		return false
	}

	entry := Entry{
		ID:        result.ID,
		ModelID:   result.ModelID,
		Timestamp: result.Timestamp,
	}
	if result.Succeeded {
		entry.Content = result.Content
		p.State = Rendered
	} else {
		entry.Error = result.Error
		if entry.Error == "" {
			entry.Error = chat.UnknownError
		}
		p.State = Failed
	}
	p.Entries = append(p.Entries, entry)
	return true
}

// Select adds an empty pane for modelID. It reports false if the model is
// already selected.
func (v *View) Select(modelID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.panes[modelID]; ok || strings.TrimSpace(modelID) == "" {
		return false
	}
	v.order = append(v.order, modelID)
	v.panes[modelID] = &Pane{ModelID: modelID, State: Idle}
	return true
}

// Deselect drops modelID's pane together with its history.
func (v *View) Deselect(modelID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.panes[modelID]; !ok {
		return false
	}
	delete(v.panes, modelID)
	for i, id := range v.order {
		if id == modelID {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return true
}

// Reset empties every pane, keeping the selection.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.round++
	for _, id := range v.order {
		v.panes[id] = &Pane{ModelID: id, State: Idle}
	}
}

// Selected returns the selected models in selection order.
func (v *View) Selected() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.order...)
}

// Pane returns a copy of modelID's pane.
func (v *View) Pane(modelID string) (Pane, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.panes[modelID]
	if !ok {
		return Pane{}, false
	}
	return clonePane(p), true
}

// Panes returns copies of all panes in selection order.
func (v *View) Panes() []Pane {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]Pane, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, clonePane(v.panes[id]))
	}
	return out
}

func clonePane(p *Pane) Pane {
	entries := make([]Entry, len(p.Entries))
	copy(entries, p.Entries)
	return Pane{ModelID: p.ModelID, State: p.State, Entries: entries}
}
