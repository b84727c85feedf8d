package draft

import (
	"pattern_worker/core/domain"

	"github.com/felixgeelhaar/statekit"
)

// Selection states.
const (
	StateCacheLookup        statekit.StateID = "cache_lookup"
	StateStoredLookup       statekit.StateID = "stored_lookup"
	StatePatternMatch       statekit.StateID = "pattern_match"
	StateFallbackGeneration statekit.StateID = "fallback_generation"
	StatePersist            statekit.StateID = "persist"
	StateMinimalDraft       statekit.StateID = "minimal_draft"
	StateDone               statekit.StateID = "done"
	StateFailed             statekit.StateID = "failed"
)

// Selection events.
const (
	EventHit       statekit.EventType = "HIT"
	EventMiss      statekit.EventType = "MISS"
	EventGenerated statekit.EventType = "GENERATED"
	EventNoMatch   statekit.EventType = "NO_MATCH"
	EventFailed    statekit.EventType = "FAILED"
	EventPersisted statekit.EventType = "PERSISTED"
	EventGiveUp    statekit.EventType = "GIVE_UP"
)

// selection is the per-run machine context. I/O happens outside the machine;
// the machine only decides where each outcome leads.
type selection struct {
	req     domain.DraftRequest
	key     domain.DraftKey
	draft   *domain.DraftCacheEntry
	source  domain.DraftSource
	matches []domain.PatternMatch
	errs    []string
	trace   []string
}

// enter returns the entry action that appends state to the trace.
func enter(state statekit.StateID) func(**selection, statekit.Event) {
	return func(ctx **selection, _ statekit.Event) {
		if ctx == nil || *ctx == nil {
			return
		}
		(*ctx).trace = append((*ctx).trace, string(state))
	}
}

// Entry action names, one per state.
const (
	actEnterCacheLookup        = "enter_cache_lookup"
	actEnterStoredLookup       = "enter_stored_lookup"
	actEnterPatternMatch       = "enter_pattern_match"
	actEnterFallbackGeneration = "enter_fallback_generation"
	actEnterPersist            = "enter_persist"
	actEnterMinimalDraft       = "enter_minimal_draft"
	actEnterDone               = "enter_done"
	actEnterFailed             = "enter_failed"
)

// newSelectionMachine builds the draft selection statechart. Forced
// regeneration starts at pattern_match and never visits the lookups.
func newSelectionMachine(initial statekit.StateID) (*statekit.MachineConfig[*selection], error) {
	return statekit.NewMachine[*selection]("draft_selection").
		WithInitial(initial).
		WithContext(&selection{}).
		WithAction(actEnterCacheLookup, enter(StateCacheLookup)).
		WithAction(actEnterStoredLookup, enter(StateStoredLookup)).
		WithAction(actEnterPatternMatch, enter(StatePatternMatch)).
		WithAction(actEnterFallbackGeneration, enter(StateFallbackGeneration)).
		WithAction(actEnterPersist, enter(StatePersist)).
		WithAction(actEnterMinimalDraft, enter(StateMinimalDraft)).
		WithAction(actEnterDone, enter(StateDone)).
		WithAction(actEnterFailed, enter(StateFailed)).
		State(StateCacheLookup).
		OnEntry(actEnterCacheLookup).
		On(EventHit).Target(StateDone).
		On(EventMiss).Target(StateStoredLookup).
		Done().
		State(StateStoredLookup).
		OnEntry(actEnterStoredLookup).
		On(EventHit).Target(StateDone).
		On(EventMiss).Target(StatePatternMatch).
		Done().
		State(StatePatternMatch).
		OnEntry(actEnterPatternMatch).
		On(EventGenerated).Target(StatePersist).
		On(EventNoMatch).Target(StateFallbackGeneration).
		On(EventFailed).Target(StateFallbackGeneration).
		Done().
		State(StateFallbackGeneration).
		OnEntry(actEnterFallbackGeneration).
		On(EventGenerated).Target(StatePersist).
		On(EventFailed).Target(StateMinimalDraft).
		Done().
		State(StatePersist).
		OnEntry(actEnterPersist).
		On(EventPersisted).Target(StateDone).
		Done().
		State(StateMinimalDraft).
		OnEntry(actEnterMinimalDraft).
		On(EventGiveUp).Target(StateFailed).
		Done().
		State(StateDone).
		Final().
		OnEntry(actEnterDone).
		Done().
		State(StateFailed).
		Final().
		OnEntry(actEnterFailed).
		Done().
		Build()
}
