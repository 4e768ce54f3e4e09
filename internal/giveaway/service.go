package giveaway

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ichi0g0y/giveaway-engine/internal/lottery"
	"github.com/ichi0g0y/giveaway-engine/internal/metrics"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	"github.com/ichi0g0y/giveaway-engine/internal/types"
	"go.uber.org/zap"
)

// RoleResolver returns the roles a member currently holds.
type RoleResolver interface {
	ResolveRoles(ctx context.Context, scopeID, memberID int64) ([]int64, error)
}

// Announcer publishes events. Announce returns the id that identifies the event from then on.
type Announcer interface {
	Announce(ctx context.Context, view EventView) (int64, error)
	AnnounceResult(ctx context.Context, view EventView, result EndResult) error
}

// Notifier sends a direct message to a member.
type Notifier interface {
	Notify(ctx context.Context, scopeID, memberID int64, message string) error
}

// SettingsProvider returns the per-scope policy.
type SettingsProvider interface {
	GetGuildSettings(scopeID int64) (types.GuildSettings, error)
}

// HistoryRecorder stores one row per draw.
type HistoryRecorder interface {
	SaveDrawHistory(h types.DrawHistory) (int64, error)
}

// Dependencies はサービスが使う外部連携。Announcer 以外は nil でもよい
type Dependencies struct {
	Roles     RoleResolver
	Activity  ActivityLookup
	Announcer Announcer
	Notifier  Notifier
	Settings  SettingsProvider
	History   HistoryRecorder
}

type Options struct {
	Durations        DurationPolicy
	ActivityCooldown time.Duration
	Now              func() time.Time
}

// Service は抽選イベントの操作をまとめる。
// 外部 I/O はすべてイベントのロック外で行う。
type Service struct {
	store   *EventStore
	deps    Dependencies
	policy  DurationPolicy
	limiter *ActivityLimiter
	now     func() time.Time
}

func NewService(store *EventStore, deps Dependencies, opts Options) *Service {
	if deps.Announcer == nil {
		deps.Announcer = &sequenceAnnouncer{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		deps:    deps,
		policy:  opts.Durations,
		limiter: NewActivityLimiter(opts.ActivityCooldown),
		now:     now,
	}
}

func (s *Service) Store() *EventStore {
	return s.store
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Create validates and registers a new event.
// Events starting in the future stay Pending until the scheduler activates them.
func (s *Service) Create(ctx context.Context, spec EventSpec) (*Event, error) {
	settings := s.guildSettings(spec.ScopeID)
	policy := s.durationPolicy(settings)
	ev, err := NewEvent(spec, policy)
	if err != nil {
		return nil, err
	}
	// 開始時刻に関係なく、作成時点から Min 以上先に終了すること
	if err := policy.validateAt(s.now(), ev.EndsAt()); err != nil {
		return nil, err
	}

	if ev.StartsAt().After(s.now()) {
		if err := s.store.Add(ev); err != nil {
			return nil, err
		}
		metrics.EventCreated()
		logger.Info("Giveaway scheduled",
			zap.Int64("scope_id", ev.ScopeID()),
			zap.Time("starts_at", ev.StartsAt()))
		return ev, nil
	}

	id, err := s.announce(ctx, ev)
	if err != nil {
		return nil, err
	}
	if err := ev.activate(id); err != nil {
		return nil, err
	}
	if err := s.store.Add(ev); err != nil {
		return nil, err
	}
	metrics.EventCreated()
	logger.Info("Giveaway started",
		zap.Int64("scope_id", ev.ScopeID()),
		zap.Int64("event_id", id),
		zap.Time("ends_at", ev.EndsAt()))
	return ev, nil
}

// Activate promotes a Pending event whose start time has come.
// On announcement failure the event stays Pending and is retried next tick.
func (s *Service) Activate(ctx context.Context, ev *Event) error {
	if ev.State() != StatePending {
		return nil
	}
	id, err := s.announce(ctx, ev)
	if err != nil {
		return err
	}
	if err := ev.activate(id); err != nil {
		return err
	}
	if err := s.store.promote(ev); err != nil {
		// Pending に戻して次の tick で別の ID を取り直す
		ev.deactivate()
		return err
	}
	logger.Info("Giveaway activated",
		zap.Int64("scope_id", ev.ScopeID()),
		zap.Int64("event_id", id))
	return nil
}

func (s *Service) announce(ctx context.Context, ev *Event) (int64, error) {
	id, err := s.deps.Announcer.Announce(ctx, ev.View())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAnnouncementFailed, err)
	}
	return id, nil
}

// EntryResult describes what an entry attempt did.
type EntryResult struct {
	Added      bool             `json:"added"`
	Removed    bool             `json:"removed"`
	Evaluation EvaluationResult `json:"evaluation"`
}

// Enter evaluates the candidate and toggles their entry.
// Rejections are not errors; the candidate is notified best-effort.
func (s *Service) Enter(ctx context.Context, scopeID, eventID, candidateID int64) (EntryResult, error) {
	ev, err := s.Get(scopeID, eventID)
	if err != nil {
		return EntryResult{}, err
	}
	if ev.State() != StateActive {
		metrics.Entry(metrics.EntryInactive)
		return EntryResult{Evaluation: EvaluationResult{Reason: ReasonNotActive}}, ErrNotActive
	}

	settings := s.guildSettings(scopeID)
	requirements := ev.Requirements().Merge(settings.DefaultBlacklist, settings.DefaultBypass)

	candidate := Candidate{
		ScopeID: scopeID,
		ID:      candidateID,
		Roles:   s.resolveRoles(ctx, scopeID, candidateID),
	}
	eval := requirements.Evaluate(ctx, candidate, s.deps.Activity, ev.messageCount(candidateID))

	added, err := ev.applyEntry(candidateID, eval)
	if err != nil {
		metrics.Entry(metrics.EntryInactive)
		return EntryResult{Evaluation: EvaluationResult{Reason: ReasonNotActive}}, err
	}

	result := EntryResult{
		Added:      added,
		Removed:    eval.Eligible && !added,
		Evaluation: eval,
	}
	switch {
	case added:
		metrics.Entry(metrics.EntryAdded)
	case result.Removed:
		metrics.Entry(metrics.EntryRemoved)
	default:
		metrics.Entry(metrics.EntryRejected)
		s.notify(ctx, scopeID, candidateID, RejectionMessage(ev.View().Prize, eval))
	}
	return result, nil
}

// Leave removes the candidate without re-evaluating.
func (s *Service) Leave(ctx context.Context, scopeID, eventID, candidateID int64) (bool, error) {
	ev, err := s.Get(scopeID, eventID)
	if err != nil {
		return false, err
	}
	removed := ev.leave(candidateID)
	if removed {
		metrics.Entry(metrics.EntryRemoved)
	}
	return removed, nil
}

// RecordMessage credits a message to every Active event in the scope that counts messages.
// Returns how many events were credited.
func (s *Service) RecordMessage(ctx context.Context, scopeID, candidateID int64, at time.Time) int {
	credited := 0
	for _, ev := range s.store.ActiveInScope(scopeID) {
		if ev.requirements.MinMessageCount <= 0 {
			continue
		}
		id, ok := ev.EventID()
		if !ok {
			continue
		}
		if !s.limiter.Allow(id, candidateID, at) {
			continue
		}
		if _, ok := ev.recordActivity(candidateID); ok {
			credited++
		}
	}
	return credited
}

// End draws winners for an Active event.
// An empty reason records the normal completion reason.
func (s *Service) End(ctx context.Context, scopeID, eventID int64, reason string) (*EndResult, error) {
	ev, err := s.Get(scopeID, eventID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return s.EndEvent(ctx, ev)
	}
	return s.finish(ctx, ev, &reason, true)
}

// EndEvent is End for an event already in hand. The scheduler uses this.
func (s *Service) EndEvent(ctx context.Context, ev *Event) (*EndResult, error) {
	return s.finish(ctx, ev, nil, true)
}

// Cancel ends an Active event without drawing.
func (s *Service) Cancel(ctx context.Context, scopeID, eventID int64) (*EndResult, error) {
	ev, err := s.Get(scopeID, eventID)
	if err != nil {
		return nil, err
	}
	reason := ReasonCancelled
	return s.finish(ctx, ev, &reason, false)
}

func (s *Service) finish(ctx context.Context, ev *Event, reason *string, draw bool) (*EndResult, error) {
	// ロール解決の前に状態を確認し、無駄な I/O を避ける
	ev.mu.Lock()
	err := ev.checkEndable()
	ev.mu.Unlock()
	if err != nil {
		return nil, err
	}

	settings := s.guildSettings(ev.ScopeID())
	var weightFn func(int64) int
	if draw {
		weightFn = s.weightFunc(ctx, ev.ScopeID(), ev.entrantSnapshot(), settings)
	}

	result, err := ev.end(reason, weightFn, draw)
	if err != nil {
		return nil, err
	}

	eventID, _ := ev.EventID()
	s.store.markEnded(ev.ScopeID(), eventID)
	s.limiter.Forget(eventID)
	metrics.EventEnded(result.Reason)

	s.publishResult(ctx, ev, result, settings, "end")

	logger.Info("Giveaway ended",
		zap.Int64("scope_id", ev.ScopeID()),
		zap.Int64("event_id", eventID),
		zap.String("reason", result.Reason),
		zap.Int("entrants", result.Draw.TotalEntrants),
		zap.Int64s("winners", result.Winners))
	return result, nil
}

// Reroll redraws winners from the entrants frozen at end.
// count <= 0 reuses the event's winner count.
func (s *Service) Reroll(ctx context.Context, scopeID, eventID int64, count int) (*EndResult, error) {
	ev, err := s.Get(scopeID, eventID)
	if err != nil {
		return nil, err
	}
	frozen, err := ev.frozenSnapshot()
	if err != nil {
		return nil, err
	}
	if len(frozen) == 0 {
		return nil, ErrNoEntrants
	}

	settings := s.guildSettings(scopeID)
	result, err := ev.reroll(count, s.weightFunc(ctx, scopeID, frozen, settings))
	if err != nil {
		return nil, err
	}

	s.publishResult(ctx, ev, result, settings, "reroll")

	logger.Info("Giveaway rerolled",
		zap.Int64("scope_id", scopeID),
		zap.Int64("event_id", eventID),
		zap.Int64s("winners", result.Winners))
	return result, nil
}

// publishResult fills the display fields, records history and announces. Failures are only logged.
func (s *Service) publishResult(ctx context.Context, ev *Event, result *EndResult, settings types.GuildSettings, kind string) {
	view := ev.View()
	eventID := int64(0)
	if view.EventID != nil {
		eventID = *view.EventID
	}

	result.EndedAt = s.now()
	result.WinnerTally = lottery.CountWinners(result.Winners)

	tmpl := settings.ResultTemplate
	if tmpl == "" {
		tmpl = DefaultResultTemplate
	}
	result.Message = RenderTemplate(tmpl, TemplateVars{
		Prize:       view.Prize,
		Winners:     result.Winners,
		HostID:      view.HostID,
		WinnerCount: view.WinnerCount,
		Entrants:    result.Draw.TotalEntrants,
		Reason:      result.Reason,
		EventID:     eventID,
	})

	if s.deps.History != nil {
		_, err := s.deps.History.SaveDrawHistory(types.DrawHistory{
			ScopeID:       view.ScopeID,
			EventID:       eventID,
			Kind:          kind,
			Prize:         view.Prize,
			Winners:       cloneIDs(result.Winners),
			TotalEntrants: result.Draw.TotalEntrants,
			TotalWeight:   result.Draw.TotalWeight,
			DrawnAt:       ToUnixSeconds(result.EndedAt),
		})
		if err != nil {
			logger.Warn("Failed to save draw history",
				zap.Int64("scope_id", view.ScopeID),
				zap.Int64("event_id", eventID),
				zap.Error(err))
		}
	}

	if err := s.deps.Announcer.AnnounceResult(ctx, view, *result); err != nil {
		logger.Warn("Failed to announce giveaway result",
			zap.Int64("scope_id", view.ScopeID),
			zap.Int64("event_id", eventID),
			zap.Error(fmt.Errorf("%w: %v", ErrAnnouncementFailed, err)))
	}
}

// weightFunc resolves entrant roles up front so the draw itself never blocks.
// Entrants whose roles cannot be resolved weigh 1.
func (s *Service) weightFunc(ctx context.Context, scopeID int64, entrants []int64, settings types.GuildSettings) func(int64) int {
	if len(settings.Multipliers) == 0 || s.deps.Roles == nil {
		return func(int64) int { return 1 }
	}
	roles := make(map[int64][]int64, len(entrants))
	for _, id := range entrants {
		roles[id] = s.resolveRoles(ctx, scopeID, id)
	}
	return lottery.WeightFunc(roles, settings.Multipliers, settings.MultiplierLimit)
}

func (s *Service) resolveRoles(ctx context.Context, scopeID, memberID int64) []int64 {
	if s.deps.Roles == nil {
		return nil
	}
	roles, err := s.deps.Roles.ResolveRoles(ctx, scopeID, memberID)
	if err != nil {
		logger.Warn("Failed to resolve member roles",
			zap.Int64("scope_id", scopeID),
			zap.Int64("member_id", memberID),
			zap.Error(err))
		return nil
	}
	return roles
}

func (s *Service) notify(ctx context.Context, scopeID, memberID int64, message string) {
	if s.deps.Notifier == nil {
		return
	}
	if err := s.deps.Notifier.Notify(ctx, scopeID, memberID, message); err != nil {
		logger.Warn("Failed to notify member",
			zap.Int64("scope_id", scopeID),
			zap.Int64("member_id", memberID),
			zap.Error(fmt.Errorf("%w: %v", ErrNotifyFailed, err)))
	}
}

func (s *Service) guildSettings(scopeID int64) types.GuildSettings {
	if s.deps.Settings == nil {
		return types.GuildSettings{ScopeID: scopeID}
	}
	settings, err := s.deps.Settings.GetGuildSettings(scopeID)
	if err != nil {
		logger.Warn("Failed to load guild settings, using defaults",
			zap.Int64("scope_id", scopeID),
			zap.Error(err))
		return types.GuildSettings{ScopeID: scopeID}
	}
	return settings
}

// durationPolicy applies per-scope overrides on top of the global bounds.
func (s *Service) durationPolicy(settings types.GuildSettings) DurationPolicy {
	p := s.policy
	if settings.MinDurationSeconds > 0 {
		p.Min = time.Duration(settings.MinDurationSeconds) * time.Second
	}
	if settings.MaxDurationSeconds > 0 {
		p.Max = time.Duration(settings.MaxDurationSeconds) * time.Second
	}
	return p
}

// Get returns an activated event.
func (s *Service) Get(scopeID, eventID int64) (*Event, error) {
	ev, ok := s.store.Get(scopeID, eventID)
	if !ok {
		return nil, fmt.Errorf("%w: scope=%d event=%d", ErrEventNotFound, scopeID, eventID)
	}
	return ev, nil
}

func (s *Service) List(scopeID int64) []EventView {
	events := s.store.List(scopeID)
	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.View())
	}
	return out
}

func (s *Service) ListActive() []EventView {
	events := s.store.ActiveEvents()
	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.View())
	}
	return out
}

// DuePending returns Pending events whose start time has passed.
func (s *Service) DuePending(now time.Time) []*Event {
	var out []*Event
	for _, ev := range s.store.PendingEvents() {
		if !ev.StartsAt().After(now) {
			out = append(out, ev)
		}
	}
	return out
}

// DueActive returns Active events whose end time has passed.
func (s *Service) DueActive(now time.Time) []*Event {
	var out []*Event
	for _, ev := range s.store.ActiveEvents() {
		if !ev.EndsAt().After(now) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Service) NextDue() (time.Time, bool) {
	return s.store.NextDue()
}

// ActiveCount is the size of the expiry index.
func (s *Service) ActiveCount() int {
	return len(s.store.ActiveEvents())
}

// PruneEnded drops Ended events older than the retention window.
func (s *Service) PruneEnded(retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	return s.store.PruneEnded(s.now().Add(-retention))
}

// RejectionMessage は参加不可の通知文を組み立てる
func RejectionMessage(prize string, eval EvaluationResult) string {
	switch eval.Reason {
	case ReasonBlacklisted:
		return fmt.Sprintf("「%s」に参加できません: ロール %d は参加対象外です", prize, eval.Role)
	case ReasonMissingRequired:
		return fmt.Sprintf("「%s」に参加できません: 必須ロール %d がありません", prize, eval.Role)
	case ReasonInsufficientLevel:
		return fmt.Sprintf("「%s」に参加できません: レベル %d 以上が必要です（現在 %d）", prize, eval.Need, eval.Have)
	case ReasonInsufficientWeekly:
		return fmt.Sprintf("「%s」に参加できません: 週間アクティビティ %d 以上が必要です（現在 %d）", prize, eval.Need, eval.Have)
	case ReasonInsufficientActivity:
		return fmt.Sprintf("「%s」に参加できません: 開始後のメッセージが %d 件必要です（現在 %d 件）", prize, eval.Need, eval.Have)
	case ReasonNotActive:
		return fmt.Sprintf("「%s」は受付中ではありません", prize)
	default:
		return fmt.Sprintf("「%s」に参加できません", prize)
	}
}

// sequenceAnnouncer only hands out ids. Used when nothing is wired to publish events.
type sequenceAnnouncer struct {
	next atomic.Int64
}

func (a *sequenceAnnouncer) Announce(context.Context, EventView) (int64, error) {
	return a.next.Add(1), nil
}

func (a *sequenceAnnouncer) AnnounceResult(context.Context, EventView, EndResult) error {
	return nil
}
