package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/dashboard-sync/internal/annotations"
	"github.com/wolfman30/dashboard-sync/internal/archive"
	"github.com/wolfman30/dashboard-sync/internal/cache"
	"github.com/wolfman30/dashboard-sync/internal/insights"
	"github.com/wolfman30/dashboard-sync/internal/query"
	"github.com/wolfman30/dashboard-sync/internal/timeago"
	"github.com/wolfman30/dashboard-sync/internal/timeline"
	"github.com/wolfman30/dashboard-sync/pkg/logging"
)

const (
	listResource   = "conversations"
	detailResource = "conversation"
)

// staleNotice is shown next to data that is older than its last refresh
// attempt.
const staleNotice = "Showing the most recent data; the latest refresh failed."

// Upstream is the remote API the service reads from.
type Upstream interface {
	ListConversations(ctx context.Context, params url.Values) (*ListPage, error)
	GetConversation(ctx context.Context, id string) (*ConversationDetail, error)
}

// Archiver stores exports off-device.
type Archiver interface {
	ArchiveExport(ctx context.Context, rec archive.Record) (string, error)
}

// CacheOptions are the freshness windows per resource.
type CacheOptions struct {
	ListTTL       time.Duration
	ListRefresh   time.Duration
	DetailTTL     time.Duration
	DetailRefresh time.Duration
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Upstream Upstream
	Cache    *cache.Scheduler
	Notes    *annotations.Store
	Rules    insights.Rules
	Options  CacheOptions
	Archive  Archiver
	// RedactArchive hashes lead contacts and scrubs message text in the
	// archived copy of an export. The downloaded copy is untouched.
	RedactArchive bool
	Logger        *logging.Logger
	Clock         func() time.Time
}

// Service is what UI callers talk to: cached reads decorated with heuristics
// and relative times, plus the note store.
type Service struct {
	upstream Upstream
	cache    *cache.Scheduler
	notes    *annotations.Store
	rules    insights.Rules
	opts     CacheOptions
	archive  Archiver
	redact   bool
	logger   *logging.Logger
	clock    func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Upstream == nil {
		return nil, errors.New("dashboard: upstream required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("dashboard: cache scheduler required")
	}
	if cfg.Notes == nil {
		return nil, errors.New("dashboard: annotation store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{
		upstream: cfg.Upstream,
		cache:    cfg.Cache,
		notes:    cfg.Notes,
		rules:    cfg.Rules,
		opts:     cfg.Options,
		archive:  cfg.Archive,
		redact:   cfg.RedactArchive,
		logger:   cfg.Logger.With("component", "dashboard"),
		clock:    cfg.Clock,
	}, nil
}

// ListItem is one conversation row as shown in the list.
type ListItem struct {
	ConversationItem
	Status       insights.Status      `json:"status"`
	Labels       []insights.Label     `json:"labels"`
	Indicators   []insights.Indicator `json:"health_indicators"`
	RelativeTime string               `json:"relative_time"`
	HasNote      bool                 `json:"has_note"`
}

// SearchFields implements query.Searchable.
func (i ListItem) SearchFields() []string {
	return []string{i.UserMessage, i.BotReply, i.Intent, i.Channel}
}

// ListView is one filtered, searched page.
type ListView struct {
	Conversations []ListItem `json:"conversations"`
	Total         int        `json:"total"`
	Page          int        `json:"page"`
	Limit         int        `json:"limit"`
	TotalPages    int        `json:"total_pages"`
	Search        string     `json:"search,omitempty"`
	Stale         bool       `json:"stale"`
	FetchedAt     time.Time  `json:"fetched_at"`
	Notice        string     `json:"notice,omitempty"`
}

// ListConversations resolves the page for filters and applies search to it.
// Invalid filters produce an empty view without touching the upstream.
func (s *Service) ListConversations(ctx context.Context, f query.Filters, search string) (*ListView, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		s.logger.Debug("rejecting invalid filters", "error", err)
		return EmptyListView(f, search, err), nil
	}

	key := query.BuildKey(listResource, f)
	page, res, err := cache.ResolveAs(ctx, s.cache, key, s.listFetcher(f), s.listOptions())
	if err := s.checkSession(err, res.Err); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return s.listView(page, res, search), nil
}

// Watch mounts the list for filters and calls onUpdate after every refresh
// until the returned subscription is released.
func (s *Service) Watch(f query.Filters, search string, onUpdate func(*ListView, error)) (*cache.Subscription, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	fetch := s.listFetcher(f)
	key := query.BuildKey(listResource, f)
	sub := s.cache.Subscribe(key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, s.listOptions(), func(res cache.Result) {
		if err := s.checkSession(nil, res.Err); err != nil {
			onUpdate(nil, err)
			return
		}
		page, ok := res.Value.(*ListPage)
		if !ok || page == nil {
			onUpdate(nil, res.Err)
			return
		}
		onUpdate(s.listView(page, res, search), nil)
	})
	return sub, nil
}

func (s *Service) listFetcher(f query.Filters) func(context.Context) (*ListPage, error) {
	params := f.Values()
	return func(ctx context.Context) (*ListPage, error) {
		return s.upstream.ListConversations(ctx, params)
	}
}

func (s *Service) listOptions() cache.Options {
	return cache.Options{TTL: s.opts.ListTTL, RefreshInterval: s.opts.ListRefresh}
}

func (s *Service) listView(page *ListPage, res cache.Result, search string) *ListView {
	now := s.clock()
	items := make([]ListItem, 0, len(page.Conversations))
	for _, c := range page.Conversations {
		a := s.rules.Evaluate(c.Record())
		items = append(items, ListItem{
			ConversationItem: c,
			Status:           a.Status,
			Labels:           a.Labels,
			Indicators:       a.Indicators,
			RelativeTime:     timeago.Render(c.CreatedAt.Ptr(), now),
			HasNote:          s.notes.Get(c.ID.String()) != "",
		})
	}
	view := &ListView{
		Conversations: query.ApplyLocalSearch(items, search),
		Total:         page.Total,
		Page:          page.Page,
		Limit:         page.Limit,
		TotalPages:    page.TotalPages,
		Search:        strings.TrimSpace(search),
		Stale:         res.Stale,
		FetchedAt:     res.FetchedAt,
	}
	if res.Err != nil {
		view.Notice = staleNotice
	}
	return view
}

// EmptyListView is the result for a filter set that failed validation.
func EmptyListView(f query.Filters, search string, cause error) *ListView {
	return &ListView{
		Conversations: []ListItem{},
		Page:          f.Page,
		Limit:         f.Limit,
		Search:        strings.TrimSpace(search),
		Notice:        cause.Error(),
	}
}

// DetailView is one conversation with its merged timeline and local note.
type DetailView struct {
	Conversation DetailConversation `json:"conversation"`
	insights.Assessment
	UpstreamStatus string            `json:"upstream_status,omitempty"`
	Intelligence   Intelligence      `json:"intelligence"`
	AIReasoning    json.RawMessage   `json:"ai_reasoning"`
	Timeline       timeline.Timeline `json:"timeline"`
	Lead           *Lead             `json:"lead"`
	Messages       []Message         `json:"messages"`
	Note           string            `json:"internal_notes"`
	RelativeTime   string            `json:"relative_time"`
	Stale          bool              `json:"stale"`
	FetchedAt      time.Time         `json:"fetched_at"`
	Notice         string            `json:"notice,omitempty"`
}

// ConversationDetail resolves one conversation.
func (s *Service) ConversationDetail(ctx context.Context, id string) (*DetailView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("dashboard: conversation id required")
	}
	detail, res, err := cache.ResolveAs(ctx, s.cache, detailKey(id), func(ctx context.Context) (*ConversationDetail, error) {
		return s.upstream.GetConversation(ctx, id)
	}, cache.Options{TTL: s.opts.DetailTTL, RefreshInterval: s.opts.DetailRefresh})
	if err := s.checkSession(err, res.Err); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	view := s.detailView(id, detail)
	view.Stale = res.Stale
	view.FetchedAt = res.FetchedAt
	if res.Err != nil {
		view.Notice = staleNotice
	}
	return view, nil
}

func (s *Service) detailView(id string, d *ConversationDetail) *DetailView {
	rec := d.Record()
	return &DetailView{
		Conversation:   d.Conversation,
		Assessment:     s.rules.Evaluate(rec),
		UpstreamStatus: d.Status,
		Intelligence:   d.Intelligence,
		AIReasoning:    s.reasoning(d, rec),
		Timeline:       d.MergedTimeline(s.logger),
		Lead:           d.Lead,
		Messages:       d.Messages,
		Note:           s.notes.Get(id),
		RelativeTime:   timeago.Render(d.Conversation.CreatedAt.Ptr(), s.clock()),
	}
}

// reasoning prefers the upstream trace and falls back to the local rules.
func (s *Service) reasoning(d *ConversationDetail, rec insights.Record) json.RawMessage {
	if raw := d.AIReasoning; len(raw) > 0 && string(raw) != "null" {
		return raw
	}
	out, err := json.Marshal(s.rules.Reasoning(rec))
	if err != nil {
		return nil
	}
	return out
}

// Note returns the local note for a conversation.
func (s *Service) Note(id string) string {
	return s.notes.Get(id)
}

// SetNote writes a note through to the device store. The cache is not
// involved.
func (s *Service) SetNote(ctx context.Context, id, text string) error {
	return s.notes.Set(ctx, id, text)
}

// Refocus revalidates every mounted view that went stale.
func (s *Service) Refocus() int {
	return s.cache.Refocus()
}

// Invalidate marks every cached resource whose key starts with prefix stale.
func (s *Service) Invalidate(prefix string) int {
	return s.cache.Invalidate(prefix)
}

// InvalidateConversation marks one conversation and every list page stale.
func (s *Service) InvalidateConversation(id string) int {
	n := s.cache.Invalidate(listResource + "?")
	if id != "" {
		n += s.cache.Invalidate(detailKey(id))
	}
	return n
}

// OnFetchError is meant for cache.WithErrorHandler: an expired session seen
// by any background fetch resets the cache.
func (s *Service) OnFetchError(key string, err error) {
	if errors.Is(err, ErrSessionExpired) {
		s.expire(key)
	}
}

// checkSession turns any session expiry into a cache reset and
// ErrSessionExpired.
func (s *Service) checkSession(errs ...error) error {
	for _, err := range errs {
		if errors.Is(err, ErrSessionExpired) {
			s.expire("")
			return ErrSessionExpired
		}
	}
	return nil
}

func (s *Service) expire(key string) {
	s.logger.Warn("session expired, resetting cache", "key", key)
	s.cache.Reset()
}

func detailKey(id string) string {
	return detailResource + "/" + url.PathEscape(id)
}
