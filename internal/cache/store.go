// Package cache keeps an authoritative local copy of conversation state.
//
// The store is a write-through cache over the backend: reads come from cached
// entries inside their staleness window, writes go to the backend and the cache
// is reconciled from the response. Sends apply an optimistic message first and
// roll back to a snapshot when the backend rejects the turn.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/verdantchat/chatsync/internal/api"
	"github.com/verdantchat/chatsync/internal/model"
	"github.com/verdantchat/chatsync/internal/stream"
	"github.com/verdantchat/chatsync/pkg/logger"
	"github.com/verdantchat/chatsync/pkg/metrics"
)

const listKey = "conversations"

func detailKey(id string) string {
	return "conversation:" + id
}

// ErrSendInFlight rejects a second send to a conversation while the first is
// still outstanding. Interleaved optimistic updates cannot be rolled back
// independently.
var ErrSendInFlight = errors.New("a send is already in flight for this conversation")

// ErrNoConversation rejects operations against a blank conversation id.
var ErrNoConversation = errors.New("no conversation selected")

// Backend is the remote surface the store synchronizes with.
type Backend interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, modelName, modelProvider, title string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error)
	SendMessage(ctx context.Context, conversationID, content string, opts model.SendOptions) (*model.SendResult, error)
	SendMessageStream(ctx context.Context, conversationID, content string, opts model.SendOptions, onContent stream.ContentFunc) (*model.SendResult, error)
}

// Selection is the piece of session state the store must coordinate with on
// delete: clearing the selection happens before the delete request is issued.
type Selection interface {
	SelectedID() string
	Clear()
}

// Store is the conversation cache. All methods are safe for concurrent use.
type Store struct {
	backend   Backend
	selection Selection
	logger    *logger.Logger
	listTTL   time.Duration
	detailTTL time.Duration

	mu      sync.Mutex
	entries *gocache.Cache
	sending map[string]bool
	reads   map[string]map[*inflightRead]struct{}
}

// inflightRead identifies one outstanding detail fetch. Several fetches for
// the same id may overlap; Delete cancels all of them, while each fetch
// removes only its own entry on completion.
type inflightRead struct {
	cancel context.CancelFunc
}

// NewStore creates a store over the given backend. selection may be nil when
// no selection state participates in delete coordination.
func NewStore(backend Backend, selection Selection, listTTL, detailTTL time.Duration, log *logger.Logger) *Store {
	return &Store{
		backend:   backend,
		selection: selection,
		logger:    log,
		listTTL:   listTTL,
		detailTTL: detailTTL,
		entries:   gocache.New(gocache.NoExpiration, 5*time.Minute),
		sending:   make(map[string]bool),
		reads:     make(map[string]map[*inflightRead]struct{}),
	}
}

// List returns conversation summaries, serving the cached copy inside its
// staleness window and refreshing from the backend otherwise.
func (s *Store) List(ctx context.Context) ([]model.Conversation, error) {
	s.mu.Lock()
	if v, ok := s.entries.Get(listKey); ok {
		s.mu.Unlock()
		metrics.RecordCacheLookup("list", true)
		return cloneList(v.([]model.Conversation)), nil
	}
	s.mu.Unlock()
	metrics.RecordCacheLookup("list", false)

	list, err := s.backend.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries.Set(listKey, cloneList(list), s.listTTL)
	s.mu.Unlock()
	return list, nil
}

// Get returns one conversation with messages. A cache miss fetches from the
// backend; the fetch is registered so a concurrent Delete can cancel it, and a
// canceled fetch's result is discarded rather than cached.
func (s *Store) Get(ctx context.Context, id string) (*model.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNoConversation
	}

	s.mu.Lock()
	if v, ok := s.entries.Get(detailKey(id)); ok {
		s.mu.Unlock()
		metrics.RecordCacheLookup("detail", true)
		return v.(*model.Conversation).Clone(), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	rd := &inflightRead{cancel: cancel}
	if s.reads[id] == nil {
		s.reads[id] = make(map[*inflightRead]struct{})
	}
	s.reads[id][rd] = struct{}{}
	s.mu.Unlock()
	metrics.RecordCacheLookup("detail", false)

	conv, err := s.backend.GetConversation(ctx, id)

	s.mu.Lock()
	canceled := ctx.Err() != nil
	if set, ok := s.reads[id]; ok {
		delete(set, rd)
		if len(set) == 0 {
			delete(s.reads, id)
		}
	}
	if err == nil && !canceled {
		s.entries.Set(detailKey(id), conv.Clone(), s.detailTTL)
	}
	s.mu.Unlock()
	cancel()

	if err != nil {
		return nil, err
	}
	if canceled {
		return nil, context.Canceled
	}
	return conv, nil
}

// Create makes a new conversation and seeds the cache: the detail entry is
// stored and the summary is prepended to a cached list.
func (s *Store) Create(ctx context.Context, modelName, modelProvider, title string) (*model.Conversation, error) {
	conv, err := s.backend.CreateConversation(ctx, modelName, modelProvider, title)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries.Set(detailKey(conv.ID), conv.Clone(), s.detailTTL)
	if v, ok := s.entries.Get(listKey); ok {
		list := append([]model.Conversation{*conv.Clone()}, v.([]model.Conversation)...)
		s.entries.Set(listKey, list, s.listTTL)
	}
	s.mu.Unlock()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("model", conv.ModelLabel()),
	)
	return conv, nil
}

// Send posts a message to a conversation. The user's message appears in the
// cached detail immediately under an optimistic id; on success the backend's
// finalized pair replaces it, on failure the pre-send snapshot is restored
// unchanged. At most one send per conversation runs at a time. When onContent
// is non-nil the streaming endpoint is used and partial tokens are forwarded.
func (s *Store) Send(ctx context.Context, id, content string, opts model.SendOptions, onContent stream.ContentFunc) (*model.SendResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNoConversation
	}

	s.mu.Lock()
	if s.sending[id] {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending[id] = true

	detailSnap, listSnap := s.snapshot(id)

	optimistic := model.NewOptimisticMessage(id, content)
	if v, ok := s.entries.Get(detailKey(id)); ok {
		conv := v.(*model.Conversation).Clone()
		conv.Messages = append(conv.Messages, optimistic)
		conv.MessageCount = len(conv.Messages)
		s.entries.Set(detailKey(id), conv, s.detailTTL)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sending, id)
		s.mu.Unlock()
	}()

	var result *model.SendResult
	var err error
	if onContent != nil {
		result, err = s.backend.SendMessageStream(ctx, id, content, opts, onContent)
	} else {
		result, err = s.backend.SendMessage(ctx, id, content, opts)
	}

	if err != nil {
		s.mu.Lock()
		s.restore(id, detailSnap, listSnap)
		s.mu.Unlock()
		metrics.OptimisticRollbacksTotal.Inc()
		s.logger.Warn("send failed, rolled back optimistic message",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return nil, err
	}

	s.mu.Lock()
	s.reconcileSend(id, result)
	s.mu.Unlock()
	return result, nil
}

// reconcileSend replaces the optimistic message with the finalized pair and
// refreshes the list summary. Caller holds the lock.
func (s *Store) reconcileSend(id string, result *model.SendResult) {
	if v, ok := s.entries.Get(detailKey(id)); ok {
		conv := v.(*model.Conversation).Clone()
		kept := conv.Messages[:0]
		for _, m := range conv.Messages {
			if !model.IsOptimisticID(m.ID) {
				kept = append(kept, m)
			}
		}
		conv.Messages = append(kept, result.UserMessage, result.AssistantMessage)
		conv.MessageCount = len(conv.Messages)
		conv.UpdatedAt = result.AssistantMessage.CreatedAt
		s.entries.Set(detailKey(id), conv, s.detailTTL)
	}

	if v, ok := s.entries.Get(listKey); ok {
		list := cloneList(v.([]model.Conversation))
		for i := range list {
			if list[i].ID == id {
				moved := list[i]
				last := result.AssistantMessage
				moved.LastMessage = &last
				moved.UpdatedAt = result.AssistantMessage.CreatedAt
				rest := append(list[:i:i], list[i+1:]...)
				list = append([]model.Conversation{moved}, rest...)
				break
			}
		}
		s.entries.Set(listKey, list, s.listTTL)
	}
}

// Delete removes a conversation. Local state is torn down before the request:
// any in-flight detail read is canceled, the selection is cleared if it points
// at the doomed conversation, and both cache entries are purged. A 404 from
// the backend counts as success. On other failures the list snapshot is
// restored so the summary reappears.
func (s *Store) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNoConversation
	}

	s.mu.Lock()
	for rd := range s.reads[id] {
		rd.cancel()
	}
	delete(s.reads, id)
	if s.selection != nil && s.selection.SelectedID() == id {
		s.selection.Clear()
	}

	_, listSnap := s.snapshot(id)
	s.entries.Delete(detailKey(id))
	if listSnap != nil {
		kept := make([]model.Conversation, 0, len(listSnap))
		for _, c := range listSnap {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		s.entries.Set(listKey, kept, s.listTTL)
	}
	s.mu.Unlock()

	err := s.backend.DeleteConversation(ctx, id)
	if err != nil && !api.IsNotFound(err) {
		s.mu.Lock()
		if listSnap != nil {
			s.entries.Set(listKey, listSnap, s.listTTL)
		}
		s.mu.Unlock()
		s.logger.Warn("delete failed, restored list",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", id))
	return nil
}

// Rename updates a conversation title. There is no optimistic phase; the cache
// is updated only from the backend's response.
func (s *Store) Rename(ctx context.Context, id, title string) (*model.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNoConversation
	}

	conv, err := s.backend.UpdateConversationTitle(ctx, id, title)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if v, ok := s.entries.Get(detailKey(id)); ok {
		cached := v.(*model.Conversation).Clone()
		cached.Title = conv.Title
		cached.UpdatedAt = conv.UpdatedAt
		s.entries.Set(detailKey(id), cached, s.detailTTL)
	}
	if v, ok := s.entries.Get(listKey); ok {
		list := cloneList(v.([]model.Conversation))
		for i := range list {
			if list[i].ID == id {
				list[i].Title = conv.Title
				list[i].UpdatedAt = conv.UpdatedAt
				break
			}
		}
		s.entries.Set(listKey, list, s.listTTL)
	}
	s.mu.Unlock()

	return conv, nil
}

// Invalidate drops the cached entries for one conversation and the list, so
// the next reads go to the backend.
func (s *Store) Invalidate(id string) {
	s.mu.Lock()
	s.entries.Delete(detailKey(id))
	s.entries.Delete(listKey)
	s.mu.Unlock()
}

// snapshot captures deep copies of the cached detail and list entries.
// Caller holds the lock. A nil return means the entry was not cached.
func (s *Store) snapshot(id string) (*model.Conversation, []model.Conversation) {
	var detail *model.Conversation
	var list []model.Conversation
	if v, ok := s.entries.Get(detailKey(id)); ok {
		detail = v.(*model.Conversation).Clone()
	}
	if v, ok := s.entries.Get(listKey); ok {
		list = cloneList(v.([]model.Conversation))
	}
	return detail, list
}

// restore puts snapshots back, deleting entries that were absent at snapshot
// time. Caller holds the lock.
func (s *Store) restore(id string, detail *model.Conversation, list []model.Conversation) {
	if detail != nil {
		s.entries.Set(detailKey(id), detail, s.detailTTL)
	} else {
		s.entries.Delete(detailKey(id))
	}
	if list != nil {
		s.entries.Set(listKey, list, s.listTTL)
	} else {
		s.entries.Delete(listKey)
	}
}

func cloneList(list []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(list))
	for i := range list {
		out[i] = *list[i].Clone()
	}
	return out
}
