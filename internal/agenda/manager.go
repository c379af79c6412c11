// Package agenda runs the per-channel Monday agenda workflow: collect items,
// then finalize them into a document.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pillar.vc/assistant/common/id"
	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/store"
)

// StoreProvider gives access to stores within a transaction.
type StoreProvider interface {
	Agendas() store.AgendaStore
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

// DocumentCreator publishes a rendered agenda and returns its URL.
type DocumentCreator interface {
	CreateDocument(ctx context.Context, userID string, doc model.Document) (string, error)
}

// Archiver records finalized agendas in the records store.
type Archiver interface {
	UpsertAgendaRecord(ctx context.Context, rec model.AgendaRecord) error
}

type Config struct {
	// LockTTL bounds how long a crashed holder can block the channel.
	LockTTL time.Duration
	// LockWait bounds how long a caller queues behind another one.
	LockWait time.Duration
	Now      func() time.Time
	NewID    func() int64
	Names    Names
}

type Manager struct {
	tx      TxRunner
	locker  Locker
	docs    DocumentCreator
	archive Archiver
	cfg     Config
}

func NewManager(tx TxRunner, locker Locker, docs DocumentCreator, archive Archiver, cfg Config) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 15 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = id.New
	}
	return &Manager{tx: tx, locker: locker, docs: docs, archive: archive, cfg: cfg}
}

type StartResult struct {
	Draft   *model.AgendaDraft
	Resumed bool
}

type AddResult struct {
	Draft *model.AgendaDraft
	Item  model.AgendaItem
	// Added is false when the same submission was already recorded.
	Added bool
	// Started is true when the item opened a new draft.
	Started bool
}

type FinalizeResult struct {
	Draft       *model.AgendaDraft
	DocumentURL string
}

// Start opens a draft for the channel, or resumes the active one.
func (m *Manager) Start(ctx context.Context, channelID, userID string) (*StartResult, error) {
	var result *StartResult
	err := m.withChannel(ctx, channelID, func(ctx context.Context) error {
		return m.tx.WithTx(ctx, func(stores StoreProvider) error {
			draft, started, err := m.openDraft(ctx, stores.Agendas(), channelID, userID, EventStart)
			if err != nil {
				return err
			}
			result = &StartResult{Draft: draft, Resumed: !started}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "agenda started",
		"draft_id", result.Draft.ID,
		"resumed", result.Resumed,
		"items", len(result.Draft.Items))
	return result, nil
}

// AddItem appends an item, opening a draft first when the channel has none.
// Repeating the same submission (same user, text and event ts) is a no-op.
func (m *Manager) AddItem(ctx context.Context, channelID, userID string, category model.Category, text, eventTS string) (*AddResult, error) {
	if !category.IsValid() {
		return nil, &domain.ParseError{Expected: "a category (investment, pipeline, portfolio, other)", Got: string(category)}
	}

	var result *AddResult
	err := m.withChannel(ctx, channelID, func(ctx context.Context) error {
		return m.tx.WithTx(ctx, func(stores StoreProvider) error {
			agendas := stores.Agendas()
			draft, started, err := m.openDraft(ctx, agendas, channelID, userID, EventAddItem)
			if err != nil {
				return err
			}

			item := model.AgendaItem{
				ID:          m.cfg.NewID(),
				DraftID:     draft.ID,
				Category:    category,
				Text:        text,
				SubmittedBy: userID,
				SubmittedAt: eventTS,
			}
			added, err := agendas.AddItem(ctx, &item)
			if err != nil {
				return fmt.Errorf("adding agenda item: %w", err)
			}
			if added {
				draft.Items = append(draft.Items, item)
			} else {
				for _, existing := range draft.Items {
					if existing.SubmittedBy == userID && existing.Text == text && existing.SubmittedAt == eventTS {
						item = existing
						break
					}
				}
			}
			result = &AddResult{Draft: draft, Item: item, Added: added, Started: started}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{DraftID: logger.Ptr(result.Draft.ID)})
	slog.InfoContext(ctx, "agenda item added",
		"category", category,
		"added", result.Added,
		"started", result.Started,
		"items", len(result.Draft.Items))
	return result, nil
}

// View returns the channel's active draft.
func (m *Manager) View(ctx context.Context, channelID string) (*model.AgendaDraft, error) {
	var draft *model.AgendaDraft
	err := m.tx.WithTx(ctx, func(stores StoreProvider) error {
		d, err := stores.Agendas().GetActive(ctx, channelID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("an open agenda in this channel")
		}
		draft = d
		return err
	})
	return draft, err
}

// Finalize renders the active draft into a document. The draft becomes
// Finalized only when the document was created; any failure, including
// missing authorization, leaves it Open with its items intact.
func (m *Manager) Finalize(ctx context.Context, channelID, userID string) (*FinalizeResult, error) {
	var result *FinalizeResult
	err := m.withChannel(ctx, channelID, func(ctx context.Context) error {
		var err error
		result, err = m.finalizeLocked(ctx, channelID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Manager) finalizeLocked(ctx context.Context, channelID, userID string) (*FinalizeResult, error) {
	var draft *model.AgendaDraft
	err := m.tx.WithTx(ctx, func(stores StoreProvider) error {
		agendas := stores.Agendas()
		d, err := agendas.GetActive(ctx, channelID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			latest, lerr := agendas.GetLatest(ctx, channelID)
			if lerr != nil && !errors.Is(lerr, store.ErrNotFound) {
				return fmt.Errorf("loading latest agenda: %w", lerr)
			}
			if _, terr := Transition(StateOf(latest), EventFinalize); terr != nil {
				var conflict *domain.StateConflict
				if errors.As(terr, &conflict) && latest.DocumentURL != nil {
					conflict.DocumentURL = *latest.DocumentURL
				}
				return terr
			}
			return domain.NotFound("an open agenda in this channel")
		case err != nil:
			return fmt.Errorf("loading agenda: %w", err)
		}

		if len(d.Items) == 0 {
			return &domain.NotFoundError{What: "any agenda items", Note: "add some with `/pillar agenda add`"}
		}
		to, err := Transition(StateOf(d), EventFinalize)
		if err != nil {
			return err
		}
		if to != StateOf(d) {
			if err := agendas.Transition(ctx, d.ID, d.Status, model.AgendaStatus(to), nil); err != nil {
				return m.conflict(err)
			}
			d.Status = model.AgendaStatus(to)
		}
		draft = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{DraftID: logger.Ptr(draft.ID)})
	date := MeetingDate(m.cfg.Now())
	doc := Render(ctx, draft, date, m.cfg.Names)

	url, err := m.docs.CreateDocument(ctx, userID, doc)
	if err != nil {
		// The caller's context may already be cancelled; the rollback must still run.
		rctx := context.WithoutCancel(ctx)
		if rerr := m.moveDraft(rctx, draft, EventDocumentFailed, nil); rerr != nil {
			slog.ErrorContext(rctx, "failed to reopen agenda after document error",
				"error", rerr,
				"document_error", err)
		}
		slog.WarnContext(ctx, "agenda finalize failed, draft reopened", "error", err)
		return nil, fmt.Errorf("creating agenda document: %w", err)
	}

	if err := m.moveDraft(context.WithoutCancel(ctx), draft, EventDocumentReady, &url); err != nil {
		return nil, fmt.Errorf("marking agenda finalized: %w", err)
	}
	draft.DocumentURL = &url

	if m.archive != nil {
		rec := model.AgendaRecord{
			ChannelID:   channelID,
			MeetingDate: date,
			DocumentURL: url,
			Items:       draft.Items,
		}
		if err := m.archive.UpsertAgendaRecord(ctx, rec); err != nil {
			slog.WarnContext(ctx, "failed to archive agenda", "error", err)
		}
	}

	slog.InfoContext(ctx, "agenda finalized",
		"items", len(draft.Items),
		"document_url", url)
	return &FinalizeResult{Draft: draft, DocumentURL: url}, nil
}

// openDraft returns the channel's active draft, creating one when needed.
// A draft left in Finalizing is reopened. The bool reports whether a new
// draft was created.
func (m *Manager) openDraft(ctx context.Context, agendas store.AgendaStore, channelID, userID string, ev Event) (*model.AgendaDraft, bool, error) {
	current, err := agendas.GetActive(ctx, channelID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("loading agenda: %w", err)
	}

	to, err := Transition(StateOf(current), ev)
	if err != nil {
		return nil, false, err
	}

	if current != nil {
		if State(current.Status) != to {
			if err := agendas.Transition(ctx, current.ID, current.Status, model.AgendaStatus(to), nil); err != nil {
				return nil, false, m.conflict(err)
			}
			slog.InfoContext(ctx, "agenda reopened after interrupted finalize", "draft_id", current.ID)
			current.Status = model.AgendaStatus(to)
		}
		return current, false, nil
	}

	draft := &model.AgendaDraft{
		ID:        m.cfg.NewID(),
		ChannelID: channelID,
		Status:    model.AgendaStatusOpen,
		CreatedBy: userID,
	}
	if err := agendas.Create(ctx, draft); err != nil {
		return nil, false, m.conflict(fmt.Errorf("creating agenda: %w", err))
	}
	return draft, true, nil
}

func (m *Manager) moveDraft(ctx context.Context, draft *model.AgendaDraft, ev Event, documentURL *string) error {
	to, err := Transition(StateOf(draft), ev)
	if err != nil {
		return err
	}
	return m.tx.WithTx(ctx, func(stores StoreProvider) error {
		if err := stores.Agendas().Transition(ctx, draft.ID, draft.Status, model.AgendaStatus(to), documentURL); err != nil {
			return m.conflict(err)
		}
		draft.Status = model.AgendaStatus(to)
		return nil
	})
}

// withChannel runs fn while holding the channel's agenda lock.
func (m *Manager) withChannel(ctx context.Context, channelID string, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, m.cfg.LockWait)
	defer cancel()

	release, err := m.locker.Lock(lockCtx, "agenda:"+channelID, m.cfg.LockTTL)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &domain.StateConflict{Reason: "the agenda is busy"}
		}
		return fmt.Errorf("locking agenda: %w", err)
	}
	defer release()

	return fn(ctx)
}

func (m *Manager) conflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return &domain.StateConflict{Reason: "the agenda changed concurrently"}
	}
	return err
}
