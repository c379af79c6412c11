package service_test

import (
	"context"
	"strings"
	"sync"

	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/queue"
	"pillar.vc/assistant/internal/slackapi"
	"pillar.vc/assistant/internal/store"
)

type delivery struct {
	inv  model.InvocationContext
	resp model.Response
}

type historyCall struct {
	channelID string
	oldest    int64
}

type mockTransport struct {
	mu         sync.Mutex
	history    map[string][]model.Message
	historyErr error
	names      map[string]string
	channels   []slackapi.Channel
	deliverErr error

	historyCalls []historyCall
	delivered    []delivery
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		history: map[string][]model.Message{},
		names:   map[string]string{},
	}
}

func (m *mockTransport) History(_ context.Context, channelID string, oldest int64, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCalls = append(m.historyCalls, historyCall{channelID: channelID, oldest: oldest})
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	var out []model.Message
	for _, msg := range m.history[channelID] {
		if msg.Ordinal() > oldest && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockTransport) UserName(_ context.Context, userID string) string {
	if name, ok := m.names[userID]; ok {
		return name
	}
	return userID
}

func (m *mockTransport) ChannelName(_ context.Context, channelID string) (string, error) {
	for _, ch := range m.channels {
		if ch.ID == channelID {
			return ch.Name, nil
		}
	}
	return "", domain.NotFound("that channel")
}

func (m *mockTransport) ListChannels(_ context.Context, prefix string) ([]slackapi.Channel, error) {
	var out []slackapi.Channel
	for _, ch := range m.channels {
		if strings.HasPrefix(ch.Name, prefix) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *mockTransport) Deliver(_ context.Context, inv model.InvocationContext, resp model.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliverErr != nil {
		return m.deliverErr
	}
	m.delivered = append(m.delivered, delivery{inv: inv, resp: resp})
	return nil
}

type mockSummarizer struct {
	mu          sync.Mutex
	summarizeFn func(ctx context.Context, chunks []brain.Chunk, in brain.Instruction) (brain.Summary, error)

	instructions []brain.Instruction
}

func (m *mockSummarizer) Summarize(ctx context.Context, chunks []brain.Chunk, in brain.Instruction) (brain.Summary, error) {
	m.mu.Lock()
	m.instructions = append(m.instructions, in)
	m.mu.Unlock()
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, chunks, in)
	}
	n := 0
	for _, c := range chunks {
		n += len(c.Messages)
	}
	return brain.Summary{Text: "summary of " + in.Subject, Messages: n, Chunks: len(chunks)}, nil
}

type mockMentions struct {
	answerFn func(ctx context.Context, req brain.MentionRequest) (string, error)
	requests []brain.MentionRequest
}

func (m *mockMentions) Answer(ctx context.Context, req brain.MentionRequest) (string, error) {
	m.requests = append(m.requests, req)
	if m.answerFn != nil {
		return m.answerFn(ctx, req)
	}
	return "answer for " + req.Asker, nil
}

type mockActions struct {
	extractFn func(ctx context.Context, chunks []brain.Chunk, filter *brain.OwnerFilter) ([]model.ActionItem, error)
	filters   []*brain.OwnerFilter
}

func (m *mockActions) Extract(ctx context.Context, chunks []brain.Chunk, filter *brain.OwnerFilter) ([]model.ActionItem, error) {
	m.filters = append(m.filters, filter)
	if m.extractFn != nil {
		return m.extractFn(ctx, chunks, filter)
	}
	return nil, nil
}

type mockLetters struct {
	mu        sync.Mutex
	sectionFn func(ctx context.Context, company, background string, chunks []brain.Chunk) (brain.CompanySection, error)
	composed  []brain.CompanySection
}

func (m *mockLetters) Section(ctx context.Context, company, background string, chunks []brain.Chunk) (brain.CompanySection, error) {
	if m.sectionFn != nil {
		return m.sectionFn(ctx, company, background, chunks)
	}
	return brain.CompanySection{Company: company, Text: company + " grew"}, nil
}

func (m *mockLetters) Compose(_ context.Context, period string, sections []brain.CompanySection) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.composed = sections
	return "Dear LPs, " + period, nil
}

type mockAgendas struct {
	startFn    func(ctx context.Context, channelID, userID string) (*agenda.StartResult, error)
	addFn      func(ctx context.Context, channelID, userID string, category model.Category, text, eventTS string) (*agenda.AddResult, error)
	viewFn     func(ctx context.Context, channelID string) (*model.AgendaDraft, error)
	finalizeFn func(ctx context.Context, channelID, userID string) (*agenda.FinalizeResult, error)
}

func (m *mockAgendas) Start(ctx context.Context, channelID, userID string) (*agenda.StartResult, error) {
	if m.startFn != nil {
		return m.startFn(ctx, channelID, userID)
	}
	return &agenda.StartResult{Draft: &model.AgendaDraft{ChannelID: channelID}}, nil
}

func (m *mockAgendas) AddItem(ctx context.Context, channelID, userID string, category model.Category, text, eventTS string) (*agenda.AddResult, error) {
	if m.addFn != nil {
		return m.addFn(ctx, channelID, userID, category, text, eventTS)
	}
	item := model.AgendaItem{Category: category, Text: text, SubmittedBy: userID, SubmittedAt: eventTS}
	return &agenda.AddResult{Draft: &model.AgendaDraft{Items: []model.AgendaItem{item}}, Item: item, Added: true}, nil
}

func (m *mockAgendas) View(ctx context.Context, channelID string) (*model.AgendaDraft, error) {
	if m.viewFn != nil {
		return m.viewFn(ctx, channelID)
	}
	return nil, domain.NotFound("an open agenda in this channel")
}

func (m *mockAgendas) Finalize(ctx context.Context, channelID, userID string) (*agenda.FinalizeResult, error) {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, channelID, userID)
	}
	return nil, domain.NotFound("an open agenda in this channel")
}

type mockRecords struct {
	companies []model.Company
	listErr   error
}

func (m *mockRecords) FindCompany(_ context.Context, name string) (*model.Company, error) {
	for _, c := range m.companies {
		if strings.EqualFold(c.Name, name) {
			cp := c
			return &cp, nil
		}
	}
	return nil, domain.NotFound(name)
}

func (m *mockRecords) ListCompanies(context.Context) ([]model.Company, error) {
	return append([]model.Company(nil), m.companies...), m.listErr
}

type mockDocs struct {
	createFn func(ctx context.Context, userID string, doc model.Document) (string, error)
	docs     []model.Document
}

func (m *mockDocs) CreateDocument(ctx context.Context, userID string, doc model.Document) (string, error) {
	m.docs = append(m.docs, doc)
	if m.createFn != nil {
		return m.createFn(ctx, userID, doc)
	}
	return "https://docs.google.com/document/d/doc-1/edit", nil
}

type memoryWatermarks struct {
	mu         sync.Mutex
	marks      map[string]int64
	advanceErr error
}

func newMemoryWatermarks() *memoryWatermarks {
	return &memoryWatermarks{marks: map[string]int64{}}
}

func (m *memoryWatermarks) Get(_ context.Context, userID, channelID string) (*model.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.marks[userID+"/"+channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &model.Watermark{UserID: userID, ChannelID: channelID, LastSeenOrdinal: o}, nil
}

func (m *memoryWatermarks) Advance(_ context.Context, userID, channelID string, ordinal int64) (*model.Watermark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advanceErr != nil {
		return nil, m.advanceErr
	}
	key := userID + "/" + channelID
	if ordinal > m.marks[key] {
		m.marks[key] = ordinal
	}
	return &model.Watermark{UserID: userID, ChannelID: channelID, LastSeenOrdinal: m.marks[key]}, nil
}

func (m *memoryWatermarks) value(userID, channelID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.marks[userID+"/"+channelID]
	return o, ok
}

type memoryCache struct {
	entries map[string]string
}

func (m *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *memoryCache) Set(_ context.Context, key, text string) error {
	m.entries[key] = text
	return nil
}

type mockDeduper struct {
	seen map[string]bool
}

func (m *mockDeduper) FirstSeen(_ context.Context, eventID string) bool {
	if m.seen[eventID] {
		return false
	}
	m.seen[eventID] = true
	return true
}

func (m *mockDeduper) Forget(_ context.Context, eventID string) error {
	delete(m.seen, eventID)
	return nil
}

type mockProducer struct {
	enqueueErr error
	messages   []queue.EventMessage
}

func (m *mockProducer) Enqueue(_ context.Context, msg queue.EventMessage) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockProducer) Close() error { return nil }
