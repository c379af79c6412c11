// Package slackapi is the Slack transport: reading channel history, posting
// replies and turning Slack deliveries into inbound events.
package slackapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/web"
)

const (
	historyPageSize = 200
	// Slack rejects section text longer than 3000 characters.
	maxSectionText = 3000
	maxFileBytes   = 5 << 20
)

var errFileCapped = errors.New("file exceeds read limit")

var mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// skippedSubtypes are membership notices that carry no conversation.
var skippedSubtypes = map[string]bool{
	"channel_join":  true,
	"channel_leave": true,
	"group_join":    true,
	"group_leave":   true,
}

type Config struct {
	BotToken string
	AppToken string
	// APIURL overrides https://slack.com/api/.
	APIURL string
	Debug  bool
}

// Channel is a conversation the bot can see.
type Channel struct {
	ID   string
	Name string
}

type Client struct {
	api *slack.Client

	mu        sync.Mutex
	users     map[string]string
	channels  map[string]string
	botUserID string
}

func New(cfg Config) *Client {
	opts := []slack.Option{slack.OptionDebug(cfg.Debug)}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return &Client{
		api:      slack.New(cfg.BotToken, opts...),
		users:    make(map[string]string),
		channels: make(map[string]string),
	}
}

// API exposes the underlying client for Socket Mode.
func (c *Client) API() *slack.Client {
	return c.api
}

// BotUserID returns the bot's own user id, resolving it once via auth.test.
func (c *Client) BotUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.botUserID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", mapError("slack.auth_test", err)
	}
	c.mu.Lock()
	c.botUserID = resp.UserID
	c.mu.Unlock()
	return resp.UserID, nil
}

// History returns up to limit top-level messages newer than oldest (an
// ordinal, 0 for no bound), oldest first. Thread replies follow their parent
// directly and do not count against limit.
func (c *Client) History(ctx context.Context, channelID string, oldest int64, limit int) ([]model.Message, error) {
	params := &slack.GetConversationHistoryParameters{ChannelID: channelID}
	if oldest > 0 {
		params.Oldest = model.FormatOrdinal(oldest)
	}

	var raw []slack.Message
	for len(raw) < limit {
		params.Limit = min(historyPageSize, limit-len(raw))
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, mapError("slack.history", err)
		}
		for _, m := range resp.Messages {
			if skippedSubtypes[m.SubType] {
				continue
			}
			raw = append(raw, m)
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}
	if len(raw) > limit {
		raw = raw[:limit]
	}

	// Slack pages newest first.
	sort.SliceStable(raw, func(i, j int) bool {
		return ordinal(raw[i].Timestamp) < ordinal(raw[j].Timestamp)
	})

	out := make([]model.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, c.convert(ctx, m))
		if m.ReplyCount == 0 || (m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp) {
			continue
		}
		replies, err := c.Replies(ctx, channelID, m.Timestamp)
		if err != nil {
			slog.WarnContext(ctx, "failed to fetch thread replies, continuing without them",
				"thread_ts", m.Timestamp,
				"error", err)
			continue
		}
		out = append(out, replies...)
	}

	slog.DebugContext(ctx, "fetched channel history",
		"channel_id", channelID,
		"messages", len(out))
	return out, nil
}

// Replies returns the replies of a thread without the parent, oldest first.
func (c *Client) Replies(ctx context.Context, channelID, threadTS string) ([]model.Message, error) {
	return c.conversation(ctx, channelID, threadTS, false)
}

// Thread returns a thread's parent followed by its replies. For a message
// that has no thread it returns just that message.
func (c *Client) Thread(ctx context.Context, channelID, threadTS string) ([]model.Message, error) {
	return c.conversation(ctx, channelID, threadTS, true)
}

func (c *Client) conversation(ctx context.Context, channelID, threadTS string, withParent bool) ([]model.Message, error) {
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     historyPageSize,
	}
	var out []model.Message
	for {
		msgs, hasMore, cursor, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, mapError("slack.replies", err)
		}
		for _, m := range msgs {
			if (m.Timestamp == threadTS && !withParent) || skippedSubtypes[m.SubType] {
				continue
			}
			out = append(out, c.convert(ctx, m))
		}
		if !hasMore || cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

// ReadFile downloads a shared file with the bot token and returns its text.
// Files over 5MB are read up to that size.
func (c *Client) ReadFile(ctx context.Context, f model.File) (string, error) {
	if f.URL == "" {
		return "", fmt.Errorf("%s has no download link", f.Name)
	}
	buf := &cappedBuffer{max: maxFileBytes}
	if err := c.api.GetFileContext(ctx, f.URL, buf); err != nil && !errors.Is(err, errFileCapped) {
		return "", mapError("slack.file_download", err)
	}
	text, err := web.Text(fileMediaType(f), buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return text, nil
}

// UserName returns a display name for userID, falling back to the id.
func (c *Client) UserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.users[userID]
	c.mu.Unlock()
	if ok {
		return name
	}

	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		slog.DebugContext(ctx, "user lookup failed", "user_id", userID, "error", err)
		return userID
	}
	name = firstNonEmpty(user.RealName, user.Profile.DisplayName, user.Name, userID)

	c.mu.Lock()
	c.users[userID] = name
	c.mu.Unlock()
	return name
}

// ResolveMentions rewrites <@U…> mentions as @name.
func (c *Client) ResolveMentions(ctx context.Context, text string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionPattern.FindStringSubmatch(m)
		return "@" + c.UserName(ctx, sub[1])
	})
}

// ChannelName returns the name of a channel id.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	c.mu.Lock()
	name, ok := c.channels[channelID]
	c.mu.Unlock()
	if ok {
		return name, nil
	}

	ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", mapError("slack.channel_info", err)
	}
	c.mu.Lock()
	c.channels[channelID] = ch.Name
	c.mu.Unlock()
	return ch.Name, nil
}

// ListChannels returns the non-archived channels whose name starts with prefix.
func (c *Client) ListChannels(ctx context.Context, prefix string) ([]Channel, error) {
	params := &slack.GetConversationsParameters{
		Types:           []string{"public_channel", "private_channel"},
		Limit:           historyPageSize,
		ExcludeArchived: true,
	}
	var out []Channel
	for {
		chans, cursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return nil, mapError("slack.list_channels", err)
		}
		c.mu.Lock()
		for _, ch := range chans {
			c.channels[ch.ID] = ch.Name
			if strings.HasPrefix(ch.Name, prefix) {
				out = append(out, Channel{ID: ch.ID, Name: ch.Name})
			}
		}
		c.mu.Unlock()
		if cursor == "" {
			return out, nil
		}
		params.Cursor = cursor
	}
}

// FindChannel looks a channel up by exact name.
func (c *Client) FindChannel(ctx context.Context, name string) (Channel, error) {
	name = strings.TrimPrefix(name, "#")
	chans, err := c.ListChannels(ctx, name)
	if err != nil {
		return Channel{}, err
	}
	for _, ch := range chans {
		if ch.Name == name {
			return ch, nil
		}
	}
	return Channel{}, domain.NotFound("a channel named #" + name)
}

// Post sends text to a channel, in a thread when threadTS is set.
func (c *Client) Post(ctx context.Context, channelID, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false), slack.MsgOptionBlocks(Blocks(text)...)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return mapError("slack.post", err)
	}
	return nil
}

// PostEphemeral sends text only userID can see.
func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) error {
	_, err := c.api.PostEphemeralContext(ctx, channelID, userID,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(Blocks(text)...))
	if err != nil {
		return mapError("slack.post_ephemeral", err)
	}
	return nil
}

// Deliver sends a response to where the invocation came from: the slash
// command's response URL when there is one, otherwise the channel or thread.
func (c *Client) Deliver(ctx context.Context, inv model.InvocationContext, resp model.Response) error {
	if resp.Text == "" {
		return nil
	}
	if inv.ResponseURL != "" {
		kind := slack.ResponseTypeInChannel
		if resp.Ephemeral {
			kind = slack.ResponseTypeEphemeral
		}
		_, _, err := c.api.PostMessageContext(ctx, inv.ChannelID,
			slack.MsgOptionText(resp.Text, false),
			slack.MsgOptionBlocks(Blocks(resp.Text)...),
			slack.MsgOptionResponseURL(inv.ResponseURL, kind))
		if err == nil {
			return nil
		}
		// Response URLs expire after 30 minutes.
		slog.WarnContext(ctx, "response url failed, posting directly", "error", err)
	}
	if resp.Ephemeral && inv.UserID != "" {
		return c.PostEphemeral(ctx, inv.ChannelID, inv.UserID, resp.Text)
	}
	return c.Post(ctx, inv.ChannelID, inv.ThreadTS, resp.Text)
}

func (c *Client) convert(ctx context.Context, m slack.Message) model.Message {
	msg := model.Message{
		AuthorID:   m.User,
		AuthorName: c.UserName(ctx, m.User),
		TS:         m.Timestamp,
		Text:       c.ResolveMentions(ctx, m.Text),
		ThreadTS:   m.ThreadTimestamp,
	}
	if msg.AuthorID == "" && m.BotID != "" {
		msg.AuthorID = m.BotID
		msg.AuthorName = firstNonEmpty(m.Username, m.BotID)
	}
	for _, r := range m.Reactions {
		msg.Reactions = append(msg.Reactions, fmt.Sprintf(":%s: x%d", r.Name, r.Count))
	}
	for _, f := range m.Files {
		msg.Attachments = append(msg.Attachments, firstNonEmpty(f.Title, f.Name))
		msg.Files = append(msg.Files, model.File{
			ID:       f.ID,
			Name:     f.Name,
			Title:    f.Title,
			Mimetype: f.Mimetype,
			Filetype: f.Filetype,
			URL:      firstNonEmpty(f.URLPrivateDownload, f.URLPrivate),
			Size:     f.Size,
		})
	}
	return msg
}

// Blocks wraps mrkdwn text in section blocks, splitting long text on
// paragraph boundaries.
func Blocks(text string) []slack.Block {
	var (
		blocks []slack.Block
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, cur.String(), false, false), nil, nil))
		cur.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		for len(para) > maxSectionText {
			flush()
			cut := strings.LastIndex(para[:maxSectionText], "\n")
			if cut <= 0 {
				cut = maxSectionText
				for cut > 0 && !utf8.RuneStart(para[cut]) {
					cut--
				}
			}
			cur.WriteString(para[:cut])
			flush()
			para = strings.TrimLeft(para[cut:], "\n")
		}
		if cur.Len() > 0 && cur.Len()+2+len(para) > maxSectionText {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return blocks
}

func mapError(op string, err error) error {
	var (
		rateLimited *slack.RateLimitedError
		slackErr    slack.SlackErrorResponse
		statusErr   slack.StatusCodeError
		netErr      net.Error
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &rateLimited):
		return domain.Upstream(op, &domain.RateLimited{RetryAfter: rateLimited.RetryAfter, Err: err})
	case errors.As(err, &slackErr):
		switch slackErr.Err {
		case "channel_not_found":
			return domain.NotFound("that channel")
		case "not_in_channel":
			return &domain.NotFoundError{What: "access to this channel", Note: "invite me with /invite @pillar"}
		case "user_not_found":
			return domain.NotFound("that user")
		}
		return fmt.Errorf("%s: %w", op, err)
	case errors.As(err, &statusErr):
		return domain.Upstream(op, err)
	case errors.As(err, &netErr):
		return domain.Upstream(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// fileMediaType prefers Slack's mimetype and falls back to the file type.
func fileMediaType(f model.File) string {
	if f.Mimetype != "" {
		return f.Mimetype
	}
	switch strings.ToLower(f.Filetype) {
	case "html":
		return "text/html"
	case "json":
		return "application/json"
	case "text", "txt", "markdown", "md", "csv", "tsv", "xml", "yaml":
		return "text/plain"
	}
	return ""
}

// cappedBuffer stops a download at max bytes. It must not expose
// ReadFrom, so io.Copy goes through Write.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if len(p) > room {
		n, _ := b.buf.Write(p[:room])
		return n, errFileCapped
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

func ordinal(ts string) int64 {
	o, _ := model.ParseOrdinal(ts)
	return o
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
