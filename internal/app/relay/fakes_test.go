package relay

import (
	"context"
	"fmt"
	"sync"

	"smsrelay/internal/domain/conversation"
)

type chatCall struct {
	ChannelID string
	ThreadID  string
	Post      ChatPost
}

type ephemeralCall struct {
	ChannelID string
	UserID    string
	Text      string
}

// recordingChat records every chat side effect for assertions.
type recordingChat struct {
	mu         sync.Mutex
	posts      []chatCall
	ephemerals []ephemeralCall
	homes      []HomeView
	seq        int

	dmErr   error
	postErr error
	// beforeHeader runs before a thread header is posted.
	beforeHeader func()
}

func (c *recordingChat) OpenDirectMessage(_ context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dmErr != nil {
		return "", c.dmErr
	}
	return "D-" + userID, nil
}

func (c *recordingChat) PostMessage(_ context.Context, channelID, threadID string, post ChatPost) (string, error) {
	c.mu.Lock()
	hook := c.beforeHeader
	c.mu.Unlock()
	if post.Kind == PostHeader && hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.postErr != nil {
		return "", c.postErr
	}
	c.seq++
	c.posts = append(c.posts, chatCall{ChannelID: channelID, ThreadID: threadID, Post: post})
	return fmt.Sprintf("1700000000.%06d", c.seq), nil
}

func (c *recordingChat) PublishHomeView(_ context.Context, userID string, view HomeView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.homes = append(c.homes, view)
	return nil
}

func (c *recordingChat) PostEphemeral(_ context.Context, channelID, userID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ephemerals = append(c.ephemerals, ephemeralCall{ChannelID: channelID, UserID: userID, Text: text})
	return nil
}

func (c *recordingChat) postsOfKind(kind PostKind) []chatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chatCall
	for _, p := range c.posts {
		if p.Post.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

func (c *recordingChat) postsIn(handle conversation.ThreadHandle) []chatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chatCall
	for _, p := range c.posts {
		if p.ChannelID == handle.ChannelID && p.ThreadID == handle.ThreadID {
			out = append(out, p)
		}
	}
	return out
}

func (c *recordingChat) lastEphemeral() ephemeralCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ephemerals) == 0 {
		return ephemeralCall{}
	}
	return c.ephemerals[len(c.ephemerals)-1]
}

type carrierCall struct {
	To, Body, From string
}

type recordingCarrier struct {
	mu    sync.Mutex
	calls []carrierCall
	err   error
}

func (c *recordingCarrier) Send(_ context.Context, to, body, from string) (SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, carrierCall{To: to, Body: body, From: from})
	if c.err != nil {
		return SendResult{}, c.err
	}
	return SendResult{MessageID: fmt.Sprintf("SMout%d", len(c.calls)), Status: "queued"}, nil
}

func (c *recordingCarrier) sent() []carrierCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]carrierCall(nil), c.calls...)
}

type recordingCases struct {
	mu    sync.Mutex
	calls int
	ref   string
	err   error
	seen  []int
}

func (c *recordingCases) LogConversation(_ context.Context, _ conversation.Conversation, messages []conversation.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.seen = append(c.seen, len(messages))
	if c.err != nil {
		return "", c.err
	}
	return c.ref, nil
}
