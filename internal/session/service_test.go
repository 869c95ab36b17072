package session

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"therapy-bot/internal/auth"
	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/history"
	"therapy-bot/internal/llm"
	"therapy-bot/internal/storage"
)

var testAspects = []evaluation.Aspect{
	{ID: "empathy", Description: "Did the bot understand how you felt?"},
	{ID: "clarity", Description: "Were the answers easy to follow?"},
}

var testLabels = history.Labels{Self: "AI", Other: "User"}

type fakeGenerator struct {
	mu sync.Mutex

	respondErr    error
	transcribeErr error
	synthErr      error
	transcript    string

	respondCalls    int
	transcribeCalls int
	synthCalls      int
	synthDialogue   []llm.Message
}

func (f *fakeGenerator) Respond(_ context.Context, dialogue []llm.Message) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respondCalls++
	if f.respondErr != nil {
		return llm.Response{}, f.respondErr
	}
	last := dialogue[len(dialogue)-1]
	return llm.Response{Content: "you said: " + last.Content, Model: "fake"}, nil
}

func (f *fakeGenerator) Transcribe(context.Context, []byte, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribeCalls++
	if f.transcribeErr != nil {
		return "", f.transcribeErr
	}
	return f.transcript, nil
}

func (f *fakeGenerator) Synthesize(_ context.Context, text string, dialogue []llm.Message) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthCalls++
	f.synthDialogue = dialogue
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return []byte("ogg:" + text), nil
}

type memStore struct {
	mu      sync.Mutex
	records []storage.Record
	err     error
}

func (m *memStore) Append(r storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type denyList map[int64]bool

func (d denyList) Authorize(id int64) error {
	if d[id] {
		return errors.Wrapf(auth.ErrUnauthorized, "user %d", id)
	}
	return nil
}

type harness struct {
	svc   *Service
	gen   *fakeGenerator
	store *memStore
	logs  *bytes.Buffer
}

func newHarness(t *testing.T, aspects []evaluation.Aspect) *harness {
	t.Helper()
	h := &harness{gen: &fakeGenerator{transcript: "I feel anxious"}, store: &memStore{}, logs: &bytes.Buffer{}}
	logger := zerolog.New(h.logs)
	clock := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	ids := 0
	h.svc = NewService(Deps{
		Guard:     denyList{666: true},
		Generator: h.gen,
		Store:     h.store,
		Sequencer: evaluation.NewSequencer(aspects, 5),
		Labels:    testLabels,
		Logger:    &logger,
		Now: func() time.Time {
			clock = clock.Add(time.Minute)
			return clock
		},
		NewID: func() string {
			ids++
			return fmt.Sprintf("rec-%d", ids)
		},
	})
	return h
}

func (h *harness) do(t *testing.T, user int64, inputs ...Input) []Reply {
	t.Helper()
	var last []Reply
	for _, in := range inputs {
		out, err := h.svc.Handle(context.Background(), user, in)
		require.NoError(t, err, "input %s", in)
		last = out
	}
	return last
}

func texts(rs []Reply) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Text)
	}
	return out
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t, testAspects)
	const user = 42

	h.do(t, user, Command(CmdStart), Command(CmdBegin))
	require.Equal(t, StateChat, h.svc.State(user))

	out := h.do(t, user, Text("hello"))
	require.Equal(t, []string{"you said: hello"}, texts(out))

	out = h.do(t, user, Command(CmdEnd))
	require.Equal(t, StateEvaluate, h.svc.State(user))
	require.Len(t, out, 3)
	require.Equal(t, msgChatClosed, out[0].Text)
	require.Equal(t, msgEvalStarted, out[1].Text)
	require.Contains(t, out[2].Text, "how would you rate the empathy?")
	require.Equal(t, KeyboardRating, out[2].Keyboard)

	out = h.do(t, user, Text("4"))
	require.Len(t, out, 1)
	require.Contains(t, out[0].Text, "how would you rate the clarity?")

	out = h.do(t, user, Text("5"))
	require.Equal(t, StateIdle, h.svc.State(user))
	require.Equal(t, []string{msgEvalClosed, msgNextSteps}, texts(out))
	require.Equal(t, KeyboardRemove, out[0].Keyboard)

	require.Len(t, h.store.records, 1)
	rec := h.store.records[0]
	require.Equal(t, int64(user), rec.UserID)
	require.Equal(t, "rec-1", rec.ID)
	require.Equal(t, evaluation.Record{{Aspect: "empathy", Value: 4}, {Aspect: "clarity", Value: 5}}, rec.Evaluation)
	require.Equal(t, []history.Utterance{
		{Speaker: "User", Text: "hello"},
		{Speaker: "AI", Text: "you said: hello"},
	}, rec.Conversation)
	require.True(t, rec.FinishedAt.After(rec.StartedAt))

	// live state is gone
	snap := h.svc.Snapshot(user)
	require.Empty(t, snap.Conversation)
	require.Empty(t, snap.Evaluation)
}

func TestStopFromAnyStateNeverPersists(t *testing.T) {
	prefixes := map[string][]Input{
		"stopped":  nil,
		"idle":     {Command(CmdStart)},
		"chat":     {Command(CmdStart), Command(CmdBegin), Text("hi")},
		"evaluate": {Command(CmdStart), Command(CmdBegin), Text("hi"), Command(CmdEnd), Text("3")},
	}
	for name, prefix := range prefixes {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testAspects)
			h.do(t, 1, prefix...)
			out := h.do(t, 1, Command(CmdStop))
			require.Equal(t, []string{msgGoodbye}, texts(out))
			require.Equal(t, StateStopped, h.svc.State(1))
			require.Zero(t, h.store.len())

			// stopped sessions ignore everything but /start
			require.Empty(t, h.do(t, 1, Command(CmdBegin)))
			require.Empty(t, h.do(t, 1, Text("4")))
			h.do(t, 1, Command(CmdStart))
			require.Equal(t, StateIdle, h.svc.State(1))
		})
	}
}

func TestMalformedScoreKeepsPrompt(t *testing.T) {
	h := newHarness(t, testAspects)
	h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hi"), Command(CmdEnd), Text("2"))
	before := h.svc.Snapshot(1)
	require.Equal(t, "clarity", before.Prompt.ID)

	for _, bad := range []string{"great", "0", "6", "3.5", ""} {
		out := h.do(t, 1, Text(bad))
		require.Len(t, out, 2, bad)
		require.Equal(t, msgInvalidScore(5), out[0].Text)
		require.Contains(t, out[1].Text, "rate the clarity?")
		require.Equal(t, KeyboardRating, out[1].Keyboard)

		after := h.svc.Snapshot(1)
		require.Equal(t, StateEvaluate, after.State)
		require.Equal(t, before.Evaluation, after.Evaluation)
		require.Equal(t, before.Prompt, after.Prompt)
	}
	require.Zero(t, h.store.len())
}

func TestRespondDisabledKeepsUserUtterance(t *testing.T) {
	h := newHarness(t, testAspects)
	h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hello"))
	require.Len(t, h.svc.Snapshot(1).Conversation, 2)

	h.gen.respondErr = errors.Wrap(llm.ErrCapabilityDisabled, "no chat backend")
	out := h.do(t, 1, Text("are you there?"))
	require.Equal(t, []string{msgChatDisabled}, texts(out))

	snap := h.svc.Snapshot(1)
	require.Equal(t, StateChat, snap.State)
	require.Len(t, snap.Conversation, 3)
	require.Equal(t, history.Utterance{Speaker: "User", Text: "are you there?"}, snap.Conversation[2])
}

func TestRespondFailuresAreLocal(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"timeout": {errors.Wrap(llm.ErrGenerationTimeout, "slow"), msgChatTimeout},
		"backend": {errors.New("502 bad gateway"), msgChatFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testAspects)
			h.gen.respondErr = tc.err
			h.do(t, 1, Command(CmdStart), Command(CmdBegin))
			out, err := h.svc.Handle(context.Background(), 1, Text("hello"))
			require.NoError(t, err)
			require.Equal(t, []string{tc.want}, texts(out))
			require.Equal(t, StateChat, h.svc.State(1))
		})
	}
}

func TestVoiceTurn(t *testing.T) {
	h := newHarness(t, testAspects)
	h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hello"))

	out := h.do(t, 1, Voice([]byte("ogg-bytes")))
	require.Len(t, out, 2)
	require.Equal(t, []byte("ogg:you said: I feel anxious"), out[0].Voice)
	require.Equal(t, "you said: I feel anxious", out[1].Text)

	snap := h.svc.Snapshot(1)
	require.Len(t, snap.Conversation, 4)
	require.Equal(t, "I feel anxious", snap.Conversation[2].Text)

	// synthesis sees the dialogue up to, not including, the response
	require.Len(t, h.gen.synthDialogue, 3)
	require.Equal(t, "I feel anxious", h.gen.synthDialogue[2].Content)
}

func TestVoiceSynthesisFailureStillReplies(t *testing.T) {
	h := newHarness(t, testAspects)
	h.gen.synthErr = errors.Wrap(llm.ErrCapabilityDisabled, "no tts")
	h.do(t, 1, Command(CmdStart), Command(CmdBegin))

	out := h.do(t, 1, Voice([]byte("ogg")))
	require.Len(t, out, 1)
	require.Nil(t, out[0].Voice)
	require.Equal(t, "you said: I feel anxious", out[0].Text)
	require.Len(t, h.svc.Snapshot(1).Conversation, 2)
}

func TestVoiceRespondFailureSkipsSynthesis(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"disabled": {errors.Wrap(llm.ErrCapabilityDisabled, "no chat backend"), msgChatDisabled},
		"timeout":  {errors.Wrap(llm.ErrGenerationTimeout, "slow"), msgChatTimeout},
		"failed":   {errors.New("502 bad gateway"), msgChatFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testAspects)
			h.gen.respondErr = tc.err
			h.do(t, 1, Command(CmdStart), Command(CmdBegin))

			out := h.do(t, 1, Voice([]byte("ogg")))
			require.Equal(t, []string{tc.want}, texts(out))
			require.Nil(t, out[0].Voice)
			require.Equal(t, 1, h.gen.transcribeCalls)
			require.Equal(t, 1, h.gen.respondCalls)
			require.Zero(t, h.gen.synthCalls)
			require.Equal(t, []history.Utterance{{Speaker: "User", Text: "I feel anxious"}}, h.svc.Snapshot(1).Conversation)
		})
	}
}

type blankClient struct{}

func (blankClient) Generate(context.Context, []llm.Message) (llm.Response, error) {
	return llm.Response{Content: "", Model: "fake"}, nil
}

func TestEmptyModelReplyIsAFailure(t *testing.T) {
	store := &memStore{}
	svc := NewService(Deps{
		Generator: llm.NewGateway(llm.WithChat(blankClient{})),
		Store:     store,
		Sequencer: evaluation.NewSequencer(testAspects, 5),
		Labels:    testLabels,
	})
	ctx := context.Background()
	for _, in := range []Input{Command(CmdStart), Command(CmdBegin)} {
		_, err := svc.Handle(ctx, 1, in)
		require.NoError(t, err)
	}

	out, err := svc.Handle(ctx, 1, Text("hello"))
	require.NoError(t, err)
	require.Equal(t, []string{msgChatFailed}, texts(out))
	require.Equal(t, []history.Utterance{{Speaker: "User", Text: "hello"}}, svc.Snapshot(1).Conversation)
}

func TestVoiceTranscriptionFailureSkipsRespond(t *testing.T) {
	cases := map[string]struct {
		err        error
		transcript string
		want       string
	}{
		"disabled": {err: errors.Wrap(llm.ErrCapabilityDisabled, "no asr"), want: msgASRDisabled},
		"failed":   {err: errors.New("whisper down"), want: msgASRFailed},
		"silence":  {transcript: "  ", want: msgASRFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, testAspects)
			h.gen.transcribeErr = tc.err
			h.gen.transcript = tc.transcript
			h.do(t, 1, Command(CmdStart), Command(CmdBegin))

			out := h.do(t, 1, Voice([]byte("ogg")))
			require.Equal(t, []string{tc.want}, texts(out))
			require.Zero(t, h.gen.respondCalls)
			require.Empty(t, h.svc.Snapshot(1).Conversation)
			require.Equal(t, StateChat, h.svc.State(1))
		})
	}
}

func TestEndWithoutAspectsPersistsAndIdles(t *testing.T) {
	h := newHarness(t, nil)
	out := h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hello"), Command(CmdEnd))
	require.Equal(t, []string{msgChatClosed, msgNextSteps}, texts(out))
	require.Equal(t, StateIdle, h.svc.State(1))
	require.Len(t, h.store.records, 1)
	require.Empty(t, h.store.records[0].Evaluation)
	require.Len(t, h.store.records[0].Conversation, 2)
}

func TestUnauthorizedIsDroppedAndLogged(t *testing.T) {
	h := newHarness(t, testAspects)
	for _, in := range []Input{Command(CmdStart), Command(CmdBegin), Text("hello"), Voice([]byte("x"))} {
		out, err := h.svc.Handle(context.Background(), 666, in)
		require.NoError(t, err)
		require.Nil(t, out)
	}
	require.Equal(t, StateStopped, h.svc.State(666))
	require.Zero(t, h.gen.respondCalls)
	require.Zero(t, h.gen.transcribeCalls)
	require.Contains(t, h.logs.String(), "unauthorized access denied")
	require.Contains(t, h.logs.String(), `"user_id":666`)
	require.Contains(t, h.logs.String(), `"error":"user 666: unauthorized"`)
}

func TestStoreFailureSurfaces(t *testing.T) {
	h := newHarness(t, testAspects[:1])
	h.store.err = errors.Wrap(storage.ErrStoreUnavailable, "disk full")
	h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hello"), Command(CmdEnd))

	out, err := h.svc.Handle(context.Background(), 1, Text("5"))
	require.Error(t, err)
	require.True(t, errors.Is(err, storage.ErrStoreUnavailable))
	require.Equal(t, msgNotSaved, out[len(out)-1].Text)
	require.Equal(t, StateIdle, h.svc.State(1))
}

func TestRestartDiscardsLiveRecord(t *testing.T) {
	h := newHarness(t, testAspects)
	h.do(t, 1, Command(CmdStart), Command(CmdBegin), Text("hello"))
	first := h.svc.Snapshot(1).StartedAt

	// /begin is not a Chat transition
	require.Empty(t, h.do(t, 1, Command(CmdBegin)))
	require.Len(t, h.svc.Snapshot(1).Conversation, 2)

	h.do(t, 1, Command(CmdStart))
	snap := h.svc.Snapshot(1)
	require.Equal(t, StateIdle, snap.State)
	require.Empty(t, snap.Conversation)
	require.True(t, snap.StartedAt.After(first))
	require.Zero(t, h.store.len())
}

func TestReplayIsDeterministic(t *testing.T) {
	script := []Input{
		Command(CmdBegin), // ignored: not started
		Command(CmdStart),
		Text("ignored in idle"),
		Command(CmdBegin),
		Text("hello"),
		Voice([]byte("ogg")),
		Command(CmdEnd),
		Text("nope"),
		Text("3"),
		Text("4"),
		Command(CmdBegin),
		Text("again"),
		Command(CmdEnd),
		Text("1"),
		Command(CmdStop),
	}
	wantStates := []State{
		StateStopped, StateIdle, StateIdle, StateChat, StateChat, StateChat, StateEvaluate,
		StateEvaluate, StateEvaluate, StateIdle, StateChat, StateChat, StateEvaluate, StateEvaluate, StateStopped,
	}

	run := func() ([][]Reply, []Snapshot, []storage.Record) {
		h := newHarness(t, testAspects)
		var replies [][]Reply
		var snaps []Snapshot
		for i, in := range script {
			out, err := h.svc.Handle(context.Background(), 7, in)
			require.NoError(t, err)
			snap := h.svc.Snapshot(7)
			require.Equal(t, wantStates[i], snap.State, "step %d (%s)", i, in)
			replies = append(replies, out)
			snaps = append(snaps, snap)
		}
		return replies, snaps, h.store.records
	}

	r1, s1, rec1 := run()
	r2, s2, rec2 := run()
	require.Equal(t, r1, r2)
	require.Equal(t, s1, s2)
	require.Equal(t, rec1, rec2)
	require.Len(t, rec1, 1)
	require.Equal(t, evaluation.Record{{Aspect: "empathy", Value: 3}, {Aspect: "clarity", Value: 4}}, rec1[0].Evaluation)
}

func TestConcurrentUsersWithFileStore(t *testing.T) {
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "conversations.json.sz"))
	require.NoError(t, err)
	require.NoError(t, store.Init())

	svc := NewService(Deps{
		Guard:     denyList{},
		Generator: &fakeGenerator{},
		Store:     store,
		Sequencer: evaluation.NewSequencer(testAspects, 5),
		Labels:    testLabels,
	})

	const users = 24
	var g errgroup.Group
	for u := int64(1); u <= users; u++ {
		user := u
		g.Go(func() error {
			for _, in := range []Input{Command(CmdStart), Command(CmdBegin), Text(fmt.Sprintf("user %d", user)), Command(CmdEnd), Text("2"), Text("5")} {
				if _, err := svc.Handle(context.Background(), user, in); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	records, err := store.Load()
	require.NoError(t, err)
	require.Len(t, records, users)
	seen := make(map[int64]bool)
	for _, r := range records {
		require.False(t, seen[r.UserID])
		seen[r.UserID] = true
		require.Equal(t, fmt.Sprintf("user %d", r.UserID), r.Conversation[0].Text)
		require.True(t, strings.HasPrefix(r.Conversation[1].Text, "you said: "))
		require.Len(t, r.Evaluation, 2)
	}
}
