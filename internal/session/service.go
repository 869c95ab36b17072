package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"therapy-bot/internal/evaluation"
	"therapy-bot/internal/history"
	"therapy-bot/internal/llm"
	"therapy-bot/internal/storage"
)

type Deps struct {
	Guard     Guard
	Generator Generator
	Store     Store
	Sequencer *evaluation.Sequencer
	Labels    history.Labels

	// Optional.
	Logger *zerolog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Service owns every user's session. It is built once at startup and shared
// by all handlers; sessions of different users never block each other.
type Service struct {
	guard  Guard
	gen    Generator
	store  Store
	seq    *evaluation.Sequencer
	labels history.Labels
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string

	mu       sync.Mutex
	sessions map[int64]*userSession
}

type userSession struct {
	mu    sync.Mutex
	state State
	live  *liveRecord
}

// liveRecord is the record under construction. It is replaced, never
// reused, when a session restarts or completes.
type liveRecord struct {
	startedAt time.Time
	conv      *history.Context
	eval      evaluation.Record
}

func NewService(d Deps) *Service {
	s := &Service{
		guard:    d.Guard,
		gen:      d.Generator,
		store:    d.Store,
		seq:      d.Sequencer,
		labels:   d.Labels,
		logger:   log.Logger,
		now:      d.Now,
		newID:    d.NewID,
		sessions: make(map[int64]*userSession),
	}
	if d.Logger != nil {
		s.logger = *d.Logger
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.seq == nil {
		s.seq = evaluation.NewSequencer(nil, 5)
	}
	return s
}

// Handle is the single entry point for user actions. Unauthorized users are
// dropped here, before any state is touched. The returned error is non-nil
// only when a completed session could not be persisted; replies are still
// meant to be delivered in that case.
func (s *Service) Handle(ctx context.Context, userID int64, in Input) ([]Reply, error) {
	if s.guard != nil {
		if err := s.guard.Authorize(userID); err != nil {
			s.logger.Info().Err(err).Int64("user_id", userID).Str("input", in.String()).Msg("unauthorized access denied")
			return nil, nil
		}
	}

	us := s.session(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	switch {
	case in.is(CmdStart):
		return s.start(userID, us), nil
	case in.is(CmdStop):
		return s.stop(userID, us), nil
	}

	switch us.state {
	case StateIdle:
		if in.is(CmdBegin) {
			return s.begin(userID, us), nil
		}
	case StateChat:
		switch {
		case in.is(CmdEnd):
			return s.end(userID, us)
		case in.Kind == InputText:
			return s.chat(ctx, userID, us, in.Text), nil
		case in.Kind == InputVoice:
			return s.voice(ctx, userID, us, in.Audio), nil
		}
	case StateEvaluate:
		if in.Kind == InputText {
			return s.score(userID, us, in.Text)
		}
	}

	s.logger.Debug().Int64("user_id", userID).Stringer("state", us.state).Str("input", in.String()).Msg("input ignored")
	return nil, nil
}

// State reports the user's current state; unknown users are Stopped.
func (s *Service) State(userID int64) State {
	return s.Snapshot(userID).State
}

func (s *Service) Snapshot(userID int64) Snapshot {
	s.mu.Lock()
	us, ok := s.sessions[userID]
	s.mu.Unlock()
	if !ok {
		return Snapshot{State: StateStopped}
	}

	us.mu.Lock()
	defer us.mu.Unlock()
	snap := Snapshot{State: us.state}
	if us.live != nil {
		snap.StartedAt = us.live.startedAt
		snap.Conversation = us.live.conv.Utterances()
		snap.Evaluation = us.live.eval.Clone()
		if us.state == StateEvaluate {
			if a, ok := s.seq.Next(us.live.eval); ok {
				snap.Prompt = &a
			}
		}
	}
	return snap
}

func (s *Service) session(userID int64) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	us, ok := s.sessions[userID]
	if !ok {
		us = &userSession{state: StateStopped}
		s.sessions[userID] = us
	}
	return us
}

func (s *Service) newLive() *liveRecord {
	return &liveRecord{startedAt: s.now(), conv: history.NewContext(s.labels)}
}

func (s *Service) start(userID int64, us *userSession) []Reply {
	if us.live != nil {
		s.logger.Info().Int64("user_id", userID).Stringer("from", us.state).Msg("session reset without saving")
	}
	us.state = StateIdle
	us.live = s.newLive()
	s.logger.Info().Int64("user_id", userID).Msg("session started")
	return []Reply{{Text: msgWelcome, Keyboard: KeyboardRemove}}
}

func (s *Service) stop(userID int64, us *userSession) []Reply {
	s.logger.Info().Int64("user_id", userID).Stringer("from", us.state).Msg("session stopped")
	us.state = StateStopped
	us.live = nil
	return []Reply{{Text: msgGoodbye, Keyboard: KeyboardRemove}}
}

func (s *Service) begin(userID int64, us *userSession) []Reply {
	us.state = StateChat
	us.live = s.newLive()
	s.logger.Info().Int64("user_id", userID).Msg("conversation started")
	return []Reply{{Text: msgChatStarted}}
}

func (s *Service) end(userID int64, us *userSession) ([]Reply, error) {
	out := []Reply{{Text: msgChatClosed}}
	next, ok := s.seq.Next(us.live.eval)
	if !ok {
		// nothing to rate: the record is already complete
		return s.finalize(userID, us, append(out, Reply{Text: msgNextSteps}))
	}
	us.state = StateEvaluate
	s.logger.Info().Int64("user_id", userID).Int("turns", us.live.conv.Len()).Msg("evaluation started")
	return append(out,
		Reply{Text: msgEvalStarted},
		Reply{Text: s.seq.Prompt(next), Keyboard: KeyboardRating},
	), nil
}

func (s *Service) chat(ctx context.Context, userID int64, us *userSession, text string) []Reply {
	resp, failure := s.respond(ctx, userID, us, text)
	if failure != nil {
		return []Reply{*failure}
	}
	return []Reply{{Text: resp}}
}

func (s *Service) voice(ctx context.Context, userID int64, us *userSession, audio []byte) []Reply {
	text, err := s.gen.Transcribe(ctx, audio, voiceNoteFilename)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty transcript")
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("transcription failed")
		if errors.Is(err, llm.ErrCapabilityDisabled) {
			return []Reply{{Text: msgASRDisabled}}
		}
		return []Reply{{Text: msgASRFailed}}
	}
	s.logger.Debug().Int64("user_id", userID).Str("transcript", clip(text)).Msg("transcribed voice message")

	resp, failure := s.respond(ctx, userID, us, text)
	if failure != nil {
		return []Reply{*failure}
	}

	var out []Reply
	turns := dialogue(us.live.conv)
	speech, err := s.gen.Synthesize(ctx, resp, turns[:len(turns)-1])
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("speech synthesis failed, replying with text only")
	} else {
		out = append(out, Reply{Voice: speech})
	}
	return append(out, Reply{Text: resp})
}

// respond appends the user's utterance and asks for the bot's. On failure
// the user's utterance stays in the context and a notice is returned.
func (s *Service) respond(ctx context.Context, userID int64, us *userSession, text string) (string, *Reply) {
	us.live.conv.AppendOther(text)
	resp, err := s.gen.Respond(ctx, dialogue(us.live.conv))
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Msg("response generation failed")
		switch {
		case errors.Is(err, llm.ErrCapabilityDisabled):
			return "", &Reply{Text: msgChatDisabled}
		case errors.Is(err, llm.ErrGenerationTimeout):
			return "", &Reply{Text: msgChatTimeout}
		default:
			return "", &Reply{Text: msgChatFailed}
		}
	}
	us.live.conv.AppendSelf(resp.Content)
	s.logger.Debug().
		Int64("user_id", userID).
		Str("model", resp.Model).
		Int("prompt_tokens", resp.PromptTokens).
		Int("completion_tokens", resp.CompletionTokens).
		Str("response", clip(resp.Content)).
		Msg("generated response")
	return resp.Content, nil
}

func (s *Service) score(userID int64, us *userSession, text string) ([]Reply, error) {
	current, _ := s.seq.Next(us.live.eval)
	v, err := s.seq.ParseScore(text)
	if err == nil {
		us.live.eval, err = s.seq.Add(us.live.eval, v)
	}
	if err != nil {
		s.logger.Debug().Err(err).Int64("user_id", userID).Str("aspect", current.ID).Msg("score rejected")
		return []Reply{
			{Text: msgInvalidScore(s.seq.Scale())},
			{Text: s.seq.Prompt(current), Keyboard: KeyboardRating},
		}, nil
	}

	if next, ok := s.seq.Next(us.live.eval); ok {
		return []Reply{{Text: s.seq.Prompt(next), Keyboard: KeyboardRating}}, nil
	}
	return s.finalize(userID, us, []Reply{
		{Text: msgEvalClosed, Keyboard: KeyboardRemove},
		{Text: msgNextSteps},
	})
}

// finalize freezes the live record, persists it and returns to Idle. The
// live state is cleared whether or not the store accepted the record.
func (s *Service) finalize(userID int64, us *userSession, out []Reply) ([]Reply, error) {
	rec := storage.Record{
		ID:           s.newID(),
		UserID:       userID,
		StartedAt:    us.live.startedAt,
		FinishedAt:   s.now(),
		Conversation: us.live.conv.Utterances(),
		Evaluation:   us.live.eval.Clone(),
	}
	us.state = StateIdle
	us.live = nil

	if err := s.store.Append(rec); err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Str("record_id", rec.ID).Msg("session backup failed")
		return append(out, Reply{Text: msgNotSaved}), errors.Wrapf(err, "persist session %s of user %d", rec.ID, userID)
	}
	s.logger.Info().
		Int64("user_id", userID).
		Str("record_id", rec.ID).
		Int("turns", len(rec.Conversation)).
		Int("scores", rec.Evaluation.Len()).
		Msg("session backed up")
	return out, nil
}
