package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ScopeRejectedMessage = "❌ ERROR : Outside the scope of the task"
	PoolExhaustedMessage = "No more responses available."
)

type ChatOutcome int

const (
	OutcomeScopeRejected ChatOutcome = iota
	OutcomePoolExhausted
	OutcomeMock
	OutcomeExternal
)

type ChatRequest struct {
	Prompt      string
	Group       string
	Name        string
	StudentID   string
	Member      string
	SeenMockIDs []int
}

// ChatResult is one of: a scope rejection or exhausted pool (Text), a mock image (MockID, Image)
// or an external image (Image, Raw).
type ChatResult struct {
	Outcome ChatOutcome
	Text    string
	MockID  int
	Image   Image
	Raw     json.RawMessage
}

type LoadChatRequest struct {
	Name      string
	StudentID string
	Group     string
	Member    string
	Consent   string
}

type LoadChatResult struct {
	Identity *Identity
	Messages []Turn
}

type ChatOptions struct {
	Identities  IdentityStore
	Transcripts TranscriptStore
	MockPool    MockPoolStore
	Images      ImageGenerator

	TriggerWords     []string
	GroupsStartingID int
	MockPoolSize     int
	MockDelay        time.Duration
	ExternalTimeout  time.Duration
	Logger           zerolog.Logger
}

// ChatService runs a chat turn: resolve the identity, gate the first message, store the prompt,
// answer from the mock pool or the image service, store the answer.
type ChatService struct {
	identities      *IdentityService
	transcripts     TranscriptStore
	gate            *TriggerGate
	router          GenerationRouter
	mocks           *MockSelector
	images          ImageGenerator
	externalTimeout time.Duration
	locks           *keyedMutex
	logger          zerolog.Logger
}

func NewChatService(opts ChatOptions) *ChatService {
	return &ChatService{
		identities:      NewIdentityService(opts.Identities),
		transcripts:     opts.Transcripts,
		gate:            NewTriggerGate(opts.TriggerWords),
		router:          NewGenerationRouter(opts.GroupsStartingID),
		mocks:           NewMockSelector(opts.MockPool, opts.MockPoolSize, opts.MockDelay),
		images:          opts.Images,
		externalTimeout: opts.ExternalTimeout,
		locks:           newKeyedMutex(),
		logger:          opts.Logger,
	}
}

func (s *ChatService) GroupsStartingID() int { return s.router.Start() }

// LoadChat resolves the identity (recording consent) and replays its transcript.
// An empty transcript is answered with a single unsaved init turn.
func (s *ChatService) LoadChat(ctx context.Context, req LoadChatRequest) (*LoadChatResult, error) {
	id, err := s.identities.Resolve(ctx, IdentityInput{
		Name:      req.Name,
		StudentID: req.StudentID,
		Group:     req.Group,
		Member:    req.Member,
		Consent:   req.Consent,
	})
	if err != nil {
		return nil, err
	}
	history, err := s.transcripts.History(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		history = initTranscript()
	}
	return &LoadChatResult{Identity: id, Messages: history}, nil
}

// Chat handles one prompt. Requests for the same (group, member) run one at a time.
// The prompt is stored before any reply; the two writes are not transactional, so a crash in
// between leaves a prompt without a reply.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	unlock := s.locks.Lock(identityKey(req.Group, req.Member))
	defer unlock()

	id, err := s.identities.Resolve(ctx, IdentityInput{
		Name:      req.Name,
		StudentID: req.StudentID,
		Group:     req.Group,
		Member:    req.Member,
	})
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Int64("identity_id", id.ID).Str("group", id.GroupNumber).Str("member", id.Member).Logger()

	started, err := s.transcripts.HasTurns(ctx, id.ID)
	if err != nil {
		return nil, err
	}
	if !started && !s.gate.Admits(req.Prompt) {
		logger.Info().Msg("first message outside task scope")
		return &ChatResult{Outcome: OutcomeScopeRejected, Text: ScopeRejectedMessage}, nil
	}

	if _, err := s.transcripts.AppendText(ctx, id.ID, RoleUser, req.Prompt); err != nil {
		return nil, err
	}

	route := s.router.Route(req.Group)
	logger.Debug().Stringer("route", route).Msg("routing prompt")
	if route == RouteMock {
		return s.answerFromMockPool(ctx, id, req.SeenMockIDs, logger)
	}
	return s.answerFromImageService(ctx, id, req.Prompt)
}

func (s *ChatService) answerFromMockPool(ctx context.Context, id *Identity, seen []int, logger zerolog.Logger) (*ChatResult, error) {
	img, err := s.mocks.Next(ctx, seen)
	if err != nil {
		return nil, err
	}
	if img == nil {
		logger.Warn().Ints("seen", seen).Msg("mock pool has no image to serve")
		if _, err := s.transcripts.AppendText(ctx, id.ID, RoleAssistant, PoolExhaustedMessage); err != nil {
			return nil, err
		}
		return &ChatResult{Outcome: OutcomePoolExhausted, Text: PoolExhaustedMessage}, nil
	}
	if _, err := s.transcripts.AppendImage(ctx, id.ID, RoleAssistant, img.Image); err != nil {
		return nil, err
	}
	return &ChatResult{Outcome: OutcomeMock, MockID: img.Ordinal, Image: img.Image}, nil
}

// answerFromImageService stores the returned URL and then the downloaded bytes as two assistant
// turns; only the bytes go back to the caller.
func (s *ChatService) answerFromImageService(ctx context.Context, id *Identity, prompt string) (*ChatResult, error) {
	if s.images == nil {
		return nil, errors.New("chat service has no image generator")
	}
	extCtx := ctx
	if s.externalTimeout > 0 {
		var cancel context.CancelFunc
		extCtx, cancel = context.WithTimeout(ctx, s.externalTimeout)
		defer cancel()
	}
	gen, err := s.images.Generate(extCtx, prompt)
	if err != nil {
		return nil, upstreamTimeout(err)
	}
	if gen.URL == "" {
		return nil, errors.New("image response carried no url")
	}
	if _, err := s.transcripts.AppendText(ctx, id.ID, RoleAssistant, gen.URL); err != nil {
		return nil, err
	}
	data, err := s.images.Download(extCtx, gen.URL)
	if err != nil {
		return nil, upstreamTimeout(err)
	}
	if _, err := s.transcripts.AppendImage(ctx, id.ID, RoleAssistant, data); err != nil {
		return nil, err
	}
	return &ChatResult{Outcome: OutcomeExternal, Image: data, Raw: gen.Raw}, nil
}

// upstreamTimeout reports an expired external call the same way as an upstream refusal.
func upstreamTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstreamRejectedError(http.StatusGatewayTimeout)
	}
	return err
}
