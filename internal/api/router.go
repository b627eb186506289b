package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soaringjerry/imagechat/internal/services"
)

const (
	loadChatFailedMessage = "Failed to load chat history"
	serverErrorMessage    = "Server error"
	maxBodyBytes          = 1 << 20
)

// ChatBackend is the part of services.ChatService the HTTP layer needs.
type ChatBackend interface {
	GroupsStartingID() int
	LoadChat(ctx context.Context, req services.LoadChatRequest) (*services.LoadChatResult, error)
	Chat(ctx context.Context, req services.ChatRequest) (*services.ChatResult, error)
}

type Router struct {
	chat ChatBackend
}

func NewRouter(chat ChatBackend) *Router {
	return &Router{chat: chat}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/config", rt.handleConfig)      // GET
	mux.HandleFunc("/api/load-chat", rt.handleLoadChat) // POST
	mux.HandleFunc("/api/chat", rt.handleChat)          // POST
}

// GET /api/config
func (rt *Router) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"GROUPS_STARTING_ID": rt.chat.GroupsStartingID()})
}

type loadChatBody struct {
	Name      flexString `json:"name"`
	StudentID flexString `json:"student_id"`
	Group     flexString `json:"group"`
	Member    flexString `json:"member"`
	Consent   flexString `json:"consent"`
}

type loadChatResponse struct {
	Messages  []services.Turn `json:"messages"`
	Name      string          `json:"name"`
	StudentID string          `json:"student_id"`
	Group     string          `json:"group"`
	Member    string          `json:"member"`
	Consent   string          `json:"consent"`
}

// POST /api/load-chat
func (rt *Router) handleLoadChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	logger := zerolog.Ctx(r.Context())
	var body loadChatBody
	if err := decodeBody(w, r, &body); err != nil {
		logger.Error().Err(err).Msg("load-chat: decode body")
		writeError(w, http.StatusInternalServerError, loadChatFailedMessage)
		return
	}
	res, err := rt.chat.LoadChat(context.WithoutCancel(r.Context()), services.LoadChatRequest{
		Name:      string(body.Name),
		StudentID: string(body.StudentID),
		Group:     string(body.Group),
		Member:    string(body.Member),
		Consent:   string(body.Consent),
	})
	if err != nil {
		logger.Error().Err(err).Msg("load-chat failed")
		writeError(w, http.StatusInternalServerError, loadChatFailedMessage)
		return
	}
	writeJSON(w, http.StatusOK, loadChatResponse{
		Messages:  res.Messages,
		Name:      res.Identity.Name,
		StudentID: res.Identity.StudentID,
		Group:     res.Identity.GroupNumber,
		Member:    res.Identity.Member,
		Consent:   res.Identity.Consent,
	})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatBody struct {
	Message     *chatMessage `json:"message"`
	Group       flexString   `json:"group"`
	Name        flexString   `json:"name"`
	StudentID   flexString   `json:"student_id"`
	Member      flexString   `json:"member"`
	SeenMockIDs []flexString `json:"seen_mock_ids"`
}

// mockReply covers scope rejections, an exhausted pool and mock images; id is null unless an image
// is served. Content is either the text or the image.
type mockReply struct {
	ID      *int            `json:"id"`
	Content any             `json:"content"`
	Raw     json.RawMessage `json:"raw"`
}

type externalReply struct {
	Content services.Image  `json:"content"`
	Raw     json.RawMessage `json:"raw"`
}

var emptyRaw = json.RawMessage(`{}`)

// POST /api/chat
func (rt *Router) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	logger := zerolog.Ctx(r.Context())
	var body chatBody
	if err := decodeBody(w, r, &body); err != nil {
		logger.Error().Err(err).Msg("chat: decode body")
		writeError(w, http.StatusInternalServerError, serverErrorMessage)
		return
	}
	if body.Message == nil {
		logger.Error().Msg("chat: request has no message")
		writeError(w, http.StatusInternalServerError, serverErrorMessage)
		return
	}

	res, err := rt.chat.Chat(context.WithoutCancel(r.Context()), services.ChatRequest{
		Prompt:      body.Message.Content,
		Group:       string(body.Group),
		Name:        string(body.Name),
		StudentID:   string(body.StudentID),
		Member:      string(body.Member),
		SeenMockIDs: ordinals(body.SeenMockIDs),
	})
	if err != nil {
		if se, ok := services.AsServiceError(err); ok && se.Code == services.ErrorUpstreamRejected {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(se.Status)
			_, _ = w.Write([]byte(se.Message))
			return
		}
		logger.Error().Err(err).Msg("chat failed")
		writeError(w, http.StatusInternalServerError, serverErrorMessage)
		return
	}

	switch res.Outcome {
	case services.OutcomeScopeRejected, services.OutcomePoolExhausted:
		writeJSON(w, http.StatusOK, mockReply{Content: res.Text, Raw: emptyRaw})
	case services.OutcomeMock:
		id := res.MockID
		writeJSON(w, http.StatusOK, mockReply{ID: &id, Content: res.Image, Raw: emptyRaw})
	case services.OutcomeExternal:
		raw := res.Raw
		if len(raw) == 0 {
			raw = emptyRaw
		}
		writeJSON(w, http.StatusOK, externalReply{Content: res.Image, Raw: raw})
	default:
		logger.Error().Int("outcome", int(res.Outcome)).Msg("chat: unknown outcome")
		writeError(w, http.StatusInternalServerError, serverErrorMessage)
	}
}

// flexString accepts a JSON string, number or null. Numbers keep their shortest decimal form,
// so 3 and 3.0 both read as "3".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrapf(err, "expected string or number, got %s", b)
	}
	*f = flexString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// ordinals keeps the entries that read as whole numbers.
func ordinals(in []flexString) []int {
	out := make([]int, 0, len(in))
	for _, v := range in {
		if n, err := strconv.Atoi(string(v)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
