package httpserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dua-ia/dua-credits/internal/adapter"
	"github.com/dua-ia/dua-credits/internal/catalog"
	"github.com/dua-ia/dua-credits/internal/credits"
)

const (
	defaultMusicModel = "V4_5"
	defaultCoverModel = "V4_5PLUS"
	defaultClipLength = 5

	deductionWarning = "Task created but credit processing incomplete"
)

type gateEndpoint struct {
	server *Server
}

func newGateEndpoint(server *Server) Endpoint {
	return &gateEndpoint{server: server}
}

func (e *gateEndpoint) Name() string { return "gate" }

func (e *gateEndpoint) Routes() []EndpointRoute {
	s := e.server
	return []EndpointRoute{
		{Method: http.MethodPost, Path: "/api/v1/music/generate", Handler: http.HandlerFunc(s.handleMusicGenerate)},
		{Method: http.MethodPost, Path: "/api/v1/music/cover", Handler: http.HandlerFunc(s.handleMusicCover)},
		{Method: http.MethodPost, Path: "/api/v1/music/separate", Handler: http.HandlerFunc(s.handleMusicSeparate)},
		{Method: http.MethodPost, Path: "/api/v1/music/convert-wav", Handler: http.HandlerFunc(s.handleMusicConvertWAV)},
		{Method: http.MethodPost, Path: "/api/v1/music/midi", Handler: http.HandlerFunc(s.handleMusicMIDI)},
		{Method: http.MethodPost, Path: "/api/v1/video/generate", Handler: http.HandlerFunc(s.handleVideoGenerate)},
		{Method: http.MethodPost, Path: "/api/v1/image/generate", Handler: http.HandlerFunc(s.handleImageGenerate)},
		{Method: http.MethodPost, Path: "/api/v1/design/{action}", Handler: http.HandlerFunc(s.handleDesign)},
		{Method: http.MethodPost, Path: "/api/v1/chat", Handler: http.HandlerFunc(s.handleChat)},
	}
}

// Routes with a fixed operation. A renamed catalog entry fails at startup.
var (
	opAddInstrumental = catalog.MustLookup("music_add_instrumental").Name
	opSeparateVocals  = catalog.MustLookup("music_separate_vocals").Name
	opSplitStems      = catalog.MustLookup("music_split_stem_full").Name
	opConvertWAV      = catalog.MustLookup("music_convert_wav").Name
	opGenerateMIDI    = catalog.MustLookup("music_generate_midi").Name
	opChatBasic       = catalog.MustLookup("chat_basic").Name
	opChatAdvanced    = catalog.MustLookup("chat_advanced").Name
)

// taskInput is the client body, forwarded to the vendor as-is.
type taskInput map[string]any

func (in taskInput) str(key string) string {
	v, _ := in[key].(string)
	return strings.TrimSpace(v)
}

func (in taskInput) integer(key string) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	}
	return 0
}

func (in taskInput) flag(key string) bool {
	switch v := in[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

type creditsBlock struct {
	Used          int64  `json:"used"`
	Remaining     *int64 `json:"remaining,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type gateResponse struct {
	Success   bool           `json:"success"`
	TaskID    string         `json:"taskId"`
	Status    string         `json:"status,omitempty"`
	Adapter   string         `json:"adapter"`
	Model     string         `json:"model,omitempty"`
	Operation string         `json:"operation"`
	Output    map[string]any `json:"output,omitempty"`
	Credits   *creditsBlock  `json:"credits,omitempty"`
	Warning   string         `json:"warning,omitempty"`
}

func (s *Server) readInput(w http.ResponseWriter, r *http.Request) (taskInput, bool) {
	in := taskInput{}
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondCode(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return nil, false
	}
	if in == nil {
		in = taskInput{}
	}
	return in, true
}

func (s *Server) invalidChoice(w http.ResponseWriter, code string, err error) {
	s.respondCode(w, http.StatusBadRequest, code, err.Error())
}

func (s *Server) handleMusicGenerate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	model := in.str("model")
	if model == "" {
		model = defaultMusicModel
	}
	op, err := catalog.MusicGenerateOperation(model)
	if err != nil {
		s.invalidChoice(w, "INVALID_MODEL", err)
		return
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindMusic, Operation: op, Model: model, Input: in})
}

func (s *Server) handleMusicCover(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	if in.str("uploadUrl") == "" && in.str("upload_url") == "" {
		s.respondCode(w, http.StatusBadRequest, "INVALID_REQUEST", "missing required field: uploadUrl")
		return
	}
	model := in.str("model")
	if model == "" {
		model = defaultCoverModel
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindMusic, Operation: opAddInstrumental, Model: model, Input: in})
}

func (s *Server) handleMusicSeparate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	var op string
	kind := strings.ToLower(in.str("type"))
	switch kind {
	case "", "separate_vocal":
		kind, op = "separate_vocal", opSeparateVocals
	case "split_stem":
		op = opSplitStems
	default:
		s.respondCode(w, http.StatusBadRequest, "INVALID_TYPE", `type must be "separate_vocal" or "split_stem"`)
		return
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindMusic, Operation: op, Model: kind, Input: in})
}

func (s *Server) handleMusicConvertWAV(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindMusic, Operation: opConvertWAV, Model: "wav", Input: in})
}

func (s *Server) handleMusicMIDI(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindMusic, Operation: opGenerateMIDI, Model: "midi", Input: in})
}

func (s *Server) handleVideoGenerate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	model := in.str("model")
	if model == "" {
		s.respondCode(w, http.StatusBadRequest, "INVALID_MODEL", "model is required")
		return
	}
	duration := in.integer("duration")
	if duration == 0 {
		duration = defaultClipLength
	}
	if duration < 2 || duration > 10 {
		s.respondCode(w, http.StatusBadRequest, "INVALID_DURATION", "duration must be between 2 and 10 seconds")
		return
	}
	op, err := catalog.VideoOperation(model, duration)
	if err != nil {
		s.invalidChoice(w, "INVALID_MODEL", err)
		return
	}
	in["duration"] = duration
	s.runTask(w, r, adapter.Task{Kind: adapter.KindVideo, Operation: op, Model: model, Input: in})
}

func (s *Server) handleImageGenerate(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	quality := strings.ToLower(in.str("quality"))
	op, err := catalog.ImageOperation(quality)
	if err != nil {
		s.invalidChoice(w, "INVALID_QUALITY", err)
		return
	}
	if quality == "" {
		quality = "standard"
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindImage, Operation: op, Model: quality, Input: in})
}

func (s *Server) handleDesign(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	action := chi.URLParam(r, "action")
	op, err := catalog.DesignOperation(action)
	if err != nil {
		s.invalidChoice(w, "INVALID_ACTION", err)
		return
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindDesign, Operation: op, Model: strings.TrimPrefix(op, "design_"), Input: in})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	in, ok := s.readInput(w, r)
	if !ok {
		return
	}
	op := opChatBasic
	if in.flag("advanced") {
		op = opChatAdvanced
	}
	s.runTask(w, r, adapter.Task{Kind: adapter.KindChat, Operation: op, Model: in.str("model"), Input: in})
}

// runTask bills task through the credit gate and writes the response.
func (s *Server) runTask(w http.ResponseWriter, r *http.Request, task adapter.Task) {
	session := sessionFromContext(r.Context())
	if session == nil {
		s.respondCode(w, http.StatusUnauthorized, "UNAUTHORIZED", errMissingCredentials.Error())
		return
	}
	task.UserID = session.user.ID

	md := map[string]any{"kind": string(task.Kind)}
	if task.Model != "" {
		md["model"] = task.Model
	}
	if id := requestID(r); id != "" {
		md["request_id"] = id
	}
	req := credits.Request{UserID: task.UserID, Operation: task.Operation, Metadata: md}

	out, err := credits.Run(r.Context(), s.credits, req, func(ctx context.Context) (adapter.Result, error) {
		vctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
		return s.tasks.Submit(vctx, task)
	})
	if err != nil {
		s.respondRunError(w, r, task.Operation, err)
		return
	}

	resp := gateResponse{
		Success:   true,
		TaskID:    out.Result.TaskID,
		Status:    out.Result.Status,
		Adapter:   out.Result.Adapter,
		Model:     task.Model,
		Operation: task.Operation,
		Output:    out.Result.Output,
	}
	if out.State == credits.StateDeductionFailed {
		resp.Warning = deductionWarning
		s.respondJSON(w, http.StatusOK, resp)
		return
	}

	block := &creditsBlock{Used: out.Deduct.Charged, TransactionID: out.Deduct.TransactionID}
	w.Header().Set("X-Credits-Deducted", strconv.FormatInt(out.Deduct.Charged, 10))
	if !out.Deduct.Free {
		remaining := out.Deduct.NewBalance
		block.Remaining = &remaining
		w.Header().Set("X-Credits-Balance", strconv.FormatInt(remaining, 10))
	}
	resp.Credits = block
	s.respondJSON(w, http.StatusOK, resp)
}
