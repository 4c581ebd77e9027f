// Package server exposes the pipeline over a WebSocket so a browser can
// request posts and follow the stages as they run.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/scribe/internal/models"
	"github.com/xhad/scribe/pkg/logger"
	"github.com/xhad/scribe/pkg/pipeline"
	"github.com/xhad/scribe/pkg/scraper"
)

// Message types sent to clients.
const (
	TypeStatus = "status"
	TypeStage  = "stage"
	TypeResult = "result"
	TypeError  = "error"
)

// TypeGenerate is the only request type clients send.
const TypeGenerate = "generate"

// Request is a message read from a client.
type Request struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// GenerateOptions are the optional settings of a generate request.
type GenerateOptions struct {
	Custom  string `json:"custom,omitempty"`
	Style   string `json:"style,omitempty"`
	English bool   `json:"english,omitempty"`
}

// Message is a message written to a client.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type StageData struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ResultData struct {
	RunID       string `json:"run_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
	Path        string `json:"path,omitempty"`
}

// Generator runs the pipeline for one input and stores the result.
type Generator interface {
	Generate(ctx context.Context, input string, opts pipeline.Options) (*models.Post, string, error)
}

type Config struct {
	Addr string
	// Defaults applies to every request before its own options.
	Defaults pipeline.Options
	Logger   *slog.Logger
}

type WSServer struct {
	config    Config
	generator Generator
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewWSServer(config Config, generator Generator) (*WSServer, error) {
	if generator == nil {
		return nil, errors.New("server: generator is required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Logger == nil {
		config.Logger = logger.Discard()
	}

	return &WSServer{
		config:    config,
		generator: generator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: config.Logger,
	}, nil
}

// Handler returns the routes served by s.
func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// conn serializes writes; gorilla connections allow one writer at a time.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *slog.Logger
}

func (c *conn) send(msgType, content string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.logger.Debug("error sending message", "type", msgType, "error", err)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// Runs started on this connection stop when the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws, logger: s.logger}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("error reading message", "error", err)
			}
			cancel()
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.send(TypeError, fmt.Sprintf("invalid message: %v", err), nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, req)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, req Request) {
	if req.Type != TypeGenerate {
		c.send(TypeError, fmt.Sprintf("unknown message type %q", req.Type), nil)
		return
	}
	if req.Content == "" {
		c.send(TypeError, "content must contain a URL", nil)
		return
	}

	opts, err := s.options(req.Data)
	if err != nil {
		c.send(TypeError, fmt.Sprintf("invalid options: %v", err), nil)
		return
	}
	opts.Observer = func(e pipeline.Event) {
		data := StageData{
			RunID:     e.RunID,
			Stage:     string(e.Stage),
			Kind:      string(e.Kind),
			ElapsedMS: e.Elapsed.Milliseconds(),
		}
		if e.Err != nil {
			data.Error = e.Err.Error()
		}
		c.send(TypeStage, string(e.Stage), data)
	}

	c.send(TypeStatus, fmt.Sprintf("Processing %s", req.Content), nil)

	post, path, err := s.generator.Generate(ctx, req.Content, opts)
	if err != nil {
		if errors.Is(err, scraper.ErrYouTubeRateLimited) {
			c.send(TypeError, "YouTube has rate-limited this server. Please wait a few hours and try again.", nil)
			return
		}
		if post == nil {
			c.send(TypeError, err.Error(), nil)
			return
		}
		// The post exists but could not be saved; still hand it over.
		c.send(TypeError, fmt.Sprintf("failed to save post: %v", err), nil)
	}

	c.send(TypeResult, post.Body, ResultData{
		RunID:       post.ID,
		Title:       post.Title,
		Description: post.Description,
		Body:        post.Body,
		Path:        path,
	})
}

func (s *WSServer) options(raw json.RawMessage) (pipeline.Options, error) {
	opts := s.config.Defaults
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}

	var req GenerateOptions
	if err := json.Unmarshal(raw, &req); err != nil {
		return opts, err
	}
	if req.Custom != "" {
		opts.Custom = req.Custom
	}
	if req.Style != "" {
		opts.Style = req.Style
	}
	if req.English {
		opts.Translate = true
	}
	return opts, nil
}
