// Package server exposes the webhook ingress: Telegram and Twilio callbacks,
// webhook registration, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"textllm/internal/channel"
	"textllm/internal/domain"
	"textllm/internal/metrics"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
	serviceName     = "textllm"
)

// Processor dispatches a message and delivers the reply through sender.
type Processor = domain.Processor

// TelegramChannel is the part of *channel.Telegram the ingress needs.
type TelegramChannel interface {
	domain.Sender
	domain.TypingNotifier
	Parse(body []byte) (*domain.InboundMessage, error)
	SetWebhook(ctx context.Context, url string) bool
}

type Server struct {
	addr          string
	publicBaseURL string
	provider      string
	model         string
	dispatcher    Processor
	telegram      TelegramChannel
	whatsapp      *channel.WhatsApp
	metrics       *metrics.Relay
	logger        *slog.Logger
	handler       http.Handler
}

type Config struct {
	Host          string
	Port          int
	PublicBaseURL string // externally visible origin used for Twilio signatures
	Provider      string
	Model         string
	Dispatcher    Processor
	Telegram      TelegramChannel   // nil disables /webhook and /set-webhook
	WhatsApp      *channel.WhatsApp // nil disables /webhook/whatsapp
	Metrics       *metrics.Relay
	Logger        *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRelay(nil)
	}
	s := &Server{
		addr:          fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		provider:      cfg.Provider,
		model:         cfg.Model,
		dispatcher:    cfg.Dispatcher,
		telegram:      cfg.Telegram,
		whatsapp:      cfg.WhatsApp,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Registry().Handler())
	mux.HandleFunc("POST /webhook", s.handleTelegram)
	mux.HandleFunc("POST /webhook/whatsapp", s.handleWhatsApp)
	mux.HandleFunc("POST /set-webhook", s.handleSetWebhook)

	s.handler = s.recoverer(mux)
	return s
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("http server started", "addr", s.addr)

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, message string) {
	writeJSON(rw, status, statusResponse{Status: "error", Message: message})
}

// recoverer turns a handler panic into a generic 500. The panic value is
// logged but never written to the client.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.logger.Error("handler panic",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", p,
					"stack", string(debug.Stack()),
				)
				writeError(rw, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

func (s *Server) handleRoot(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{
		"status":   "running",
		"service":  serviceName,
		"provider": s.provider,
		"model":    s.model,
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, statusResponse{Status: "healthy"})
}

// handleTelegram answers a Telegram webhook update.
func (s *Server) handleTelegram(rw http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		writeError(rw, http.StatusNotFound, "Telegram channel not enabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.Rejected(string(domain.ChannelTelegram), "body")
		writeError(rw, http.StatusBadRequest, "Invalid payload")
		return
	}

	msg, err := s.telegram.Parse(body)
	if err != nil {
		s.logger.Warn("telegram update rejected", "err", err)
		s.metrics.Rejected(string(domain.ChannelTelegram), "invalid_payload")
		writeError(rw, http.StatusBadRequest, "Invalid payload")
		return
	}
	if msg == nil {
		writeJSON(rw, http.StatusOK, statusResponse{Status: "ok", Message: "No text message"})
		return
	}

	// The reply is still delivered if Telegram drops the webhook connection.
	ctx := context.WithoutCancel(r.Context())
	s.telegram.SendTyping(ctx, msg.ChatID)
	if !s.dispatcher.Process(ctx, *msg, s.telegram) {
		writeError(rw, http.StatusInternalServerError, "Failed to send message")
		return
	}
	writeJSON(rw, http.StatusOK, statusResponse{Status: "ok"})
}

// handleWhatsApp answers a Twilio WhatsApp webhook with TwiML. The signature
// is checked before the form is interpreted.
func (s *Server) handleWhatsApp(rw http.ResponseWriter, r *http.Request) {
	if s.whatsapp == nil {
		writeError(rw, http.StatusNotFound, "WhatsApp channel not enabled")
		return
	}

	// Unsigned or unreadable requests all get the same 403, whatever the body holds.
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		s.rejectSignature(rw, "missing signature")
		return
	}
	r.Body = http.MaxBytesReader(rw, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.rejectSignature(rw, "unreadable form: "+err.Error())
		return
	}
	signedURL := s.requestURL(r)
	if !s.whatsapp.Validate(signedURL, r.PostForm, signature) {
		s.rejectSignature(rw, "mismatch for "+signedURL)
		return
	}

	msg, err := s.whatsapp.Parse(r.PostForm)
	if err != nil {
		s.logger.Warn("whatsapp webhook rejected", "err", err)
		s.metrics.Rejected(string(domain.ChannelWhatsApp), "invalid_payload")
		writeError(rw, http.StatusBadRequest, "Invalid payload")
		return
	}
	if msg == nil {
		if err := channel.WriteReply(rw, channel.EmptyMessageReply); err != nil {
			s.logger.Error("whatsapp empty reply failed", "err", err)
		}
		return
	}

	s.dispatcher.Process(context.WithoutCancel(r.Context()), *msg, s.whatsapp.Responder(rw))
}

func (s *Server) rejectSignature(rw http.ResponseWriter, reason string) {
	s.logger.Warn("whatsapp webhook rejected",
		"err", &domain.SignatureError{Channel: domain.ChannelWhatsApp, Reason: reason})
	s.metrics.Rejected(string(domain.ChannelWhatsApp), "signature")
	writeError(rw, http.StatusForbidden, "Invalid Twilio signature")
}

type setWebhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

func (s *Server) handleSetWebhook(rw http.ResponseWriter, r *http.Request) {
	if s.telegram == nil {
		writeError(rw, http.StatusNotFound, "Telegram channel not enabled")
		return
	}

	var req setWebhookRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(rw, http.StatusBadRequest, "Invalid payload")
		return
	}
	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.WebhookURL == "" {
		writeError(rw, http.StatusBadRequest, "webhook_url is required")
		return
	}

	if !s.telegram.SetWebhook(r.Context(), req.WebhookURL) {
		writeError(rw, http.StatusInternalServerError, "Failed to set webhook")
		return
	}
	writeJSON(rw, http.StatusOK, statusResponse{Status: "ok", Message: "Webhook set to: " + req.WebhookURL})
}

// requestURL reconstructs the URL Twilio called. A configured public base
// wins over what the request says, since proxies rewrite scheme and host.
func (s *Server) requestURL(r *http.Request) string {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	if s.publicBaseURL != "" {
		return s.publicBaseURL + uri
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + uri
}
