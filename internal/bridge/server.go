// Package bridge is the loopback HTTP server the agent calls to drive the
// device: affect display, camera, speech and microphone.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/turtacn/Snowy/internal/affect"
	"github.com/turtacn/Snowy/internal/capability"
	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/internal/resource"
	"github.com/turtacn/Snowy/pkg/consts"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
	"github.com/turtacn/Snowy/pkg/logger"
	"github.com/turtacn/Snowy/pkg/protocol"
)

const maxBodyBytes = 1 << 20

// SpeechSink accepts utterances for asynchronous playback.
type SpeechSink interface {
	Enqueue(u capability.Utterance) bool
}

// Options wires the bridge to its collaborators. Nil providers answer 500.
type Options struct {
	Addr     string
	Affect   *affect.State
	Camera   capability.Camera
	Recorder capability.Recorder
	Speech   SpeechSink
	Sockets  *resource.SocketManager
}

// Server routes requests with chi. Matching is exact on method and path;
// anything else, including a known path with the wrong method, is a 404.
type Server struct {
	opts   Options
	router chi.Router
	log    logger.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	streams  sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = consts.DefaultBridgeAddr
	}
	if opts.Sockets == nil {
		opts.Sockets = resource.NewSocketManager()
	}
	s := &Server{
		opts: opts,
		log:  logger.Component("bridge"),
	}
	r := chi.NewRouter()
	r.Use(s.countRequests)
	r.Use(s.recoverPanics)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	r.Post("/face/show", s.handleFaceShow)
	r.Get("/face", s.handleFaceState)
	r.Get("/face/stream", s.handleFaceStream)
	r.Post("/camera/capture", s.handleCapture)
	r.Post("/tts/speak", s.handleSpeak)
	r.Post("/audio/record", s.handleRecord)
	r.Get("/status", s.handleStatus)
	s.router = r
	return s
}

// Start binds the loopback listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	l, err := s.opts.Sockets.EnsureListener(s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.done = make(chan struct{})
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.srv
	go func() {
		s.log.Info("Bridge listening", "addr", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Bridge server failed", "err", err)
		}
	}()
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop closes open streams, shuts the server down and releases the port.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	done := s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	close(done)
	err := srv.Shutdown(ctx)
	s.streams.Wait()
	s.opts.Sockets.Release(s.opts.Addr)
	s.log.Info("Bridge stopped")
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// countRequests labels every request with its route pattern and final status.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && ww.Status() != http.StatusNotFound {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = r.Method + " " + pattern
			}
		}
		code := ww.Status()
		if code == 0 && websocket.IsWebSocketUpgrade(r) {
			// Hijacked by the upgrader
			code = http.StatusSwitchingProtocols
		} else if code == 0 {
			code = http.StatusOK
		}
		monitor.BridgeRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	})
}

// recoverPanics turns a handler panic into a JSON 500 so the bridge stays up.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				s.log.Error("Bridge handler panicked", "route", r.Method+" "+r.URL.Path, "panic", p)
				writeError(w, http.StatusInternalServerError, fmt.Sprint(p))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found: "+r.Method+" "+r.URL.Path)
}

func (s *Server) handleFaceShow(w http.ResponseWriter, r *http.Request) {
	var req protocol.FaceShowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.State == nil {
		writeError(w, http.StatusBadRequest, "missing field: state")
		return
	}
	if s.opts.Affect == nil {
		writeError(w, http.StatusInternalServerError, "affect display unavailable")
		return
	}

	sig := affect.Parse(*req.State)
	s.opts.Affect.Set(sig)
	s.log.Debug("Affect set by agent", "requested", *req.State, "applied", sig)
	writeJSON(w, http.StatusOK, protocol.FaceShowResponse{OK: true, State: *req.State})
}

func (s *Server) handleFaceState(w http.ResponseWriter, r *http.Request) {
	if s.opts.Affect == nil {
		writeError(w, http.StatusInternalServerError, "affect display unavailable")
		return
	}
	writeJSON(w, http.StatusOK, protocol.FaceStateResponse{
		State:    s.opts.Affect.Current().String(),
		Previous: s.opts.Affect.Previous().String(),
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req protocol.CaptureRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.Camera == nil {
		writeError(w, http.StatusInternalServerError, "camera unavailable")
		return
	}

	useFront := !strings.EqualFold(strings.TrimSpace(req.Camera), "rear")
	img, err := s.opts.Camera.Capture(r.Context(), useFront)
	if err != nil {
		s.log.Warn("Capture failed", "front", useFront, "code", snowyerr.CodeOf(err), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.CaptureResponse{Image: base64.StdEncoding.EncodeToString(img)})
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req protocol.SpeakRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "missing field: text")
		return
	}

	u := capability.Utterance{Text: *req.Text, Pitch: consts.DefaultSpeechPitch, Speed: consts.DefaultSpeechSpeed}
	if req.Pitch != nil {
		u.Pitch = *req.Pitch
	}
	if req.Speed != nil {
		u.Speed = *req.Speed
	}

	if strings.TrimSpace(u.Text) != "" {
		if s.opts.Speech == nil {
			writeError(w, http.StatusInternalServerError, "speech unavailable")
			return
		}
		if !s.opts.Speech.Enqueue(u) {
			writeError(w, http.StatusServiceUnavailable, "speech queue full")
			return
		}
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req protocol.RecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.Recorder == nil {
		writeError(w, http.StatusInternalServerError, "microphone unavailable")
		return
	}

	d := consts.DefaultRecordDuration
	if req.Duration != nil {
		d = time.Duration(*req.Duration) * time.Second
	}
	d = capability.ClampRecordDuration(d)

	clip, err := s.opts.Recorder.Record(r.Context(), d)
	if err != nil {
		s.log.Warn("Recording failed", "duration", d, "code", snowyerr.CodeOf(err), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.RecordResponse{
		Audio:  base64.StdEncoding.EncodeToString(clip.Data),
		Format: clip.Format,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	port := consts.DefaultBridgePort
	if _, p, err := net.SplitHostPort(s.Addr()); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			port = n
		}
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: "ok", Port: port})
}

// decodeBody reads a bounded JSON body into v. An empty body leaves v zeroed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Debug("Bridge response write failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, protocol.ErrorResponse{Error: msg})
}

// Personal.AI order the ending
