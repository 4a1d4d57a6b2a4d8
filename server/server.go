// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Garrettjson/flip-disc/control"
	"github.com/Garrettjson/flip-disc/ingest"
	"github.com/Garrettjson/flip-disc/lib/rbm"
)

// ProducerHeader names the request header carrying the producer ID.
const ProducerHeader = "X-Producer-ID"

// maxFrameBytes bounds an ingest request body: the largest legal
// frame for a 4096x4096 canvas, far beyond any physical wall.
const maxFrameBytes = rbm.HeaderSize + 4096*(4096/8)

// readTimeout bounds header plus payload reads from producers.
const readTimeout = 500 * time.Millisecond

// Server is the HTTP adapter.
type Server struct {
	logger    *slog.Logger
	plane     *control.Plane
	forwarder *ingest.Forwarder
	upgrader  websocket.Upgrader
}

// New returns an HTTP adapter over the plane and forwarder.
func New(logger *slog.Logger, plane *control.Plane, forwarder *ingest.Forwarder) *Server {
	return &Server{
		logger:    logger.With("component", "http"),
		plane:     plane,
		forwarder: forwarder,
		upgrader: websocket.Upgrader{
			// The stats stream is read-only telemetry; any origin may
			// watch it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.health)

	v1 := engine.Group("/v1")
	v1.POST("/ingest/rbm", s.ingestFrame)
	v1.GET("/config", s.getConfig)
	v1.GET("/stats", s.getStats)
	v1.GET("/stats/ws", s.statsStream)
	v1.POST("/fps", s.setFPS)
	v1.GET("/source", s.getSource)
	v1.POST("/source", s.setSource)
	v1.POST("/mode", s.setMode)
	v1.POST("/pattern", s.testPattern)
	v1.POST("/transport/reset", s.resetTransport)

	return engine
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: readTimeout,
	}

	done := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
			return
		}
		done <- nil
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-done:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-done
}

func (s *Server) health(ctx *gin.Context) {
	ctx.String(http.StatusOK, "ok")
}

// ingestFrame accepts an RBM frame body. Validation failures are
// client errors; drops (duplicate, no-token, observed) are successes
// with a JSON body naming the status. Every response carries
// X-Credits; frames the forwarder accepted or dropped also carry
// X-Seq-Ack, and X-Retry-After-MS while a cooldown is advertised.
func (s *Server) ingestFrame(ctx *gin.Context) {
	producerID := ctx.GetHeader(ProducerHeader)
	if producerID == "" {
		producerID = "anonymous"
	}
	ctx.Header("X-Credits", strconv.Itoa(s.forwarder.Credits()))

	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxFrameBytes+1))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "reading frame body"})
		return
	}
	if len(body) > maxFrameBytes {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "frame too large"})
		return
	}

	result, err := s.forwarder.Ingest(body, producerID)
	if err != nil {
		status := http.StatusBadRequest
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.writeCreditHeaders(ctx, result)
	if result.Status == ingest.StatusAccepted {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  string(result.Status),
		"credits": result.Credits,
	})
}

func (s *Server) writeCreditHeaders(ctx *gin.Context, result ingest.Result) {
	ctx.Header("X-Credits", strconv.Itoa(result.Credits))
	ctx.Header("X-Seq-Ack", strconv.FormatUint(uint64(result.SeqAck), 10))
	if result.RetryAfter > 0 {
		ctx.Header("X-Retry-After-MS", strconv.FormatInt(result.RetryAfter.Milliseconds(), 10))
	}
}

func (s *Server) getConfig(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.plane.Config())
}

func (s *Server) getStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, s.plane.Stats())
}

func (s *Server) setFPS(ctx *gin.Context) {
	var request struct {
		FPS int `json:"fps" binding:"required"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.plane.SetFPS(request.FPS); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, s.plane.Config())
}

func (s *Server) getSource(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"producer_id": s.plane.ActiveSource()})
}

func (s *Server) setSource(ctx *gin.Context) {
	var request struct {
		ProducerID string `json:"producer_id"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.plane.SetActiveSource(request.ProducerID)
	ctx.Status(http.StatusNoContent)
}

func (s *Server) setMode(ctx *gin.Context) {
	var request struct {
		Buffered bool `json:"buffered"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.plane.SetBuffered(request.Buffered); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *Server) testPattern(ctx *gin.Context) {
	var request struct {
		Name string `json:"name" binding:"required"`
	}
	if err := ctx.BindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.plane.TestPattern(rbm.TestPattern(request.Name)); err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (s *Server) resetTransport(ctx *gin.Context) {
	if err := s.plane.ResetTransport(); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// statsStream upgrades to a WebSocket and pushes snapshots until the
// client disconnects.
func (s *Server) statsStream(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	snapshots, cancel := s.plane.Subscribe()
	defer cancel()

	// Lead with the current state so dashboards render immediately.
	if err := conn.WriteJSON(s.plane.Stats()); err != nil {
		return
	}

	// Discard inbound messages; their only effect is disconnect
	// detection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for snapshot := range snapshots {
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}
}
