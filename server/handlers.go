package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/sweetpotato0/chai-tokenizer/catalog"
	"github.com/sweetpotato0/chai-tokenizer/engine"
	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/export"
	"github.com/sweetpotato0/chai-tokenizer/pkg/telemetry"
	"github.com/sweetpotato0/chai-tokenizer/session"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
	"go.opentelemetry.io/otel/trace"
)

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ModelInfo struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Precise bool   `json:"precise"`
}

type TokenizeRequest struct {
	Model       string `json:"model"`
	Mode        string `json:"mode"`
	Input       string `json:"input"`
	Display     string `json:"display"`
	ShowIndices bool   `json:"show_indices"`
}

type TokenizeResponse struct {
	ID          string            `json:"id"`
	Model       string            `json:"model"`
	Mode        engine.Mode       `json:"mode"`
	Degraded    bool              `json:"degraded"`
	Tokens      []tokenizer.Token `json:"tokens"`
	IDs         []int             `json:"ids"`
	Decoded     string            `json:"decoded"`
	TokenCount  int               `json:"token_count"`
	UniqueCount int               `json:"unique_count"`
	Export      string            `json:"export"`
	Annotated   string            `json:"annotated"`
}

type CreateSessionRequest struct {
	Model   string `json:"model"`
	Mode    string `json:"mode"`
	Display string `json:"display"`
}

type SetInputRequest struct {
	Input string `json:"input"`
	// Flush settles the input immediately instead of waiting out the debounce.
	Flush bool `json:"flush"`
}

type SetModelRequest struct {
	Model string `json:"model"`
}

type SetModeRequest struct {
	Mode string `json:"mode"`
}

type SetDisplayRequest struct {
	Display     string `json:"display"`
	ShowIndices *bool  `json:"show_indices,omitempty"`
}

type CopyResponse struct {
	Copied bool   `json:"copied"`
	Export string `json:"export"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	models := catalog.Models()
	data := make([]ModelInfo, 0, len(models))
	for _, m := range models {
		data = append(data, ModelInfo{
			Label:   m.Label,
			Value:   m.Value,
			Precise: s.precise(m.Value),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object":  "list",
		"default": s.defaultModel,
		"data":    data,
	})
}

// precise reports whether model has a real tokenizer without building one
// when the provider can answer from its family table.
func (s *Server) precise(model string) bool {
	if sp, ok := s.provider.(interface{ Supports(string) bool }); ok {
		return sp.Supports(model)
	}
	return s.provider.Resolve(model).Precise()
}

func (s *Server) handleTokenize(c *echo.Context) error {
	req, err := decodeJSON[TokenizeRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}

	mode, display, err := parseModes(req.Mode, req.Display)
	if err != nil {
		return writeError(c, err)
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	id := "tok_" + uuid.NewString()
	_, span := telemetry.Tracer().Start(c.Request().Context(), "server.tokenize", trace.WithAttributes(
		telemetry.RequestIDKey.String(id),
		telemetry.ModelKey.String(model),
		telemetry.ModeKey.String(string(mode)),
	))
	defer span.End()

	opts := append([]session.Option{}, s.sessionOpts...)
	opts = append(opts,
		session.WithID(id),
		session.WithModel(model),
		session.WithMode(mode),
		session.WithDisplay(display),
	)
	sess := session.New(s.provider, opts...)
	defer sess.Close()

	if err := sess.SetShowIndices(req.ShowIndices); err != nil {
		return writeError(c, err)
	}
	if err := sess.SetInput(req.Input); err != nil {
		return writeError(c, err)
	}
	sess.Flush()

	snap := sess.Snapshot()
	span.SetAttributes(telemetry.TokensKey.Int(snap.Result.Count()), telemetry.DegradedKey.Bool(snap.Result.Degraded))
	return c.JSON(http.StatusOK, newTokenizeResponse(snap))
}

func newTokenizeResponse(snap session.Snapshot) TokenizeResponse {
	r := snap.Result
	tokens := r.Tokens
	if tokens == nil {
		tokens = []tokenizer.Token{}
	}
	ids := r.IDs
	if r.Mode == engine.Encode {
		ids = make([]int, 0, len(r.Tokens))
		for _, t := range r.Tokens {
			ids = append(ids, t.ID)
		}
	} else if ids == nil || r.Empty() {
		ids = []int{}
	}
	return TokenizeResponse{
		ID:          snap.ID,
		Model:       r.Model,
		Mode:        r.Mode,
		Degraded:    r.Degraded,
		Tokens:      tokens,
		IDs:         ids,
		Decoded:     r.Decoded,
		TokenCount:  r.Count(),
		UniqueCount: r.Unique(),
		Export:      export.Format(r, snap.State.Display),
		Annotated:   export.Annotated(r, snap.State.Display, snap.State.ShowIndices),
	}
}

func (s *Server) handleCreateSession(c *echo.Context) error {
	req, err := decodeJSON[CreateSessionRequest](c.Request().Body)
	if err != nil {
		return writeError(c, err)
	}
	mode, display, err := parseModes(req.Mode, req.Display)
	if err != nil {
		return writeError(c, err)
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	sess, err := s.sessions.Create(
		session.WithModel(model),
		session.WithMode(mode),
		session.WithDisplay(display),
	)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(c *echo.Context) error {
	if err := s.sessions.Close(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSetInput(c *echo.Context) error {
	return s.withSession(c, func(sess *session.Session) error {
		req, err := decodeJSON[SetInputRequest](c.Request().Body)
		if err != nil {
			return err
		}
		if err := sess.SetInput(req.Input); err != nil {
			return err
		}
		if req.Flush {
			sess.Flush()
		}
		return nil
	})
}

func (s *Server) handleSetModel(c *echo.Context) error {
	return s.withSession(c, func(sess *session.Session) error {
		req, err := decodeJSON[SetModelRequest](c.Request().Body)
		if err != nil {
			return err
		}
		if strings.TrimSpace(req.Model) == "" {
			return fmt.Errorf("%w: model is required", errs.ErrInvalidInput)
		}
		return sess.SetModel(req.Model)
	})
}

func (s *Server) handleSetMode(c *echo.Context) error {
	return s.withSession(c, func(sess *session.Session) error {
		req, err := decodeJSON[SetModeRequest](c.Request().Body)
		if err != nil {
			return err
		}
		mode, err := engine.ParseMode(req.Mode)
		if err != nil {
			return err
		}
		return sess.SetMode(mode)
	})
}

func (s *Server) handleSetDisplay(c *echo.Context) error {
	return s.withSession(c, func(sess *session.Session) error {
		req, err := decodeJSON[SetDisplayRequest](c.Request().Body)
		if err != nil {
			return err
		}
		if req.Display != "" {
			display, err := engine.ParseDisplayMode(req.Display)
			if err != nil {
				return err
			}
			if err := sess.SetDisplay(display); err != nil {
				return err
			}
		}
		if req.ShowIndices != nil {
			return sess.SetShowIndices(*req.ShowIndices)
		}
		return nil
	})
}

func (s *Server) handleCopy(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	copied := sess.Copy(c.Request().Context())
	resp := CopyResponse{Copied: copied}
	if copied {
		resp.Export = sess.Export()
	}
	return c.JSON(http.StatusOK, resp)
}

// withSession runs fn against the session named in the path and answers
// with its snapshot.
func (s *Server) withSession(c *echo.Context, fn func(*session.Session) error) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	if err := fn(sess); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sess.Snapshot())
}

func parseModes(mode, display string) (engine.Mode, engine.DisplayMode, error) {
	m := engine.Encode
	if mode != "" {
		var err error
		if m, err = engine.ParseMode(mode); err != nil {
			return "", "", err
		}
	}
	d := engine.Badges
	if display != "" {
		var err error
		if d, err = engine.ParseDisplayMode(display); err != nil {
			return "", "", err
		}
	}
	return m, d, nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil && err != io.EOF {
		return out, fmt.Errorf("%w: decode request body: %v", errs.ErrInvalidInput, err)
	}
	return out, nil
}
