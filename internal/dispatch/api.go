package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zzampax/Simple-HTTP/internal/models"
	"github.com/zzampax/Simple-HTTP/internal/multipart"
	"github.com/zzampax/Simple-HTTP/internal/route"
	"github.com/zzampax/Simple-HTTP/internal/wire"
)

type HandleFunc func(c *call) *wire.Response

type endpoint struct {
	method  wire.MethodKind
	handler HandleFunc
	// auth endpoints answer 401 without a live session.
	auth bool
}

// Endpoints maps the last path segment under /api to its handler.
type Endpoints struct {
	routes map[string][]endpoint
}

func NewEndpoints() *Endpoints {
	return &Endpoints{routes: make(map[string][]endpoint)}
}

func (e *Endpoints) Register(method wire.MethodKind, name string, auth bool, handler HandleFunc) {
	e.routes[name] = append(e.routes[name], endpoint{method: method, handler: handler, auth: auth})
}

// Serve runs the endpoint named by the target: unknown names are 404, known
// names under the wrong method 405.
func (e *Endpoints) Serve(c *call) *wire.Response {
	eps, ok := e.routes[c.target.Resource]
	if !ok {
		return wire.Text(http.StatusNotFound)
	}
	for _, ep := range eps {
		if ep.method != c.req.MethodKind() {
			continue
		}
		if ep.auth && !c.authed {
			return wire.Text(http.StatusUnauthorized)
		}
		return ep.handler(c)
	}
	return wire.Text(http.StatusMethodNotAllowed)
}

func (d *Dispatcher) endpoints() *Endpoints {
	e := NewEndpoints()
	e.Register(wire.MethodGet, "posts", false, d.handlePosts)
	e.Register(wire.MethodGet, "comments", false, d.handleComments)
	e.Register(wire.MethodGet, "userreaction", true, d.handleUserReaction)
	e.Register(wire.MethodPost, "login", false, d.handleLogin)
	e.Register(wire.MethodPost, "logout", false, d.handleLogout)
	e.Register(wire.MethodPost, "comment", true, d.handleComment)
	e.Register(wire.MethodPost, "reaction", true, d.handleReaction)
	e.Register(wire.MethodPost, "upload", true, d.handleUpload)
	return e
}

// jsonResponse leaves '&' unescaped so &{key} placeholders in stored text
// still reach the template step.
func (d *Dispatcher) jsonResponse(code int, v any) *wire.Response {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		d.log.Error("json_encode_failed", zap.Error(err))
		return wire.Text(http.StatusInternalServerError)
	}
	resp := wire.NewResponse(code, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	resp.SetHeader("Content-Type", "application/json")
	return resp
}

func (d *Dispatcher) internalError(op string, err error) *wire.Response {
	d.log.Error("api_failed", zap.String("op", op), zap.Error(err))
	return wire.Text(http.StatusInternalServerError)
}

// postID reads post_id from params. A missing value yields def.
func postID(p route.Params, def int64) (int64, bool) {
	raw, ok := p.Get("post_id")
	if !ok || raw == "" {
		return def, def > 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (d *Dispatcher) handlePosts(c *call) *wire.Response {
	posts, err := d.data.ListPosts()
	if err != nil {
		return d.internalError("list_posts", err)
	}
	return d.jsonResponse(http.StatusOK, posts)
}

func (d *Dispatcher) handleComments(c *call) *wire.Response {
	id, ok := postID(c.target.Query, 1)
	if !ok {
		return wire.Text(http.StatusBadRequest)
	}
	comments, err := d.data.ListComments(id)
	if err != nil {
		return d.internalError("list_comments", err)
	}
	return d.jsonResponse(http.StatusOK, comments)
}

type reactionBody struct {
	Type *string `json:"type"`
}

func (d *Dispatcher) handleUserReaction(c *call) *wire.Response {
	id, ok := postID(c.target.Query, 1)
	if !ok {
		return wire.Text(http.StatusBadRequest)
	}
	kind, err := d.data.UserReaction(id, c.ident.Email)
	if err != nil {
		return d.internalError("user_reaction", err)
	}
	body := reactionBody{}
	if kind != "" {
		body.Type = &kind
	}
	return d.jsonResponse(http.StatusOK, body)
}

func (d *Dispatcher) handleLogin(c *call) *wire.Response {
	form := parseForm(c.req.Body)
	email, _ := form.Get("email")
	password, _ := form.Get("password")
	if strings.TrimSpace(email) == "" || password == "" {
		return wire.Text(http.StatusBadRequest)
	}
	token, err := d.data.Login(email, password)
	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		return wire.Text(http.StatusUnauthorized)
	case err != nil:
		return d.internalError("login", err)
	}
	d.log.Info("user_logged_in", zap.String("email", strings.TrimSpace(email)))
	resp := wire.Redirect(homePath)
	resp.AddHeader("Set-Cookie", TokenCookie+"="+token+"; Path=/")
	return resp
}

func (d *Dispatcher) handleLogout(c *call) *wire.Response {
	if token := c.req.Cookie(TokenCookie); token != "" {
		if err := d.data.RevokeToken(token); err != nil && !errors.Is(err, models.ErrUnknownToken) {
			return d.internalError("logout", err)
		}
	}
	resp := wire.Redirect(homePath)
	resp.AddHeader("Set-Cookie", TokenCookie+"=; Max-Age=0; Path=/")
	return resp
}

func (d *Dispatcher) handleComment(c *call) *wire.Response {
	form := parseForm(c.req.Body)
	id, ok := postID(form, 0)
	if !ok {
		return wire.Text(http.StatusBadRequest)
	}
	content, _ := form.Get("content")
	if strings.TrimSpace(content) == "" {
		return wire.Text(http.StatusBadRequest)
	}
	err := d.data.AddComment(id, c.ident.Email, content)
	switch {
	case errors.Is(err, models.ErrPostNotFound):
		return wire.Text(http.StatusNotFound)
	case err != nil:
		return d.internalError("add_comment", err)
	}
	return wire.Redirect(homePath)
}

func (d *Dispatcher) handleReaction(c *call) *wire.Response {
	form := parseForm(c.req.Body)
	id, ok := postID(form, 0)
	if !ok {
		return wire.Text(http.StatusBadRequest)
	}
	kind, _ := form.Get("reaction")
	if strings.TrimSpace(kind) == "" {
		return wire.Text(http.StatusBadRequest)
	}
	err := d.data.SetReaction(id, c.ident.Email, kind)
	switch {
	case errors.Is(err, models.ErrPostNotFound):
		return wire.Text(http.StatusNotFound)
	case err != nil:
		return d.internalError("set_reaction", err)
	}
	return d.jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
}

func (d *Dispatcher) handleUpload(c *call) *wire.Response {
	ct, _ := c.req.GetHeader("Content-Type")
	boundary, err := multipart.BoundaryFromContentType(ct)
	if err != nil {
		return wire.Text(http.StatusBadRequest)
	}
	parts, err := multipart.Decode(c.req.Body, boundary)
	if err != nil {
		return wire.Text(http.StatusBadRequest)
	}
	up, err := multipart.BuildUpload(parts)
	if err != nil {
		return wire.Text(http.StatusBadRequest)
	}

	if up.ImageName != "" {
		if err := d.files.Write(route.ImagesDir, up.ImageName, up.ImageBytes); err != nil {
			return d.internalError("store_image", err)
		}
		if d.onUpload != nil {
			d.onUpload(len(up.ImageBytes))
		}
	}
	post, err := d.data.CreatePost(models.NewPost{
		Title:   up.Title,
		Content: up.Content,
		Image:   up.ImageName,
		Email:   c.ident.Email,
	})
	if err != nil {
		return d.internalError("create_post", err)
	}
	d.log.Info("post_created",
		zap.Int64("post_id", post.ID),
		zap.String("image", up.ImageName),
		zap.String("email", c.ident.Email))
	return wire.Redirect(homePath)
}
