// Package dispatch turns a parsed request into a response: it resolves the
// path, applies the login gate, serves files from the public root and runs
// the named API endpoints.
package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zzampax/Simple-HTTP/internal/models"
	"github.com/zzampax/Simple-HTTP/internal/route"
	"github.com/zzampax/Simple-HTTP/internal/wire"
)

// TokenCookie is the cookie carrying the session token.
const TokenCookie = "token"

const (
	loginPage    = "login.html"
	notFoundPage = "404.html"
	loginPath    = "/login"
	homePath     = "/"
)

// IdentityStore answers whether a session token is live and whose it is.
type IdentityStore interface {
	Authenticated(token string) bool
	LookupIdentity(token string) (models.Identity, error)
}

// DataStore holds the board: accounts, posts, comments and reactions.
type DataStore interface {
	Login(email, password string) (string, error)
	RevokeToken(token string) error
	ListPosts() ([]models.Post, error)
	ListComments(postID int64) ([]models.Comment, error)
	AddComment(postID int64, email, content string) error
	SetReaction(postID int64, email, kind string) error
	UserReaction(postID int64, email string) (string, error)
	CreatePost(np models.NewPost) (models.Post, error)
}

type Renderer interface {
	Render(text string, vars map[string]string) string
}

// Filesystem is the public root, addressed by directory and resource.
type Filesystem interface {
	Exists(directory, resource string) bool
	Read(directory, resource string) ([]byte, error)
	Write(directory, resource string, data []byte) error
}

type Config struct {
	Identities IdentityStore
	Data       DataStore
	Renderer   Renderer
	Files      Filesystem
	Logger     *zap.Logger
	// OnUpload, when set, is told the size of every stored image.
	OnUpload func(bytes int)
}

type Dispatcher struct {
	ids    IdentityStore
	data   DataStore
	render Renderer
	files  Filesystem
	log    *zap.Logger
	api    *Endpoints

	onUpload func(int)
}

func New(cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		ids:      cfg.Identities,
		data:     cfg.Data,
		render:   cfg.Renderer,
		files:    cfg.Files,
		log:      log,
		onUpload: cfg.OnUpload,
	}
	d.api = d.endpoints()
	return d
}

// call carries what every handler needs about the current request.
type call struct {
	req    *wire.Request
	target route.Target
	authed bool
	ident  models.Identity
}

// Dispatch never fails: collaborator errors come back as 5xx responses.
// Every non-binary body leaves through the template step.
func (d *Dispatcher) Dispatch(req *wire.Request) *wire.Response {
	c := &call{req: req, target: route.Resolve(req.Path)}
	resp := d.route(c)
	return d.finish(resp, c.ident)
}

func (d *Dispatcher) route(c *call) *wire.Response {
	req := c.req
	if token := req.Cookie(TokenCookie); token != "" && d.ids.Authenticated(token) {
		ident, err := d.ids.LookupIdentity(token)
		switch {
		case err == nil:
			c.authed = true
			c.ident = ident
		case errors.Is(err, models.ErrUnknownToken):
		default:
			d.log.Error("identity_lookup_failed", zap.Error(err))
			return wire.Text(http.StatusInternalServerError)
		}
	}

	d.log.Debug("dispatch",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Stringer("class", c.target.Class),
		zap.Bool("authenticated", c.authed))

	if req.MethodKind() == wire.MethodOther {
		return wire.Text(http.StatusMethodNotAllowed)
	}
	if c.target.Class == route.ApiEndpoint {
		return d.api.Serve(c)
	}
	if req.MethodKind() != wire.MethodGet {
		return wire.Text(http.StatusMethodNotAllowed)
	}
	return d.static(c)
}

func (d *Dispatcher) static(c *call) *wire.Response {
	t := c.target
	if !d.files.Exists(t.Directory, t.Resource) {
		return d.notFound(c)
	}

	// Images are served to everyone so the login page can show them.
	if t.Binary {
		data, err := d.files.Read(t.Directory, t.Resource)
		if err != nil {
			d.log.Error("read_asset_failed", zap.String("resource", t.Resource), zap.Error(err))
			return wire.Text(http.StatusInternalServerError)
		}
		resp := wire.NewResponse(http.StatusOK, data)
		resp.Binary = true
		resp.SetHeader("Content-Type", t.ContentType)
		return resp
	}

	isLogin := t.Directory == route.PagesDir && t.Resource == loginPage
	switch {
	case !c.authed && !isLogin:
		return wire.Redirect(loginPath)
	case c.authed && isLogin:
		return wire.Redirect(homePath)
	}

	data, err := d.files.Read(t.Directory, t.Resource)
	if err != nil {
		d.log.Error("read_page_failed", zap.String("resource", t.Resource), zap.Error(err))
		return wire.Text(http.StatusInternalServerError)
	}
	return text(http.StatusOK, t.ContentType, data)
}

func (d *Dispatcher) notFound(c *call) *wire.Response {
	if d.files.Exists(route.PagesDir, notFoundPage) {
		if data, err := d.files.Read(route.PagesDir, notFoundPage); err == nil {
			return text(http.StatusNotFound, "text/html; charset=utf-8", data)
		}
	}
	return wire.Text(http.StatusNotFound)
}

func text(code int, contentType string, body []byte) *wire.Response {
	resp := wire.NewResponse(code, body)
	resp.SetHeader("Content-Type", contentType)
	return resp
}

// finish substitutes the identity into textual bodies. JSON bodies get
// JSON-escaped values so the document stays well formed.
func (d *Dispatcher) finish(resp *wire.Response, ident models.Identity) *wire.Response {
	if resp == nil || resp.Binary || len(resp.Body) == 0 {
		return resp
	}
	vars := ident.Vars()
	if ct, _ := resp.Headers.Get("Content-Type"); strings.HasPrefix(ct, "application/json") {
		vars = jsonEscaped(vars)
	}
	resp.Body = []byte(d.render.Render(string(resp.Body), vars))
	return resp
}

func jsonEscaped(vars map[string]string) map[string]string {
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(b[1 : len(b)-1])
	}
	return out
}
