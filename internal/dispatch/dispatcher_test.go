package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzampax/Simple-HTTP/internal/files"
	"github.com/zzampax/Simple-HTTP/internal/models"
	"github.com/zzampax/Simple-HTTP/internal/tmpl"
	"github.com/zzampax/Simple-HTTP/internal/wire"
)

const liveToken = "tok-1"

type fakeStore struct {
	users     map[string]string
	sessions  map[string]string
	posts     []models.Post
	comments  map[int64][]models.Comment
	reactions map[int64]map[string]string
	revoked   []string
	fail      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]string{"ada@example.com": "pw"},
		sessions:  map[string]string{liveToken: "ada@example.com"},
		posts:     []models.Post{{ID: 1, Title: "first", Comments: []models.Comment{}, Reactions: map[string]int{}}},
		comments:  map[int64][]models.Comment{},
		reactions: map[int64]map[string]string{},
	}
}

func (f *fakeStore) Authenticated(token string) bool {
	_, ok := f.sessions[token]
	return ok
}

func (f *fakeStore) LookupIdentity(token string) (models.Identity, error) {
	email, ok := f.sessions[token]
	if !ok {
		return models.Identity{}, models.ErrUnknownToken
	}
	return models.Identity{Email: email, Token: token}, nil
}

func (f *fakeStore) Login(email, password string) (string, error) {
	if pw, ok := f.users[email]; ok && pw != password {
		return "", models.ErrInvalidCredentials
	}
	f.users[email] = password
	f.sessions["tok-new"] = email
	return "tok-new", nil
}

func (f *fakeStore) RevokeToken(token string) error {
	f.revoked = append(f.revoked, token)
	delete(f.sessions, token)
	return nil
}

func (f *fakeStore) ListPosts() ([]models.Post, error) {
	return f.posts, f.fail
}

func (f *fakeStore) ListComments(postID int64) ([]models.Comment, error) {
	c := f.comments[postID]
	if c == nil {
		c = []models.Comment{}
	}
	return c, f.fail
}

func (f *fakeStore) exists(id int64) bool {
	for _, p := range f.posts {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeStore) AddComment(postID int64, email, content string) error {
	if !f.exists(postID) {
		return models.ErrPostNotFound
	}
	f.comments[postID] = append(f.comments[postID], models.Comment{Email: email, Content: content})
	return nil
}

func (f *fakeStore) SetReaction(postID int64, email, kind string) error {
	if !f.exists(postID) {
		return models.ErrPostNotFound
	}
	if f.reactions[postID] == nil {
		f.reactions[postID] = map[string]string{}
	}
	f.reactions[postID][email] = kind
	return nil
}

func (f *fakeStore) UserReaction(postID int64, email string) (string, error) {
	return f.reactions[postID][email], nil
}

func (f *fakeStore) CreatePost(np models.NewPost) (models.Post, error) {
	p := models.Post{ID: int64(len(f.posts) + 1), Title: np.Title, Content: np.Content, Image: np.Image, Email: np.Email}
	f.posts = append(f.posts, p)
	return p, nil
}

type fixture struct {
	store    *fakeStore
	dir      string
	d        *Dispatcher
	uploaded []int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("pages/index.html", "<p>hello &{email}</p>")
	write("pages/login.html", "<form>login</form>")
	write("pages/about.html", "about &{token}")
	write("pages/404.html", "<h1>lost</h1>")
	write("images/cat.png", "\x89PNG\x00&{email}")
	write("css/site.css", "body{}")

	root, err := files.NewRoot(dir)
	require.NoError(t, err)

	f := &fixture{store: newFakeStore(), dir: dir}
	f.d = New(Config{
		Identities: f.store,
		Data:       f.store,
		Renderer:   tmpl.Renderer{},
		Files:      root,
		OnUpload:   func(n int) { f.uploaded = append(f.uploaded, n) },
	})
	return f
}

func request(method, path, token string, headers []wire.Header, body []byte) *wire.Request {
	req := &wire.Request{Method: method, Path: path, Version: "HTTP/1.1", Body: body}
	if token != "" {
		req.Headers = append(req.Headers, wire.Header{Name: "Cookie", Value: "theme=dark; token=" + token})
	}
	req.Headers = append(req.Headers, headers...)
	return req
}

func header(resp *wire.Response, name string) string {
	v, _ := resp.Headers.Get(name)
	return v
}

func TestDispatch_LoginGate(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("GET", "/login", "", nil, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<form>login</form>", string(resp.Body))
	assert.Equal(t, "text/html; charset=utf-8", header(resp, "Content-Type"))

	resp = f.d.Dispatch(request("GET", "/login", liveToken, nil, nil))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/", header(resp, "Location"))

	resp = f.d.Dispatch(request("GET", "/", "", nil, nil))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/login", header(resp, "Location"))

	resp = f.d.Dispatch(request("GET", "/", "stale", nil, nil))
	assert.Equal(t, "/login", header(resp, "Location"))

	resp = f.d.Dispatch(request("GET", "/css/site.css", "", nil, nil))
	assert.Equal(t, "/login", header(resp, "Location"))
}

func TestDispatch_RendersIdentity(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("GET", "/", liveToken, nil, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<p>hello ada@example.com</p>", string(resp.Body))

	resp = f.d.Dispatch(request("GET", "/about", liveToken, nil, nil))
	assert.Equal(t, "about "+liveToken, string(resp.Body))
}

func TestDispatch_ImagesAreRawAndPublic(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("GET", "/cat.png", "", nil, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Binary)
	assert.Equal(t, "image/png", header(resp, "Content-Type"))
	assert.Equal(t, []byte("\x89PNG\x00&{email}"), resp.Body, "binary bodies are not templated")
}

func TestDispatch_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("GET", "/nope", liveToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "<h1>lost</h1>", string(resp.Body))

	resp = f.d.Dispatch(request("GET", "/missing.png", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.Remove(filepath.Join(f.dir, "pages", "404.html")))
	resp = f.d.Dispatch(request("GET", "/nope", liveToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404 Not Found", string(resp.Body))

	resp = f.d.Dispatch(request("GET", "/api/nothing", liveToken, nil, nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDispatch_Methods(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("DELETE", "/", liveToken, nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/about", liveToken, nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.d.Dispatch(request("GET", "/api/login", "", nil, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAPI_Login(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("POST", "/api/login", "", nil, []byte("email=bob%40example.com&password=s+cret")))
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/", header(resp, "Location"))
	assert.Equal(t, "token=tok-new; Path=/", header(resp, "Set-Cookie"))
	assert.Equal(t, "s cret", f.store.users["bob@example.com"])

	resp = f.d.Dispatch(request("POST", "/api/login", "", nil, []byte("email=ada%40example.com&password=bad")))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/api/login", "", nil, []byte("email=&password=x")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Logout(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("POST", "/api/logout", liveToken, nil, nil))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "token=; Max-Age=0; Path=/", header(resp, "Set-Cookie"))
	assert.Equal(t, []string{liveToken}, f.store.revoked)
	assert.False(t, f.store.Authenticated(liveToken))
}

func TestAPI_Reads(t *testing.T) {
	f := newFixture(t)
	f.store.comments[1] = []models.Comment{{Email: "ada@example.com", Content: "hi"}}

	resp := f.d.Dispatch(request("GET", "/api/posts", "", nil, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", header(resp, "Content-Type"))
	var posts []models.Post
	require.NoError(t, json.Unmarshal(resp.Body, &posts))
	require.Len(t, posts, 1)
	assert.Equal(t, "first", posts[0].Title)

	resp = f.d.Dispatch(request("GET", "/api/comments", "", nil, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), `"hi"`)

	resp = f.d.Dispatch(request("GET", "/api/comments?post_id=7", "", nil, nil))
	assert.Equal(t, "[]", string(resp.Body))

	resp = f.d.Dispatch(request("GET", "/api/comments?post_id=x", "", nil, nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.store.fail = errors.New("disk gone")
	resp = f.d.Dispatch(request("GET", "/api/posts", "", nil, nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPI_Reactions(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("GET", "/api/userreaction?post_id=1", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.d.Dispatch(request("GET", "/api/userreaction?post_id=1", liveToken, nil, nil))
	assert.JSONEq(t, `{"type":null}`, string(resp.Body))

	resp = f.d.Dispatch(request("POST", "/api/reaction", liveToken, nil, []byte("post_id=1&reaction=like")))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.Body))

	resp = f.d.Dispatch(request("GET", "/api/userreaction?post_id=1", liveToken, nil, nil))
	assert.JSONEq(t, `{"type":"like"}`, string(resp.Body))

	resp = f.d.Dispatch(request("POST", "/api/reaction", liveToken, nil, []byte("post_id=9&reaction=like")))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/api/reaction", liveToken, nil, []byte("post_id=1")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Comment(t *testing.T) {
	f := newFixture(t)

	resp := f.d.Dispatch(request("POST", "/api/comment", "", nil, []byte("post_id=1&content=hi")))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/api/comment", liveToken, nil, []byte("post_id=1&content=nice+post%21")))
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Len(t, f.store.comments[1], 1)
	assert.Equal(t, "nice post!", f.store.comments[1][0].Content)
	assert.Equal(t, "ada@example.com", f.store.comments[1][0].Email)

	resp = f.d.Dispatch(request("POST", "/api/comment", liveToken, nil, []byte("post_id=2&content=hi")))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/api/comment", liveToken, nil, []byte("post_id=1&content=")))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func uploadBody(boundary string, image []byte) []byte {
	var b bytes.Buffer
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"title\"\r\n\r\nA cat\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"content\"\r\n\r\nlook\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"image\"; filename=\"cat.jpg\"\r\n")
	b.WriteString("Content-Type: image/jpeg\r\n\r\n")
	b.Write(image)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return b.Bytes()
}

func TestAPI_Upload(t *testing.T) {
	f := newFixture(t)
	image := []byte{0xff, 0xd8, 0x00, '\r', '\n', '-', '-', 0xff, 0xd9}
	ct := []wire.Header{{Name: "Content-Type", Value: "multipart/form-data; boundary=XyZ"}}

	resp := f.d.Dispatch(request("POST", "/api/upload", liveToken, ct, uploadBody("XyZ", image)))
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/", header(resp, "Location"))

	require.Len(t, f.store.posts, 2)
	post := f.store.posts[1]
	assert.Equal(t, "A cat", post.Title)
	assert.Equal(t, "look", post.Content)
	assert.Equal(t, "ada@example.com", post.Email)
	assert.NotEqual(t, "cat.jpg", post.Image)
	assert.True(t, strings.HasPrefix(post.Image, "cat-"))
	assert.True(t, strings.HasSuffix(post.Image, ".jpg"))

	stored, err := os.ReadFile(filepath.Join(f.dir, "images", post.Image))
	require.NoError(t, err)
	assert.Equal(t, image, stored)
	assert.Equal(t, []int{len(image)}, f.uploaded)
}

func TestAPI_UploadRejects(t *testing.T) {
	f := newFixture(t)
	ct := []wire.Header{{Name: "Content-Type", Value: "multipart/form-data; boundary=XyZ"}}

	resp := f.d.Dispatch(request("POST", "/api/upload", "", ct, uploadBody("XyZ", []byte{1})))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.d.Dispatch(request("POST", "/api/upload", liveToken, nil, uploadBody("XyZ", []byte{1})))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := []byte("--XyZ\r\nContent-Disposition: form-data; name=\"content\"\r\n\r\nno title\r\n--XyZ--\r\n")
	resp = f.d.Dispatch(request("POST", "/api/upload", liveToken, ct, body))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, f.store.posts, 1)
}

func TestParseForm(t *testing.T) {
	p := parseForm([]byte("a=1+2&b=%zz&c=x%3Dy&&d"))
	v, _ := p.Get("a")
	assert.Equal(t, "1 2", v)
	v, _ = p.Get("b")
	assert.Equal(t, "%zz", v)
	v, _ = p.Get("c")
	assert.Equal(t, "x=y", v)
	_, ok := p.Get("d")
	assert.True(t, ok)
}

func TestDispatch_RendersAPIBodies(t *testing.T) {
	f := newFixture(t)
	f.store.posts[0].Title = "by &{email} <b>"
	f.store.sessions["tok-q"] = `o"hara@example.com`

	resp := f.d.Dispatch(request("GET", "/api/posts", liveToken, nil, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(resp.Body), `&`)
	var posts []models.Post
	require.NoError(t, json.Unmarshal(resp.Body, &posts))
	assert.Equal(t, "by ada@example.com <b>", posts[0].Title)

	resp = f.d.Dispatch(request("GET", "/api/posts", "tok-q", nil, nil))
	require.NoError(t, json.Unmarshal(resp.Body, &posts), "substituted values stay JSON-escaped: %s", resp.Body)
	assert.Equal(t, `by o"hara@example.com <b>`, posts[0].Title)

	resp = f.d.Dispatch(request("GET", "/api/posts", "", nil, nil))
	require.NoError(t, json.Unmarshal(resp.Body, &posts))
	assert.Equal(t, "by &{email} <b>", posts[0].Title, "anonymous callers have nothing to substitute")
}

func TestFinish_BinaryFlagSkipsTemplates(t *testing.T) {
	f := newFixture(t)
	ident := models.Identity{Email: "ada@example.com", Token: liveToken}

	raw := wire.NewResponse(http.StatusOK, []byte("&{email}"))
	raw.Binary = true
	assert.Equal(t, "&{email}", string(f.d.finish(raw, ident).Body))

	txt := text(http.StatusOK, "text/css", []byte("/* &{email} */"))
	assert.Equal(t, "/* ada@example.com */", string(f.d.finish(txt, ident).Body))
}
