package module

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/artpar/docbase/core/attr"
)

// The file sub-protocol layers three methods over update and read. A
// module opts in by registering methods backed by these handlers against
// an attribute declared as a list of FILE.
//
//	Methods: map[string]*module.Method{
//	    "create_file":   {Handler: module.CreateFile, ...},
//	    "delete_file":   {Handler: module.DeleteFile, ...},
//	    "retrieve_file": {Handler: module.RetrieveFile, ...},
//	}

// CreateFile validates a file object and appends it to the named
// FILE-list attribute via an append-operator update. The owning document
// is addressed by the call's query.
func CreateFile(ctx context.Context, c *Core, mod *Module, call *Call) *Result {
	attrName, res := fileAttrName(call)
	if res != nil {
		return res
	}
	elemType, res := fileElemType(mod, attrName)
	if res != nil {
		return res
	}

	raw, _ := call.Doc["file"].(map[string]any)
	if raw == nil {
		return ErrResult(400, CodeMissingAttr, "file object is absent", nil)
	}
	validated, aerr := attr.Validate(attr.Params{
		Name:  attrName,
		Type:  elemType,
		Value: raw,
		Ctx:   c.attrCtx(ctx, call),
	})
	if aerr != nil {
		return attrErrsResult([]*attr.Error{aerr})
	}
	file := validated.(map[string]any)
	if _, present := file["uid"]; !present {
		file["uid"] = uuid.NewString()
	}
	file["upload_time"] = c.rt.Clock.Now().UTC().Format("2006-01-02T15:04:05")

	return c.Call(ctx, mod.Name, "update", &Call{
		Skip:  call.Skip.With(SkipArgs),
		Env:   call.Env,
		Query: call.Query,
		Doc: map[string]any{
			attrName: map[string]any{"$append": file},
		},
	})
}

// DeleteFile removes one file from a FILE-list attribute. The caller
// names both the index and the filename; the handler re-reads the
// document and confirms the name at that index still matches before
// issuing the remove, so a stale index cannot delete the wrong file.
func DeleteFile(ctx context.Context, c *Core, mod *Module, call *Call) *Result {
	attrName, res := fileAttrName(call)
	if res != nil {
		return res
	}
	if _, res := fileElemType(mod, attrName); res != nil {
		return res
	}
	index, ok := toIndex(call.Doc["index"])
	if !ok {
		return ErrResult(400, CodeInvalidAttr, "file index is absent or not an integer", nil)
	}
	claimed, _ := call.Doc["name"].(string)
	if claimed == "" {
		return ErrResult(400, CodeMissingAttr, "file name is absent", nil)
	}

	doc, res := readOne(ctx, c, mod, call)
	if res != nil {
		return res
	}
	files, _ := doc[attrName].([]any)
	if index < 0 || index >= len(files) {
		return notFoundResult(fmt.Sprintf("no file at index %d", index))
	}
	file, _ := files[index].(map[string]any)
	name, _ := file["name"].(string)
	if name != claimed {
		return ErrResult(400, CodeInvalidAttr,
			fmt.Sprintf("file at index %d is %q, not %q", index, name, claimed), nil)
	}

	return c.Call(ctx, mod.Name, "update", &Call{
		Skip:  call.Skip.With(SkipArgs),
		Env:   call.Env,
		Query: call.Query,
		Doc: map[string]any{
			attrName: map[string]any{"$remove": []any{file}},
		},
	})
}

// RetrieveFile reads the owning document, walks a dotted attribute path
// to the file entry matching the requested name, and returns it tagged
// for binary streaming. A "WxH" thumbnail spec scales image content
// best-effort; on any scaling failure the original bytes come back
// unchanged.
func RetrieveFile(ctx context.Context, c *Core, mod *Module, call *Call) *Result {
	attrPath, res := fileAttrName(call)
	if res != nil {
		return res
	}
	segments := strings.Split(attrPath, ".")
	if _, res := fileElemType(mod, segments[0]); res != nil {
		return res
	}
	name, _ := call.Doc["name"].(string)
	if name == "" {
		return ErrResult(400, CodeMissingAttr, "file name is absent", nil)
	}

	doc, res := readOne(ctx, c, mod, call)
	if res != nil {
		return res
	}
	file := findFile(walkPath(doc, segments), name)
	if file == nil {
		return notFoundResult(fmt.Sprintf("no file named %q at %s", name, attrPath))
	}

	out := map[string]any{
		"file":   file,
		"binary": true,
	}
	if spec, _ := call.Doc["thumbnail"].(string); spec != "" {
		if mime, _ := file["type"].(string); strings.HasPrefix(mime, "image/") {
			if content, ok := file["content"].([]byte); ok {
				key := thumbKey(doc["_id"], attrPath, name, spec)
				scaled, cached := c.thumbs.get(mod.Name, key)
				if !cached {
					var err error
					scaled, err = thumbnail(content, spec)
					if err != nil {
						c.rt.Log.Debug().
							Str("module", mod.Name).
							Str("name", name).
							Err(err).
							Msg("thumbnail generation failed; returning original")
						scaled = nil
					} else {
						c.thumbs.put(mod.Name, key, scaled)
					}
				}
				if scaled != nil {
					copied := make(map[string]any, len(file))
					for k, v := range file {
						copied[k] = v
					}
					copied["content"] = scaled
					out["file"] = copied
				}
			}
		}
	}
	return NewResult("file", out)
}

func fileAttrName(call *Call) (string, *Result) {
	name, _ := call.Doc["attr"].(string)
	if name == "" {
		return "", ErrResult(400, CodeMissingAttr, "file attr is absent", nil)
	}
	return name, nil
}

// fileElemType requires the named attribute to be a list of FILE and
// returns the FILE element type.
func fileElemType(mod *Module, name string) (*attr.Type, *Result) {
	t, ok := mod.Attrs[name]
	if !ok || t.Kind != attr.KindList {
		return nil, ErrResult(400, CodeInvalidAttr,
			fmt.Sprintf("attr %q is not a file list", name), nil)
	}
	for _, member := range t.Members() {
		if member.Kind == attr.KindFile {
			return member, nil
		}
	}
	return nil, ErrResult(400, CodeInvalidAttr,
		fmt.Sprintf("attr %q is not a file list", name), nil)
}

// readOne fetches exactly one owning document for a file operation.
func readOne(ctx context.Context, c *Core, mod *Module, call *Call) (map[string]any, *Result) {
	res := c.Call(ctx, mod.Name, "read", &Call{
		Skip:  Skips(SkipPre, SkipOn, SkipPerm, SkipArgs, SkipExtn),
		Env:   &Env{Conn: call.Env.Conn, Realm: call.Env.Realm, privilegesResolved: true},
		Query: mustQuery(call.Query.Steps()...),
	})
	if !res.OK() {
		return nil, res
	}
	docs := res.Docs()
	if len(docs) == 0 {
		return nil, notFoundResult(fmt.Sprintf("no %s documents match", mod.Name))
	}
	if len(docs) > 1 {
		return nil, ErrResult(400, CodeInvalidArgs,
			fmt.Sprintf("%d documents match; file operations need exactly one", len(docs)), nil)
	}
	return docs[0], nil
}

// walkPath descends a dotted path through maps and returns the terminal
// value, which may be a file map or a file list.
func walkPath(doc map[string]any, segments []string) any {
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// findFile locates a file by name in a file map or file list.
func findFile(v any, name string) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		if n, _ := val["name"].(string); n == name {
			return val
		}
	case []any:
		for _, item := range val {
			if file := findFile(item, name); file != nil {
				return file
			}
		}
	}
	return nil
}

func toIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// thumbnail decodes image bytes, scales them to fit a "WxH" box with
// nearest-neighbor sampling, and re-encodes in the source format.
func thumbnail(content []byte, spec string) ([]byte, error) {
	parts := strings.SplitN(spec, "x", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("thumbnail spec %q is not WxH", spec)
	}
	w, werr := strconv.Atoi(parts[0])
	h, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("thumbnail spec %q is not WxH", spec)
	}

	src, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	dst := scale(src, w, h)

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, dst)
	case "gif":
		err = gif.Encode(&buf, dst, nil)
	default:
		err = jpeg.Encode(&buf, dst, nil)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// thumbCacheCap bounds the total number of cached thumbnails across all
// modules.
const thumbCacheCap = 256

// thumbCache keeps recently scaled thumbnails. Scaling is pure over the
// stored bytes, so an entry stays valid until a write touches its
// module. At capacity an arbitrary entry is evicted; the cache is best
// effort and a miss just rescales.
type thumbCache struct {
	mu      sync.Mutex
	limit   int
	count   int
	entries map[string]map[string][]byte
}

func newThumbCache(limit int) *thumbCache {
	return &thumbCache{limit: limit, entries: map[string]map[string][]byte{}}
}

func thumbKey(docID any, attrPath, name, spec string) string {
	return fmt.Sprintf("%v|%s|%s|%s", docID, attrPath, name, spec)
}

func (t *thumbCache) get(module, key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	content, ok := t.entries[module][key]
	return content, ok
}

func (t *thumbCache) put(module, key string, content []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count >= t.limit {
		t.evictLocked()
	}
	byKey, ok := t.entries[module]
	if !ok {
		byKey = map[string][]byte{}
		t.entries[module] = byKey
	}
	if _, exists := byKey[key]; !exists {
		t.count++
	}
	byKey[key] = content
}

func (t *thumbCache) evictLocked() {
	for module, byKey := range t.entries {
		for key := range byKey {
			delete(byKey, key)
			t.count--
			if len(byKey) == 0 {
				delete(t.entries, module)
			}
			return
		}
	}
}

// invalidate drops every thumbnail for a module.
func (t *thumbCache) invalidate(module string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count -= len(t.entries[module])
	delete(t.entries, module)
}

func scale(src image.Image, maxW, maxH int) image.Image {
	bounds := src.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= maxW && srcH <= maxH {
		return src
	}
	w, h := maxW, srcH*maxW/srcW
	if h > maxH {
		w, h = srcW*maxH/srcH, maxH
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, src.At(bounds.Min.X+x*srcW/w, bounds.Min.Y+y*srcH/h))
		}
	}
	return dst
}
