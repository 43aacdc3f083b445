package coap

import "strings"

// ResponseWriter accumulates a handler's response. Defer marks a
// separated response (spec.md §5): the engine sends an empty ACK
// immediately and the handler computes the real response out of band,
// later delivering it through AsyncResponse.
type ResponseWriter struct {
	msg      Message
	deferred bool
}

func (w *ResponseWriter) SetCode(c Code)              { w.msg.Code = c }
func (w *ResponseWriter) SetPayload(p []byte)         { w.msg.Payload = p }
func (w *ResponseWriter) AddOption(n OptionNumber, v interface{}) {
	w.msg.Options = append(w.msg.Options, Option{Number: n, Value: v})
}
func (w *ResponseWriter) Defer()          { w.deferred = true }
func (w *ResponseWriter) Deferred() bool  { return w.deferred }
func (w *ResponseWriter) Message() Message { return w.msg }

// Handler serves one CoAP method against one resource node.
type Handler func(w *ResponseWriter, r *Message)

// the seven request methods in catalog order, used to index a node's
// per-method handler vector (spec.md §4.4).
const numMethods = 7

func methodIndex(c Code) (int, bool) {
	if c.Class() != 0 {
		return 0, false
	}
	d := c.Detail()
	if d < 1 || d > numMethods {
		return 0, false
	}
	return int(d - 1), true
}

// Node is one segment of the resource tree: {path-segment, per-method
// handlers, description, first-child, next-sibling} (spec.md §3).
type Node struct {
	Segment     string
	Description string
	handlers    [numMethods]Handler
	firstChild  *Node
	nextSibling *Node
}

// NewNode constructs a leaf node for segment; attach handlers with
// SetHandler before inserting it into a tree.
func NewNode(segment string) *Node {
	return &Node{Segment: segment}
}

// SetHandler installs the handler for method code on n.
func (n *Node) SetHandler(method Code, h Handler) {
	idx, ok := methodIndex(method)
	if !ok {
		return
	}
	n.handlers[idx] = h
}

// HasHandler reports whether n has a handler for method.
func (n *Node) HasHandler(method Code) bool {
	idx, ok := methodIndex(method)
	if !ok {
		return false
	}
	return n.handlers[idx] != nil
}

// HasAnyHandler reports whether n is a "leaf-with-handler" node: at
// least one method handler is non-nil, making it eligible for discovery
// and distinguishing it from an absent path (spec.md §3, §4.4).
func (n *Node) HasAnyHandler() bool {
	for _, h := range n.handlers {
		if h != nil {
			return true
		}
	}
	return false
}

// Tree is the resource tree rooted at an empty-segment node.
type Tree struct {
	Root *Node
}

// NewTree builds an empty resource tree.
func NewTree() *Tree {
	return &Tree{Root: &Node{}}
}

// AddChild appends node to parent's sibling list unless a child with the
// same segment already exists, in which case it is a no-op returning
// false (spec.md §4.4).
func AddChild(parent, node *Node) bool {
	if parent.firstChild == nil {
		parent.firstChild = node
		return true
	}
	sib := parent.firstChild
	for {
		if sib.Segment == node.Segment {
			return false
		}
		if sib.nextSibling == nil {
			break
		}
		sib = sib.nextSibling
	}
	sib.nextSibling = node
	return true
}

// AddBranch adds n1 under parent, n2 under n1, and so on, growing a
// nested path atomically. It returns true only if every link in the
// chain was newly added (no segment collided with an existing child).
func AddBranch(parent *Node, nodes ...*Node) bool {
	ok := true
	cur := parent
	for _, n := range nodes {
		if !AddChild(cur, n) {
			ok = false
			existing := findChild(cur, n.Segment)
			if existing != nil {
				cur = existing
				continue
			}
		}
		cur = n
	}
	return ok
}

func findChild(parent *Node, segment string) *Node {
	for c := parent.firstChild; c != nil; c = c.nextSibling {
		if c.Segment == segment {
			return c
		}
	}
	return nil
}

// Lookup walks from the tree's root along path, matching one segment per
// step. It returns (nil, false) when any step has no matching child.
func (t *Tree) Lookup(path []string) (*Node, bool) {
	cur := t.Root
	for _, seg := range path {
		next := findChild(cur, seg)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Dispatch routes req through t, returning the ResponseWriter the
// matched handler populated (or a synthesized 4.04/4.05 when no handler
// ran). A nil request Code that isn't a request method never reaches a
// handler: callers are expected to have already classified the message.
func Dispatch(t *Tree, req *Message) *ResponseWriter {
	w := &ResponseWriter{msg: Message{Type: responseType(req.Type), Token: req.Token, MessageID: req.MessageID}}

	node, found := t.Lookup(req.Options.PathSegments())
	if !found || !node.HasAnyHandler() {
		w.SetCode(CodeNotFound)
		return w
	}
	if !node.HasHandler(req.Code) {
		w.SetCode(CodeMethodNotAllowed)
		return w
	}

	idx, _ := methodIndex(req.Code)
	node.handlers[idx](w, req)
	return w
}

func responseType(reqType CType) CType {
	if reqType == Confirmable {
		return Acknowledgement
	}
	return NonConfirmable
}

// WriteDiscovery performs the depth-first walk of spec.md §4.4, emitting
// one Link per selected node. The default selector matches any node with
// at least one handler, excluding the root and the well-known/core
// resource itself.
func WriteDiscovery(t *Tree, selector func(n *Node, path []string) bool) []Link {
	if selector == nil {
		selector = DefaultDiscoverySelector
	}
	var links []Link
	var walk func(n *Node, path []string)
	walk = func(n *Node, path []string) {
		if n != t.Root && selector(n, path) {
			links = append(links, Link{
				Target: "/" + strings.Join(path, "/"),
				Attrs:  parseAttrs(n.Description),
			})
		}
		for c := n.firstChild; c != nil; c = c.nextSibling {
			walk(c, append(append([]string(nil), path...), c.Segment))
		}
	}
	walk(t.Root, nil)
	return links
}

// DefaultDiscoverySelector matches any non-root node carrying a handler,
// excluding /.well-known/core (which describes the tree, not a member of
// it).
func DefaultDiscoverySelector(n *Node, path []string) bool {
	if !n.HasAnyHandler() {
		return false
	}
	return strings.Join(path, "/") != ".well-known/core"
}

// parseAttrs turns a node's raw description ("title=\"clock\"", "rt=temperature")
// into the attribute list a Link carries, reusing the link-format
// attribute grammar of spec.md §4.4.
func parseAttrs(desc string) []LinkAttr {
	if desc == "" {
		return nil
	}
	link, err := parseLinkEntry("<>;" + desc)
	if err != nil {
		return nil
	}
	return link.Attrs
}

// WellKnownCoreHandler builds the GET handler for /.well-known/core,
// rendering the tree's discovery document as the response payload.
func WellKnownCoreHandler(t *Tree, selector func(n *Node, path []string) bool) Handler {
	return func(w *ResponseWriter, r *Message) {
		links := WriteDiscovery(t, selector)
		w.SetCode(CodeContent)
		w.AddOption(OptContentFormat, uint32(AppLinkFormat))
		w.SetPayload([]byte(EncodeLinkFormat(links)))
	}
}

// AttachWellKnownCore installs /.well-known/core on t, matching the
// "automatically-produced" framing of spec.md §2's discovery component.
func AttachWellKnownCore(t *Tree, selector func(n *Node, path []string) bool) {
	wellKnown := NewNode(".well-known")
	core := NewNode("core")
	core.SetHandler(CodeGET, WellKnownCoreHandler(t, selector))
	AddBranch(t.Root, wellKnown, core)
}
