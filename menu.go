package access

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MenuEntry is a visible level-1 node and its visible children.
type MenuEntry struct {
	Node     *MenuNode   `json:"node"`
	Children []*MenuNode `json:"children,omitempty"`
}

// VisibleMenu filters nodes for principal. Only active nodes flagged for the
// menu are considered. Level-1 nodes are kept when Decide allows them, and
// level-2 nodes are attached only under a surviving parent. Output is ordered
// by rank, then by insertion sequence.
func VisibleMenu(nodes []*MenuNode, principal *Principal) []MenuEntry {
	ordered := sortNodes(nodes)

	entries := make([]MenuEntry, 0, len(ordered))
	index := make(map[string]int, len(ordered))
	for _, n := range ordered {
		if n.Level != MenuLevelTop || !n.Active || !n.ShowInMenu {
			continue
		}
		if !Decide(n.Policy(), principal).Allowed() {
			continue
		}
		index[n.Name] = len(entries)
		entries = append(entries, MenuEntry{Node: n})
	}

	for _, n := range ordered {
		if n.Level != MenuLevelChild || !n.Active || !n.ShowInMenu {
			continue
		}
		i, ok := index[n.Parent]
		if !ok {
			continue
		}
		if !Decide(n.Policy(), principal).Allowed() {
			continue
		}
		entries[i].Children = append(entries[i].Children, n)
	}

	return entries
}

func sortNodes(nodes []*MenuNode) []*MenuNode {
	out := make([]*MenuNode, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	slices.SortStableFunc(out, func(a, b *MenuNode) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.Seq, b.Seq))
	})
	return out
}

// NormalizePolicy trims and dedupes the role and permission sets and maps
// level aliases to their canonical value.
func NormalizePolicy(p AccessPolicy) AccessPolicy {
	level, _ := ParseAccessLevel(string(p.AccessLevel))
	return AccessPolicy{
		AccessLevel:         level,
		RequiredRoles:       normalizeTags(p.RequiredRoles),
		RequiredPermissions: normalizeTags(p.RequiredPermissions),
		IsPublic:            p.IsPublic,
	}
}

func normalizeTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

type catalogSnapshot struct {
	nodes  []*MenuNode
	byName map[string]*MenuNode
}

// Catalog is the in-memory resource table. Reads use an immutable snapshot
// that is replaced after every administrative write.
type Catalog struct {
	store    MenuStore
	snapshot atomic.Pointer[catalogSnapshot]
	now      func() time.Time
	activity ActivitySink
	logger   Logger
}

// CatalogOption customizes catalog construction.
type CatalogOption func(*Catalog)

// WithCatalogClock injects a custom clock (useful for tests).
func WithCatalogClock(clock func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithCatalogActivitySink sets the sink used to publish policy changes.
func WithCatalogActivitySink(sink ActivitySink) CatalogOption {
	return func(c *Catalog) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithCatalogLogger overrides the catalog logger.
func WithCatalogLogger(logger Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCatalog creates an empty catalog backed by store. Call Reload to load it.
func NewCatalog(store MenuStore, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		store:    store,
		now:      time.Now,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.snapshot.Store(newSnapshot(nil))
	return c
}

func newSnapshot(nodes []*MenuNode) *catalogSnapshot {
	s := &catalogSnapshot{
		nodes:  sortNodes(nodes),
		byName: make(map[string]*MenuNode, len(nodes)),
	}
	for _, n := range s.nodes {
		s.byName[n.Name] = n
	}
	return s
}

// Reload replaces the snapshot with the current store contents.
func (c *Catalog) Reload(ctx context.Context) error {
	nodes, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	c.snapshot.Store(newSnapshot(nodes))
	c.logger.Debug("catalog reloaded", "nodes", len(nodes))
	return nil
}

// Nodes returns copies of every node in menu order.
func (c *Catalog) Nodes() []*MenuNode {
	snap := c.snapshot.Load()
	out := make([]*MenuNode, len(snap.nodes))
	for i, n := range snap.nodes {
		out[i] = n.Clone()
	}
	return out
}

// Lookup returns a copy of the named node.
func (c *Catalog) Lookup(name string) (*MenuNode, bool) {
	n, ok := c.snapshot.Load().byName[name]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Allowed reports whether principal may reach the named resource. Unknown
// and inactive resources are denied.
func (c *Catalog) Allowed(name string, principal *Principal) bool {
	n, ok := c.snapshot.Load().byName[name]
	if !ok || !n.Active {
		return false
	}
	if n.Level == MenuLevelChild {
		parent, ok := c.snapshot.Load().byName[n.Parent]
		if !ok || !parent.Active {
			return false
		}
	}
	return Decide(n.Policy(), principal).Allowed()
}

// Menu returns the menu tree visible to principal.
func (c *Catalog) Menu(principal *Principal) []MenuEntry {
	return VisibleMenu(c.snapshot.Load().nodes, principal)
}

// UpdateAccessPolicy replaces the policy of the named resource.
func (c *Catalog) UpdateAccessPolicy(ctx context.Context, actor ActorRef, name string, policy AccessPolicy) (*MenuNode, error) {
	node, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	policy = NormalizePolicy(policy)
	if !policy.AccessLevel.Known() {
		return nil, validationError(validation.Errors{
			"access_level": errors.New("unknown access level"),
		}, "invalid access policy")
	}

	before := node.Policy()
	node.SetPolicy(policy)
	node.UpdatedAt = c.now().UTC()

	if err := c.store.Update(ctx, node,
		"access_level", "required_roles", "required_permissions", "is_public", "updated_at"); err != nil {
		return nil, err
	}

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	c.recordActivity(ctx, actor, ActivityEventPolicyUpdated, name, map[string]any{
		"from_level": string(before.AccessLevel),
		"to_level":   string(node.AccessLevel),
	})
	return node, nil
}

// AddNode validates and stores a new node.
func (c *Catalog) AddNode(ctx context.Context, actor ActorRef, node *MenuNode) (*MenuNode, error) {
	if node == nil {
		return nil, ErrInvalidMenuNode
	}
	n := node.Clone()
	n.Name = strings.TrimSpace(n.Name)
	n.Parent = strings.TrimSpace(n.Parent)
	n.SetPolicy(NormalizePolicy(n.Policy()))
	if n.AccessLevel == "" {
		n.AccessLevel = AccessAllUsers
	}

	if err := c.validateNode(n); err != nil {
		return nil, err
	}

	if _, ok := c.snapshot.Load().byName[n.Name]; ok {
		return nil, ErrDuplicateResource
	}

	if n.Level == MenuLevelChild {
		parent, ok := c.snapshot.Load().byName[n.Parent]
		if !ok || parent.Level != MenuLevelTop {
			return nil, fmt.Errorf("parent %q must be an existing level-1 node: %w", n.Parent, ErrInvalidMenuNode)
		}
	} else {
		n.Parent = ""
	}

	now := c.now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now

	if err := c.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	c.recordActivity(ctx, actor, ActivityEventResourceAdded, n.Name, map[string]any{
		"level":  int(n.Level),
		"parent": n.Parent,
	})
	return n, nil
}

// ToggleNode flips the active flag of the named node.
func (c *Catalog) ToggleNode(ctx context.Context, actor ActorRef, name string) (*MenuNode, error) {
	node, err := c.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	node.Active = !node.Active
	node.UpdatedAt = c.now().UTC()
	if err := c.store.Update(ctx, node, "is_active", "updated_at"); err != nil {
		return nil, err
	}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	c.recordActivity(ctx, actor, ActivityEventResourceToggled, name, map[string]any{
		"active": node.Active,
	})
	return node, nil
}

// RemoveNode deletes the named node. Level-1 nodes with children are kept.
func (c *Catalog) RemoveNode(ctx context.Context, actor ActorRef, name string) error {
	for _, n := range c.snapshot.Load().nodes {
		if n.Level == MenuLevelChild && n.Parent == name {
			return ErrResourceHasChildren
		}
	}
	deleted, err := c.store.Delete(ctx, name)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrResourceNotFound
	}
	if err := c.Reload(ctx); err != nil {
		return err
	}
	c.recordActivity(ctx, actor, ActivityEventResourceRemoved, name, nil)
	return nil
}

func (c *Catalog) validateNode(n *MenuNode) error {
	err := validation.ValidateStruct(n,
		validation.Field(&n.Name, validation.Required, validation.RuneLength(1, 64)),
		validation.Field(&n.Level, validation.Required, validation.In(MenuLevelTop, MenuLevelChild)),
		validation.Field(&n.Parent, validation.When(n.Level == MenuLevelChild, validation.Required)),
		validation.Field(&n.AccessLevel, validation.By(func(any) error {
			if !n.AccessLevel.Known() {
				return errors.New("unknown access level")
			}
			return nil
		})),
	)
	return validationError(err, "invalid menu node")
}

func (c *Catalog) recordActivity(ctx context.Context, actor ActorRef, event ActivityEventType, name string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["resource"] = name
	err := normalizeActivitySink(c.activity).Record(ctx, ActivityEvent{
		EventType:  event,
		Actor:      actor,
		Metadata:   meta,
		OccurredAt: c.now().UTC(),
	})
	if err != nil {
		c.logger.Warn("catalog activity sink error", "event", event, "error", err)
	}
}
