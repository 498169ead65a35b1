// Package mongostore implements the access stores on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	access "github.com/goliatone/go-access"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	principalsCollection = "principals"
	sessionsCollection   = "sessions"
	menuCollection       = "menu_nodes"
	countersCollection   = "counters"
)

// Store holds the collections of one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	principals *PrincipalStore
	sessions   *SessionStore
	menu       *MenuStore
}

// Connect dials uri and binds the stores to database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, access.StoreError("mongo connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, access.StoreError("mongo ping", err)
	}
	return New(client, database), nil
}

// New binds the stores to an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:     client,
		db:         db,
		principals: &PrincipalStore{coll: db.Collection(principalsCollection)},
		sessions:   &SessionStore{coll: db.Collection(sessionsCollection)},
		menu: &MenuStore{
			coll:     db.Collection(menuCollection),
			counters: db.Collection(countersCollection),
		},
	}
}

func (s *Store) Principals() *PrincipalStore { return s.principals }
func (s *Store) Sessions() *SessionStore     { return s.sessions }
func (s *Store) Menu() *MenuStore            { return s.menu }

// EnsureIndexes creates the unique and lookup indexes. It is safe to call
// on every start.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.principals.coll: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uq_principals_email")},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uq_principals_username")},
			{Keys: bson.D{{Key: "email_verified", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_principals_stale")},
		},
		s.sessions.coll: {
			{Keys: bson.D{{Key: "principal_id", Value: 1}}, Options: options.Index().SetName("idx_sessions_principal")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetName("idx_sessions_expires")},
		},
		s.menu.coll: {
			{Keys: bson.D{{Key: "rank", Value: 1}, {Key: "seq", Value: 1}}, Options: options.Index().SetName("idx_menu_nodes_order")},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return access.StoreError("create indexes on "+coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return access.StoreError("mongo ping", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// PrincipalStore implements access.PrincipalStore on a collection.
type PrincipalStore struct {
	coll *mongo.Collection
}

var _ access.PrincipalStore = (*PrincipalStore)(nil)

func (s *PrincipalStore) Insert(ctx context.Context, p *access.Principal) error {
	doc := p.Clone()
	doc.Email = access.NormalizeEmail(doc.Email)
	_, err := s.coll.InsertOne(ctx, doc)
	return principalWriteError("insert principal", err)
}

func (s *PrincipalStore) GetByID(ctx context.Context, id string) (*access.Principal, error) {
	return s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (s *PrincipalStore) GetByEmail(ctx context.Context, email string) (*access.Principal, error) {
	return s.findOne(ctx, bson.D{{Key: "email", Value: access.NormalizeEmail(email)}})
}

func (s *PrincipalStore) GetByUsername(ctx context.Context, username string) (*access.Principal, error) {
	return s.findOne(ctx, bson.D{{Key: "username", Value: username}})
}

func (s *PrincipalStore) findOne(ctx context.Context, filter bson.D) (*access.Principal, error) {
	p := &access.Principal{}
	if err := s.coll.FindOne(ctx, filter).Decode(p); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, access.ErrPrincipalNotFound
		}
		return nil, access.StoreError("find principal", err)
	}
	return p, nil
}

func (s *PrincipalStore) Update(ctx context.Context, p *access.Principal, columns ...string) (*access.Principal, error) {
	set := pick(principalFields(p), columns)

	updated := &access.Principal{}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: p.ID}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, access.ErrPrincipalNotFound
		}
		return nil, principalWriteError("update principal", err)
	}
	return updated, nil
}

func principalFields(p *access.Principal) bson.D {
	return bson.D{
		{Key: "email", Value: access.NormalizeEmail(p.Email)},
		{Key: "username", Value: p.Username},
		{Key: "password_hash", Value: p.PasswordHash},
		{Key: "is_active", Value: p.Active},
		{Key: "email_verified", Value: p.EmailVerified},
		{Key: "is_admin", Value: p.IsAdmin},
		{Key: "roles", Value: p.Roles},
		{Key: "permissions", Value: p.Permissions},
		{Key: "updated_at", Value: p.UpdatedAt},
	}
}

// SetFlags filters on the expected flags so a concurrent status change makes
// the update miss.
func (s *PrincipalStore) SetFlags(ctx context.Context, next *access.Principal, expect access.PrincipalFlags) (*access.Principal, error) {
	updated := &access.Principal{}
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: next.ID},
			{Key: "is_active", Value: expect.Active},
			{Key: "email_verified", Value: expect.EmailVerified},
			{Key: "is_admin", Value: expect.IsAdmin},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "is_active", Value: next.Active},
			{Key: "email_verified", Value: next.EmailVerified},
			{Key: "is_admin", Value: next.IsAdmin},
			{Key: "updated_at", Value: next.UpdatedAt},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(updated)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, access.StoreError("set principal flags", err)
	}

	n, cerr := s.coll.CountDocuments(ctx, bson.D{{Key: "_id", Value: next.ID}})
	if cerr != nil {
		return nil, access.StoreError("set principal flags", cerr)
	}
	if n == 0 {
		return nil, access.ErrPrincipalNotFound
	}
	return nil, access.ErrUpdateConflict
}

func (s *PrincipalStore) MarkVerified(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "email_verified", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "email_verified", Value: true},
			{Key: "is_active", Value: true},
			{Key: "updated_at", Value: at},
		}}},
	)
	if err != nil {
		return false, access.StoreError("mark principal verified", err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *PrincipalStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, access.StoreError("delete principal", err)
	}
	return res.DeletedCount > 0, nil
}

func staleFilter(filter access.StaleFilter) bson.D {
	f := bson.D{
		{Key: "email_verified", Value: false},
		{Key: "created_at", Value: bson.D{{Key: "$lt", Value: filter.Cutoff}}},
	}
	if filter.ExcludeAdmins {
		f = append(f, bson.E{Key: "is_admin", Value: false})
	}
	return f
}

func (s *PrincipalStore) FindStale(ctx context.Context, filter access.StaleFilter, after string, limit int) ([]*access.Principal, error) {
	f := staleFilter(filter)
	if after != "" {
		f = append(f, bson.E{Key: "_id", Value: bson.D{{Key: "$gt", Value: after}}})
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.coll.Find(ctx, f, opts)
	if err != nil {
		return nil, access.StoreError("find stale principals", err)
	}
	var out []*access.Principal
	if err := cur.All(ctx, &out); err != nil {
		return nil, access.StoreError("decode stale principals", err)
	}
	return out, nil
}

func (s *PrincipalStore) DeleteStale(ctx context.Context, id string, filter access.StaleFilter) (bool, error) {
	f := append(bson.D{{Key: "_id", Value: id}}, staleFilter(filter)...)
	res, err := s.coll.DeleteOne(ctx, f)
	if err != nil {
		return false, access.StoreError("delete stale principal", err)
	}
	return res.DeletedCount > 0, nil
}

func searchFilter(filter access.PrincipalFilter) bson.D {
	f := bson.D{}
	if query := strings.TrimSpace(filter.Query); query != "" {
		pattern := bson.Regex{Pattern: regexp.QuoteMeta(query), Options: "i"}
		f = append(f, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "_id", Value: strings.ToLower(query)}},
			bson.D{{Key: "email", Value: pattern}},
			bson.D{{Key: "username", Value: pattern}},
		}})
	}
	if filter.Verified != nil {
		f = append(f, bson.E{Key: "email_verified", Value: *filter.Verified})
	}
	if filter.Admin != nil {
		f = append(f, bson.E{Key: "is_admin", Value: *filter.Admin})
	}
	if filter.Active != nil {
		f = append(f, bson.E{Key: "is_active", Value: *filter.Active})
	}
	created := bson.D{}
	if filter.CreatedAfter != nil {
		created = append(created, bson.E{Key: "$gte", Value: *filter.CreatedAfter})
	}
	if filter.CreatedBefore != nil {
		created = append(created, bson.E{Key: "$lt", Value: *filter.CreatedBefore})
	}
	if len(created) > 0 {
		f = append(f, bson.E{Key: "created_at", Value: created})
	}
	return f
}

func (s *PrincipalStore) Search(ctx context.Context, filter access.PrincipalFilter, page access.Page) ([]*access.Principal, int, error) {
	page = page.Normalize()
	f := searchFilter(filter)

	total, err := s.coll.CountDocuments(ctx, f)
	if err != nil {
		return nil, 0, access.StoreError("count principals", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Size))
	cur, err := s.coll.Find(ctx, f, opts)
	if err != nil {
		return nil, 0, access.StoreError("search principals", err)
	}
	var out []*access.Principal
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, access.StoreError("decode principals", err)
	}
	return out, int(total), nil
}

func (s *PrincipalStore) Count(ctx context.Context, filter access.PrincipalFilter) (int, error) {
	n, err := s.coll.CountDocuments(ctx, searchFilter(filter))
	if err != nil {
		return 0, access.StoreError("count principals", err)
	}
	return int(n), nil
}

func principalWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "uq_principals_email"):
			return access.ErrDuplicateEmail
		case strings.Contains(msg, "uq_principals_username"):
			return access.ErrDuplicateUsername
		}
		return access.ErrUpdateConflict
	}
	return access.StoreError(op, err)
}

// SessionStore implements access.SessionStore on a collection.
type SessionStore struct {
	coll *mongo.Collection
}

var _ access.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Create(ctx context.Context, sess *access.Session) error {
	if _, err := s.coll.InsertOne(ctx, sess); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return access.ErrUpdateConflict
		}
		return access.StoreError("create session", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*access.Session, error) {
	sess := &access.Session{}
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(sess); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, access.ErrSessionNotFound
		}
		return nil, access.StoreError("get session", err)
	}
	return sess, nil
}

func (s *SessionStore) Extend(ctx context.Context, id string, now, deadline time.Time) (bool, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "expires_at", Value: deadline},
			{Key: "last_seen_at", Value: now},
		}}},
	)
	if err != nil {
		return false, access.StoreError("extend session", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return access.StoreError("delete session", err)
	}
	return nil
}

func (s *SessionStore) DeleteByPrincipal(ctx context.Context, principalID string) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "principal_id", Value: principalID}})
	if err != nil {
		return 0, access.StoreError("delete principal sessions", err)
	}
	return int(res.DeletedCount), nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}}})
	if err != nil {
		return 0, access.StoreError("delete expired sessions", err)
	}
	return int(res.DeletedCount), nil
}

// MenuStore implements access.MenuStore. Node names are the document ids
// and Seq comes from a counter document.
type MenuStore struct {
	coll     *mongo.Collection
	counters *mongo.Collection
}

var _ access.MenuStore = (*MenuStore)(nil)

func (s *MenuStore) List(ctx context.Context) ([]*access.MenuNode, error) {
	cur, err := s.coll.Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "rank", Value: 1}, {Key: "seq", Value: 1}}))
	if err != nil {
		return nil, access.StoreError("list menu nodes", err)
	}
	var out []*access.MenuNode
	if err := cur.All(ctx, &out); err != nil {
		return nil, access.StoreError("decode menu nodes", err)
	}
	return out, nil
}

func (s *MenuStore) Get(ctx context.Context, name string) (*access.MenuNode, error) {
	node := &access.MenuNode{}
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(node); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, access.ErrResourceNotFound
		}
		return nil, access.StoreError("get menu node", err)
	}
	return node, nil
}

func (s *MenuStore) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: menuCollection}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: 1}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, access.StoreError("next menu seq", err)
	}
	return counter.Seq, nil
}

func (s *MenuStore) Insert(ctx context.Context, node *access.MenuNode) error {
	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}
	node.Seq = seq
	if _, err := s.coll.InsertOne(ctx, node); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return access.ErrDuplicateResource
		}
		return access.StoreError("insert menu node", err)
	}
	return nil
}

func menuFields(n *access.MenuNode) bson.D {
	return bson.D{
		{Key: "title", Value: n.Title},
		{Key: "path", Value: n.Path},
		{Key: "icon", Value: n.Icon},
		{Key: "description", Value: n.Description},
		{Key: "level", Value: n.Level},
		{Key: "parent", Value: n.Parent},
		{Key: "rank", Value: n.Rank},
		{Key: "show_in_menu", Value: n.ShowInMenu},
		{Key: "is_active", Value: n.Active},
		{Key: "access_level", Value: n.AccessLevel},
		{Key: "required_roles", Value: n.RequiredRoles},
		{Key: "required_permissions", Value: n.RequiredPermissions},
		{Key: "is_public", Value: n.IsPublic},
		{Key: "updated_at", Value: n.UpdatedAt},
	}
}

func (s *MenuStore) Update(ctx context.Context, node *access.MenuNode, columns ...string) error {
	set := pick(menuFields(node), columns)
	res, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: node.Name}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return access.StoreError("update menu node", err)
	}
	if res.MatchedCount == 0 {
		return access.ErrResourceNotFound
	}
	return nil
}

func (s *MenuStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: name}})
	if err != nil {
		return false, access.StoreError("delete menu node", err)
	}
	return res.DeletedCount > 0, nil
}

// pick keeps the named fields, or all of them when columns is empty.
func pick(fields bson.D, columns []string) bson.D {
	if len(columns) == 0 {
		return fields
	}
	out := bson.D{}
	for _, col := range columns {
		for _, f := range fields {
			if f.Key == col {
				out = append(out, f)
			}
		}
	}
	return out
}
