package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB database. Documents are handed
// out as plain Go values: object ids become hex strings, dates become
// time.Time, nested documents become maps.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to uri and selects database.
func NewMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		return nil, eris.New("mongo: database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx) //nolint:errcheck
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// NewMongoFromDatabase wraps an existing database handle.
func NewMongoFromDatabase(db *mongo.Database) *MongoStore {
	return &MongoStore{client: db.Client(), db: db}
}

func (s *MongoStore) Namespace() string { return s.db.Name() }

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return eris.Wrap(s.client.Disconnect(ctx), "mongo: disconnect")
}

func (s *MongoStore) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, eris.Wrap(err, "mongo: list collections")
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return sortedNames(set), nil
}

func (s *MongoStore) Count(ctx context.Context, coll string, f Filter) (int64, error) {
	if f == nil {
		f = Filter{}
	}
	n, err := s.db.Collection(coll).CountDocuments(ctx, bson.M(f))
	return n, eris.Wrapf(err, "mongo: count %s", coll)
}

func (s *MongoStore) Find(ctx context.Context, coll string, f Filter, opts FindOptions) ([]Doc, error) {
	var out []Doc
	err := s.Each(ctx, coll, f, opts, func(d Doc) error {
		out = append(out, d)
		return nil
	})
	return out, err
}

func (s *MongoStore) Each(ctx context.Context, coll string, f Filter, opts FindOptions, fn func(Doc) error) error {
	fo := options.Find()
	if len(opts.Projection) > 0 {
		proj := bson.D{}
		for _, p := range opts.Projection {
			proj = append(proj, bson.E{Key: p, Value: 1})
		}
		fo.SetProjection(proj)
	}
	if opts.Limit > 0 {
		fo.SetLimit(int64(opts.Limit))
	}
	if f == nil {
		f = Filter{}
	}
	cur, err := s.db.Collection(coll).Find(ctx, bson.M(f), fo)
	if err != nil {
		return eris.Wrapf(err, "mongo: find %s", coll)
	}
	defer cur.Close(ctx) //nolint:errcheck

	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return eris.Wrapf(err, "mongo: decode document in %s", coll)
		}
		d, _ := plain(raw).(Doc)
		if err := fn(d); err != nil {
			return err
		}
	}
	return eris.Wrapf(cur.Err(), "mongo: find %s iterate", coll)
}

func (s *MongoStore) UpsertMany(ctx context.Context, coll string, docs []Doc, keyField, runID string) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		key, err := upsertKey(d, keyField, runID)
		if err != nil {
			return 0, eris.Wrapf(err, "mongo: upsert %s", coll)
		}
		set := merge(nil, d)
		delete(set, "_id")
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{keyField: key, RunIDField: runID}).
			SetUpdate(bson.M{"$set": set}).
			SetUpsert(true))
	}
	if _, err := s.db.Collection(coll).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return 0, eris.Wrapf(err, "mongo: bulk upsert %s", coll)
	}
	return len(docs), nil
}

func (s *MongoStore) InsertOne(ctx context.Context, coll string, doc Doc) (string, error) {
	res, err := s.db.Collection(coll).InsertOne(ctx, doc)
	if err != nil {
		return "", eris.Wrapf(err, "mongo: insert %s", coll)
	}
	return IDString(plain(res.InsertedID)), nil
}

// plain converts decoded BSON values into the JSON-shaped values the rest of
// the pipeline expects.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(Doc, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case map[string]any:
		out := make(Doc, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(Doc, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

// Stats returns the server's collStats summary (count, size, avgObjSize,
// storageSize, nindexes) for a collection.
func (s *MongoStore) Stats(ctx context.Context, coll string) (Doc, error) {
	var raw bson.M
	err := s.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: coll}}).Decode(&raw)
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: collstats %s", coll)
	}
	out := Doc{}
	for _, k := range []string{"count", "size", "avgObjSize", "storageSize", "nindexes"} {
		if v, ok := raw[k]; ok {
			out[k] = plain(v)
		}
	}
	return out, nil
}
