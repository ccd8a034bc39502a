package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongoopts "go.mongodb.org/mongo-driver/mongo/options"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

// ConnectMongo connects and pings. The caller owns the returned client.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is empty")
	}

	clientOpts := mongoopts.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}

// mongoDocument is the collection layout. _id is Document.Key().
type mongoDocument struct {
	ID       string        `bson:"_id"`
	Title    string        `bson:"title"`
	URL      string        `bson:"url"`
	DocType  string        `bson:"doc_type"`
	Metadata mongoMetadata `bson:"metadata"`
	FullText string        `bson:"full_text,omitempty"`
}

type mongoMetadata struct {
	Chamber           string            `bson:"chamber"`
	Dates             map[string]string `bson:"dates,omitempty"`
	CommitteeReferred string            `bson:"committee_referred,omitempty"`
	Parliament        string            `bson:"parliament,omitempty"`
	Session           string            `bson:"session,omitempty"`
	DownloadURL       string            `bson:"download_url"`
	DocID             string            `bson:"doc_id"`
	StoragePath       string            `bson:"storage_path,omitempty"`
}

func toMongo(d domain.Document) mongoDocument {
	return mongoDocument{
		ID:      d.Key(),
		Title:   d.Title,
		URL:     d.URL,
		DocType: string(d.DocType),
		Metadata: mongoMetadata{
			Chamber:           d.Metadata.Chamber,
			Dates:             d.Metadata.Dates,
			CommitteeReferred: d.Metadata.CommitteeReferred,
			Parliament:        d.Metadata.Parliament,
			Session:           d.Metadata.Session,
			DownloadURL:       d.Metadata.DownloadURL,
			DocID:             d.Metadata.DocID,
			StoragePath:       d.Metadata.StoragePath,
		},
		FullText: d.FullText,
	}
}

func (m mongoDocument) toDomain() domain.Document {
	return domain.Document{
		ID:      m.ID,
		Title:   m.Title,
		URL:     m.URL,
		DocType: domain.DocType(m.DocType),
		Metadata: domain.Metadata{
			Chamber:           m.Metadata.Chamber,
			Dates:             m.Metadata.Dates,
			CommitteeReferred: m.Metadata.CommitteeReferred,
			Parliament:        m.Metadata.Parliament,
			Session:           m.Metadata.Session,
			DownloadURL:       m.Metadata.DownloadURL,
			DocID:             m.Metadata.DocID,
			StoragePath:       m.Metadata.StoragePath,
		},
		FullText: m.FullText,
	}
}

// upsertUpdate sets the scraped fields and leaves storage_path and
// full_text alone unless the incoming document carries them.
func upsertUpdate(d domain.Document) bson.M {
	m := toMongo(d)
	set := bson.M{
		"title":                       m.Title,
		"url":                         m.URL,
		"doc_type":                    m.DocType,
		"metadata.chamber":            m.Metadata.Chamber,
		"metadata.dates":              m.Metadata.Dates,
		"metadata.committee_referred": m.Metadata.CommitteeReferred,
		"metadata.parliament":         m.Metadata.Parliament,
		"metadata.session":            m.Metadata.Session,
		"metadata.download_url":       m.Metadata.DownloadURL,
		"metadata.doc_id":             m.Metadata.DocID,
	}
	if m.Metadata.StoragePath != "" {
		set["metadata.storage_path"] = m.Metadata.StoragePath
	}
	if m.FullText != "" {
		set["full_text"] = m.FullText
	}
	return bson.M{"$set": set}
}

// MongoStore is a DocumentStore over one MongoDB collection. Each insert
// batch runs in its own transaction, which needs a replica set or mongos.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	batchSize  int
	ownsClient bool
}

// NewMongoStore uses client for database.collection. When ownsClient is
// set, Close disconnects the client.
func NewMongoStore(client *mongo.Client, database, collection string, batchSize int, ownsClient bool) *MongoStore {
	if batchSize <= 0 {
		batchSize = 150
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		batchSize:  batchSize,
		ownsClient: ownsClient,
	}
}

func (s *MongoStore) InsertMany(ctx context.Context, docs []domain.Document) (port.InsertResult, error) {
	var res port.InsertResult
	var errs []error

	session, err := s.client.StartSession()
	if err != nil {
		return res, fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	for start := 0; start < len(docs); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		end := start + s.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		res.Batches++

		models := make([]mongo.WriteModel, 0, len(batch))
		var invalid error
		for _, doc := range batch {
			if err := ValidateDocument(doc); err != nil {
				invalid = err
				break
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": doc.Key()}).
				SetUpdate(upsertUpdate(doc)).
				SetUpsert(true))
		}
		if invalid != nil {
			res.FailedBatches++
			errs = append(errs, fmt.Errorf("batch %d (documents %d-%d): %w", res.Batches-1, start, end-1, invalid))
			continue
		}

		_, err := session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return s.collection.BulkWrite(sc, models, mongoopts.BulkWrite().SetOrdered(true))
		})
		if err != nil {
			res.FailedBatches++
			errs = append(errs, fmt.Errorf("batch %d (documents %d-%d): %w", res.Batches-1, start, end-1, err))
			continue
		}
		res.Inserted += len(batch)
	}

	return res, errors.Join(errs...)
}

// FetchAll opens a new cursor every time the sequence is ranged over.
func (s *MongoStore) FetchAll(ctx context.Context) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		cur, err := s.collection.Find(ctx, bson.M{}, mongoopts.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			yield(domain.Document{}, fmt.Errorf("failed to query documents: %w", err))
			return
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var m mongoDocument
			if err := cur.Decode(&m); err != nil {
				if !yield(domain.Document{}, fmt.Errorf("failed to decode document: %w", err)) {
					return
				}
				continue
			}
			if !yield(m.toDomain(), nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(domain.Document{}, err)
		}
	}
}

func (s *MongoStore) SetStoragePath(ctx context.Context, key, storagePath string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"metadata.storage_path": storagePath}},
	)
	if err != nil {
		return fmt.Errorf("failed to set storage path for %s: %w", key, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("document not found: %s", key)
	}
	return nil
}

func (s *MongoStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
