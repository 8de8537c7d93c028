package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CryptoDaily/internal/domain/models"
	"CryptoDaily/internal/domain/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoAssetRepository stores one document per symbol with its dayline embedded.
type MongoAssetRepository struct {
	coll      *mongo.Collection
	opTimeout time.Duration
	health    func(ctx context.Context) error
	close     func(ctx context.Context) error
}

var _ repository.AssetRepository = (*MongoAssetRepository)(nil)

// NewMongoAssetRepository wraps coll. health and close are delegated to the owning client.
func NewMongoAssetRepository(coll *mongo.Collection, opTimeout time.Duration, health, closeFn func(ctx context.Context) error) *MongoAssetRepository {
	return &MongoAssetRepository{coll: coll, opTimeout: opTimeout, health: health, close: closeFn}
}

type stateDoc struct {
	Name    string            `bson:"name"`
	Symbol  string            `bson:"symbol"`
	Dayline []models.DailyBar `bson:"dayline"`
}

func (r *MongoAssetRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *MongoAssetRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, &models.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (r *MongoAssetRepository) Exists(ctx context.Context, symbol string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.coll.CountDocuments(ctx, symbolFilter(symbol), options.Count().SetLimit(1))
	if err != nil {
		return false, &models.StorageError{Op: "exists", Symbol: symbol, Err: err}
	}
	return n > 0, nil
}

func (r *MongoAssetRepository) InsertIfAbsent(ctx context.Context, ref models.AssetRef) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx, symbolFilter(ref.Symbol), insertIfAbsentUpdate(ref), options.UpdateOne().SetUpsert(true))
	if err != nil {
		// A concurrent upsert of the same symbol loses on the unique index.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, &models.StorageError{Op: "insert", Symbol: ref.Symbol, Err: err}
	}
	return res.UpsertedCount == 1, nil
}

func (r *MongoAssetRepository) ListStates(ctx context.Context) ([]models.AssetState, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetProjection(latestBarProjection()))
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	defer cur.Close(ctx)

	var out []models.AssetState
	for cur.Next(ctx) {
		var d stateDoc
		if err := cur.Decode(&d); err != nil {
			return nil, &models.StorageError{Op: "list", Err: fmt.Errorf("decode: %w", err)}
		}
		out = append(out, toState(d))
	}
	if err := cur.Err(); err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (r *MongoAssetRepository) LatestBar(ctx context.Context, symbol string) (*models.DailyBar, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var d stateDoc
	err := r.coll.FindOne(ctx, symbolFilter(symbol), options.FindOne().SetProjection(latestBarProjection())).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrAssetNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "latest", Symbol: symbol, Err: err}
	}
	if len(d.Dayline) == 0 {
		return nil, nil
	}
	b := d.Dayline[len(d.Dayline)-1]
	b.Date = b.Date.UTC()
	return &b, nil
}

func (r *MongoAssetRepository) AppendBars(ctx context.Context, symbol string, bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	if err := checkAscending(bars); err != nil {
		return &models.StorageError{Op: "append", Symbol: symbol, Err: err}
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx, appendFilter(symbol, bars[0].Date), appendUpdate(bars))
	if err != nil {
		return &models.StorageError{Op: "append", Symbol: symbol, Err: err}
	}
	if res.MatchedCount == 0 {
		exists, err := r.Exists(ctx, symbol)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrAssetNotFound
		}
		return models.ErrAppendConflict
	}
	return nil
}

func (r *MongoAssetRepository) GetDayline(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.DailyBar, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Aggregate(ctx, daylinePipeline(symbol, from, to, limit))
	if err != nil {
		return nil, &models.StorageError{Op: "dayline", Symbol: symbol, Err: err}
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, &models.StorageError{Op: "dayline", Symbol: symbol, Err: err}
		}
		return nil, models.ErrAssetNotFound
	}
	var d stateDoc
	if err := cur.Decode(&d); err != nil {
		return nil, &models.StorageError{Op: "dayline", Symbol: symbol, Err: fmt.Errorf("decode: %w", err)}
	}
	for i := range d.Dayline {
		d.Dayline[i].Date = d.Dayline[i].Date.UTC()
	}
	return d.Dayline, nil
}

func (r *MongoAssetRepository) Health(ctx context.Context) error {
	if r.health == nil {
		return nil
	}
	return r.health(ctx)
}

func (r *MongoAssetRepository) Close(ctx context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close(ctx)
}

func symbolFilter(symbol string) bson.D {
	return bson.D{{Key: "symbol", Value: symbol}}
}

func insertIfAbsentUpdate(ref models.AssetRef) bson.D {
	return bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "name", Value: ref.Name},
		{Key: "symbol", Value: ref.Symbol},
		{Key: "dayline", Value: bson.A{}},
	}}}
}

func latestBarProjection() bson.D {
	return bson.D{
		{Key: "_id", Value: 0},
		{Key: "name", Value: 1},
		{Key: "symbol", Value: 1},
		{Key: "dayline", Value: bson.D{{Key: "$slice", Value: -1}}},
	}
}

// appendFilter matches the asset only while no stored bar is on or after first.
func appendFilter(symbol string, first time.Time) bson.D {
	return bson.D{
		{Key: "symbol", Value: symbol},
		{Key: "dayline.date", Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gte", Value: first.UTC()}}}}},
	}
}

func appendUpdate(bars []models.DailyBar) bson.D {
	each := make(bson.A, 0, len(bars))
	for _, b := range bars {
		b.Date = b.Date.UTC()
		each = append(each, b)
	}
	return bson.D{{Key: "$push", Value: bson.D{
		{Key: "dayline", Value: bson.D{{Key: "$each", Value: each}}},
	}}}
}

// daylinePipeline selects bars in [from, to]; limit > 0 keeps only the newest limit bars.
func daylinePipeline(symbol string, from, to time.Time, limit int) mongo.Pipeline {
	var bars interface{} = bson.D{{Key: "$filter", Value: bson.D{
		{Key: "input", Value: "$dayline"},
		{Key: "as", Value: "b"},
		{Key: "cond", Value: bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "$gte", Value: bson.A{"$$b.date", from.UTC()}}},
			bson.D{{Key: "$lte", Value: bson.A{"$$b.date", to.UTC()}}},
		}}}},
	}}}
	if limit > 0 {
		bars = bson.D{{Key: "$slice", Value: bson.A{bars, -limit}}}
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: symbolFilter(symbol)}},
		{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "name", Value: 1},
			{Key: "symbol", Value: 1},
			{Key: "dayline", Value: bars},
		}}},
	}
}

func checkAscending(bars []models.DailyBar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return fmt.Errorf("bars not strictly ascending at %s", bars[i].Date.UTC().Format("2006-01-02"))
		}
	}
	return nil
}

func toState(d stateDoc) models.AssetState {
	s := models.AssetState{Name: d.Name, Symbol: d.Symbol}
	if n := len(d.Dayline); n > 0 {
		t := d.Dayline[n-1].Date.UTC()
		s.LastDate = &t
	}
	return s
}
