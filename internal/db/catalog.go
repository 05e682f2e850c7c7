package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	interf "github.com/glkeru/loyalty/rewards/internal/interfaces"
	model "github.com/glkeru/loyalty/rewards/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Каталог наград в mongo, коллекция rewards
type CatalogDB struct {
	mgo  *mongo.Client
	coll *mongo.Collection
}

var _ interf.RewardCatalog = (*CatalogDB)(nil)

func NewCatalogDB(uri string, database string) (*CatalogDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if uri == "" {
		return nil, fmt.Errorf("env REWARDS_MONGO_URI is not set")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	coll := client.Database(database).Collection("rewards")

	return &CatalogDB{client, coll}, nil
}

func (c *CatalogDB) Close(ctx context.Context) error {
	return c.mgo.Disconnect(ctx)
}

func (c *CatalogDB) Get(ctx context.Context, rewardID string) (entry model.RewardCatalogEntry, err error) {
	err = c.coll.FindOne(ctx, bson.M{"id": rewardID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entry, fmt.Errorf("reward %s: %w", rewardID, model.ErrUnknownReward)
	}
	return entry, err
}

func (c *CatalogDB) List(ctx context.Context) ([]model.RewardCatalogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "pointsCost", Value: 1}, {Key: "id", Value: 1}})
	cur, err := c.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []model.RewardCatalogEntry
	for cur.Next(ctx) {
		var e model.RewardCatalogEntry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, cur.Err()
}

// Seed добавляет недостающие записи, существующие не меняет
func (c *CatalogDB) Seed(ctx context.Context, entries []model.RewardCatalogEntry) error {
	for _, e := range entries {
		_, err := c.coll.UpdateOne(ctx,
			bson.M{"id": e.ID},
			bson.M{"$setOnInsert": e},
			options.Update().SetUpsert(true))
		if err != nil {
			return err
		}
	}
	return nil
}
